// Package memorycore implements composite-scored retrieval, prompt
// rendering, judging, extraction, genealogy, and statistics over the
// Storage Backend Interface, generalizing the Search/Synthesize/Evolve
// loop the teacher's evolving memory uses into the workspace-scoped,
// error-boosted scheme this service requires.
package memorycore

import (
	"time"

	"mnemo/internal/storage"
)

const (
	weightRelevance = 0.65
	weightRecency   = 0.25
	weightBoost     = 0.10

	errorBoostValue      = 0.15
	evolutionBonusPerStage = 0.01
	evolutionBonusCap      = 0.05

	recencyHorizonDays = 30.0

	candidateMultiplier = 3
)

// Retrieved pairs a memory with its composite score and score components,
// so callers (prompt rendering, tool surface) can explain a ranking.
type Retrieved struct {
	Memory         storage.MemoryItem
	Score          float64
	Relevance      float64
	Recency        float64
	ErrorBoost     float64
	EvolutionBonus float64
}

func compositeScore(m storage.MemoryItem, distance float64, now time.Time, boostErrorWarnings bool) Retrieved {
	relevance := clamp01(1 - distance)

	ageDays := now.Sub(m.CreatedAt.UTC()).Hours() / 24
	recency := 0.0
	if ageDays >= 0 {
		recency = clamp01(1 - ageDays/recencyHorizonDays)
	} else {
		recency = 1
	}

	errorBoost := 0.0
	if m.ErrorContext != nil && boostErrorWarnings {
		errorBoost = errorBoostValue
	}

	evolutionBonus := evolutionBonusPerStage * float64(m.EvolutionStage)
	if evolutionBonus > evolutionBonusCap {
		evolutionBonus = evolutionBonusCap
	}

	score := weightRelevance*relevance + weightRecency*recency + weightBoost*(errorBoost+evolutionBonus)

	return Retrieved{
		Memory:         m,
		Score:          score,
		Relevance:      relevance,
		Recency:        recency,
		ErrorBoost:     errorBoost,
		EvolutionBonus: evolutionBonus,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
