package memorycore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mnemo/internal/storage"
)

func TestCompositeScoreWeighting(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mem := storage.MemoryItem{
		CreatedAt:      now,
		EvolutionStage: 0,
	}

	r := compositeScore(mem, 0, now, false)
	assert.InDelta(t, 1.0, r.Relevance, 0.0001)
	assert.InDelta(t, 1.0, r.Recency, 0.0001)
	assert.Equal(t, 0.0, r.ErrorBoost)
	assert.InDelta(t, 0.65+0.25, r.Score, 0.0001)
}

func TestCompositeScoreErrorBoostRequiresFlag(t *testing.T) {
	now := time.Now().UTC()
	mem := storage.MemoryItem{CreatedAt: now, ErrorContext: &storage.ErrorContext{ErrorType: "x"}}

	withoutFlag := compositeScore(mem, 0, now, false)
	assert.Equal(t, 0.0, withoutFlag.ErrorBoost)

	withFlag := compositeScore(mem, 0, now, true)
	assert.Equal(t, 0.15, withFlag.ErrorBoost)
}

func TestCompositeScoreEvolutionBonusCaps(t *testing.T) {
	now := time.Now().UTC()
	mem := storage.MemoryItem{CreatedAt: now, EvolutionStage: 50}

	r := compositeScore(mem, 0, now, false)
	assert.Equal(t, 0.05, r.EvolutionBonus)
}

func TestCompositeScoreRecencyDecaysToZero(t *testing.T) {
	now := time.Now().UTC()
	mem := storage.MemoryItem{CreatedAt: now.AddDate(0, 0, -60)}

	r := compositeScore(mem, 0, now, false)
	assert.Equal(t, 0.0, r.Recency)
}
