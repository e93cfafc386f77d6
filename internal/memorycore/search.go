package memorycore

import (
	"context"
	"sort"
	"time"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// SearchWeights lets a caller re-weight retrieval away from the fixed
// composite score (spec.md §4.5.1) for exploratory search_knowledge calls.
// Quality approximates a memory's trustworthiness from what it carries: an
// error_context lowers it, evolution stage raises it, mirroring the signals
// compositeScore folds into its own error/evolution term.
type SearchWeights struct {
	Semantic float64
	Quality  float64
	Recency  float64
}

func (w SearchWeights) withDefaults() SearchWeights {
	if w.Semantic == 0 && w.Quality == 0 && w.Recency == 0 {
		return SearchWeights{Semantic: 0.6, Quality: 0.2, Recency: 0.2}
	}
	return w
}

// SearchParams mirrors the search_knowledge tool's inputs (spec.md §6).
type SearchParams struct {
	Query           string
	K               int
	Weights         SearchWeights
	IncludeFailures bool
	DomainFilter    string
	PatternTags     []string
	WorkspaceID     string
}

func qualityOf(m storage.MemoryItem) float64 {
	q := 1.0
	if m.ErrorContext != nil {
		q -= 0.3
	}
	q += evolutionBonusPerStage * float64(m.EvolutionStage)
	return clamp01(q)
}

// Search ranks memories by a caller-supplied semantic/quality/recency weight
// triple instead of the fixed composite weights Retrieve uses.
func (c *Core) Search(ctx context.Context, p SearchParams) ([]Retrieved, error) {
	k := p.K
	if k <= 0 {
		k = 1
	}
	weights := p.Weights.withDefaults()

	vecs, err := c.encoder.EncodeBatch(ctx, []string{p.Query})
	if err != nil {
		return nil, mnemoerr.Wrap(mnemoerr.Embedding, "memorycore: embed query failed", err, nil)
	}

	candidates, err := c.backend.QuerySimilarMemories(ctx, vecs[0], k*candidateMultiplier, storage.SimilarityFilters{
		IncludeFailures: p.IncludeFailures,
		DomainFilter:    p.DomainFilter,
		PatternTags:     p.PatternTags,
	}, p.WorkspaceID)
	if err != nil {
		return nil, mnemoerr.Wrap(mnemoerr.Storage, "memorycore: candidate query failed", err, nil)
	}

	now := time.Now().UTC()
	scored := make([]Retrieved, 0, len(candidates))
	for _, cand := range candidates {
		relevance := clamp01(1 - cand.Distance)
		ageDays := now.Sub(cand.Memory.CreatedAt.UTC()).Hours() / 24
		recency := 1.0
		if ageDays >= 0 {
			recency = clamp01(1 - ageDays/recencyHorizonDays)
		}
		quality := qualityOf(cand.Memory)
		score := weights.Semantic*relevance + weights.Quality*quality + weights.Recency*recency
		scored = append(scored, Retrieved{
			Memory:    cand.Memory,
			Score:     score,
			Relevance: relevance,
			Recency:   recency,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Memory.CreatedAt.Equal(scored[j].Memory.CreatedAt) {
			return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
		}
		return scored[i].Memory.ID < scored[j].Memory.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
