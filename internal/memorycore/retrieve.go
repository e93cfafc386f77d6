package memorycore

import (
	"context"
	"sort"
	"time"

	"mnemo/internal/embedding"
	"mnemo/internal/llmx"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/storage"
)

// RetrievalParams mirrors the retrieve_memories tool's inputs (spec.md §6).
type RetrievalParams struct {
	Query              string
	K                  int
	IncludeFailures    bool
	DomainFilter       string
	PatternTags        []string
	MinScore           float64
	BoostErrorWarnings bool
	WorkspaceID        string
}

// Retrieve runs composite-scored retrieval: fetch 3k candidates from
// storage, score each with relevance/recency/error-boost/evolution-bonus,
// drop anything under MinScore, sort, and truncate to k.
func (c *Core) Retrieve(ctx context.Context, p RetrievalParams) ([]Retrieved, error) {
	log := observability.LoggerWithTrace(ctx)

	k := p.K
	if k <= 0 {
		k = 1
	}

	vecs, err := c.encoder.EncodeBatch(ctx, []string{p.Query})
	if err != nil {
		return nil, mnemoerr.Wrap(mnemoerr.Embedding, "memorycore: embed query failed", err, nil)
	}
	queryVec := vecs[0]

	candidates, err := c.backend.QuerySimilarMemories(ctx, queryVec, k*candidateMultiplier, storage.SimilarityFilters{
		IncludeFailures: p.IncludeFailures,
		DomainFilter:    p.DomainFilter,
		PatternTags:     p.PatternTags,
		MinSimilarity:   0,
	}, p.WorkspaceID)
	if err != nil {
		return nil, mnemoerr.Wrap(mnemoerr.Storage, "memorycore: candidate query failed", err, nil)
	}

	now := time.Now().UTC()
	scored := make([]Retrieved, 0, len(candidates))
	for _, cand := range candidates {
		r := compositeScore(cand.Memory, cand.Distance, now, p.BoostErrorWarnings)
		if r.Score < p.MinScore {
			continue
		}
		scored = append(scored, r)
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

	log.Debug().Int("candidates", len(candidates)).Int("returned", len(scored)).Str("query", p.Query).Msg("memorycore_retrieve")
	return scored, nil
}

// Core is the Memory Core: composite retrieval, prompt rendering, judging,
// extraction, genealogy, and statistics, all workspace-scoped via the
// Storage Backend Interface.
type Core struct {
	backend storage.Backend
	encoder embedding.Encoder
	oracle  LLMCreator
	cfg     Config
}

// LLMCreator is the minimal surface the Memory Core needs from the Cached
// LLM Oracle, kept narrow so tests can stub it without constructing a real
// backend-backed oracle.
type LLMCreator interface {
	Create(ctx context.Context, req llmx.Request) (llmx.Response, error)
}

// Config tunes prompt rendering and judging defaults.
type Config struct {
	JudgeModel      string
	ExtractModel    string
	PromptTokenBudget int
	GenealogyMaxDepth int
}

// New constructs a Memory Core over the given backend, encoder, and oracle.
func New(backend storage.Backend, encoder embedding.Encoder, oracle LLMCreator, cfg Config) *Core {
	if cfg.PromptTokenBudget <= 0 {
		cfg.PromptTokenBudget = 2000
	}
	if cfg.GenealogyMaxDepth <= 0 {
		cfg.GenealogyMaxDepth = 5
	}
	return &Core{backend: backend, encoder: encoder, oracle: oracle, cfg: cfg}
}
