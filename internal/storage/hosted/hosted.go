// Package hosted implements the Storage Backend Interface's relational
// adapter: Postgres with the pgvector extension, following the
// pgxpool/transaction/pgvector.Vector patterns the teacher's memory stores
// use for vector columns and distance queries.
package hosted

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// Adapter is the Postgres + pgvector Storage Backend Interface implementation.
//
// QuerySimilarMemories orders by pgvector's `<=>` cosine-distance operator,
// so SimilarityMetric reports "cosine" like the embedded adapter even
// though the two compute it through entirely different code paths
// (spec.md §9 open question).
type Adapter struct {
	pool *pgxpool.Pool
}

// New opens a hosted adapter against an already-configured pool and ensures
// the schema (tables, HNSW index, FK cascade, updated_at trigger) exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Adapter, error) {
	a := &Adapter{pool: pool}
	if err := a.migrate(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS reasoning_traces (
    id UUID PRIMARY KEY,
    task TEXT NOT NULL,
    trajectory JSONB NOT NULL DEFAULT '[]'::jsonb,
    outcome TEXT NOT NULL,
    parent_trace_id UUID REFERENCES reasoning_traces(id) ON DELETE SET NULL,
    task_embedding vector(384),
    workspace_id TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS reasoning_traces_workspace_idx ON reasoning_traces(workspace_id);
CREATE INDEX IF NOT EXISTS reasoning_traces_created_idx ON reasoning_traces(workspace_id, created_at DESC);

CREATE TABLE IF NOT EXISTS memory_items (
    id UUID PRIMARY KEY,
    trace_id UUID NOT NULL REFERENCES reasoning_traces(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    error_context JSONB,
    pattern_tags TEXT[] NOT NULL DEFAULT '{}',
    difficulty_level TEXT NOT NULL DEFAULT '',
    domain_category TEXT NOT NULL DEFAULT '',
    parent_memory_id UUID REFERENCES memory_items(id) ON DELETE SET NULL,
    derived_from UUID[] NOT NULL DEFAULT '{}',
    evolution_stage INT NOT NULL DEFAULT 0,
    workspace_id TEXT NOT NULL,
    content_embedding vector(384),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS memory_items_workspace_idx ON memory_items(workspace_id);
CREATE INDEX IF NOT EXISTS memory_items_pattern_tags_idx ON memory_items USING GIN(pattern_tags);
CREATE INDEX IF NOT EXISTS memory_items_embedding_hnsw_idx ON memory_items USING hnsw (content_embedding vector_cosine_ops);

CREATE OR REPLACE FUNCTION mnemo_set_updated_at() RETURNS trigger AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS reasoning_traces_set_updated_at ON reasoning_traces;
CREATE TRIGGER reasoning_traces_set_updated_at
    BEFORE UPDATE ON reasoning_traces
    FOR EACH ROW EXECUTE FUNCTION mnemo_set_updated_at();

ALTER TABLE reasoning_traces ENABLE ROW LEVEL SECURITY;
ALTER TABLE memory_items ENABLE ROW LEVEL SECURITY;

DROP POLICY IF EXISTS reasoning_traces_workspace_isolation ON reasoning_traces;
CREATE POLICY reasoning_traces_workspace_isolation ON reasoning_traces
    USING (workspace_id = current_setting('mnemo.workspace_id', true));

DROP POLICY IF EXISTS memory_items_workspace_isolation ON memory_items;
CREATE POLICY memory_items_workspace_isolation ON memory_items
    USING (workspace_id = current_setting('mnemo.workspace_id', true));
`)
	if err != nil {
		return mnemoerr.Wrap(mnemoerr.Storage, "hosted: schema migration failed", err, nil)
	}
	return nil
}

func (a *Adapter) SimilarityMetric() string { return "cosine" }

func (a *Adapter) StoreTrace(ctx context.Context, trace storage.ReasoningTrace, memories []storage.MemoryItem) (string, error) {
	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}

	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", mnemoerr.Wrap(mnemoerr.Storage, "hosted: begin tx failed", err, nil)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	trajBytes, _ := json.Marshal(trace.Trajectory)
	metaBytes, _ := json.Marshal(trace.Metadata)
	var taskVec any
	if len(trace.TaskEmbedding) > 0 {
		taskVec = pgvector.NewVector(trace.TaskEmbedding)
	}

	var parent any
	if trace.ParentTraceID != "" {
		parent = trace.ParentTraceID
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO reasoning_traces (id, task, trajectory, outcome, parent_trace_id, task_embedding, workspace_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		trace.ID, trace.Task, trajBytes, string(trace.Outcome), parent, taskVec, trace.WorkspaceID, metaBytes); err != nil {
		return "", mnemoerr.Wrap(mnemoerr.Storage, "hosted: insert trace failed", err, nil)
	}

	for i := range memories {
		m := memories[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.TraceID = trace.ID
		m.WorkspaceID = trace.WorkspaceID

		var errCtx any
		if m.ErrorContext != nil {
			b, _ := json.Marshal(m.ErrorContext)
			errCtx = b
		}
		var vec any
		if len(m.ContentEmbedding) > 0 {
			vec = pgvector.NewVector(m.ContentEmbedding)
		}
		var parentMem any
		if m.ParentMemoryID != "" {
			parentMem = m.ParentMemoryID
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO memory_items (id, trace_id, title, description, content, error_context, pattern_tags,
    difficulty_level, domain_category, parent_memory_id, derived_from, evolution_stage, workspace_id, content_embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			m.ID, m.TraceID, m.Title, m.Description, m.Content, errCtx, m.PatternTags,
			string(m.DifficultyLevel), m.DomainCategory, parentMem, m.DerivedFrom, m.EvolutionStage, m.WorkspaceID, vec); err != nil {
			return "", mnemoerr.Wrap(mnemoerr.Storage, "hosted: insert memory failed", err, nil)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", mnemoerr.Wrap(mnemoerr.Storage, "hosted: commit failed", err, nil)
	}
	return trace.ID, nil
}

func (a *Adapter) QuerySimilarMemories(ctx context.Context, queryEmbedding []float32, k int, filters storage.SimilarityFilters, workspaceID string) ([]storage.ScoredMemory, error) {
	qvec := pgvector.NewVector(queryEmbedding)

	query := `
SELECT id, trace_id, title, description, content, error_context, pattern_tags, difficulty_level,
    domain_category, parent_memory_id, derived_from, evolution_stage, workspace_id, created_at,
    content_embedding <=> $1 AS distance
FROM memory_items
WHERE workspace_id = $2
  AND ($3 OR error_context IS NULL)
  AND ($4 = '' OR domain_category = $4)
ORDER BY content_embedding <=> $1
LIMIT $5`

	rows, err := a.pool.Query(ctx, query, qvec, workspaceID, filters.IncludeFailures, filters.DomainFilter, k)
	if err != nil {
		return nil, mnemoerr.Wrap(mnemoerr.Storage, "hosted: similarity query failed", err, nil)
	}
	defer rows.Close()

	var out []storage.ScoredMemory
	for rows.Next() {
		m, distance, err := scanMemory(rows, true)
		if err != nil {
			return nil, mnemoerr.Wrap(mnemoerr.Storage, "hosted: scan memory failed", err, nil)
		}
		if len(filters.PatternTags) > 0 && !hasAnyTag(m.PatternTags, filters.PatternTags) {
			continue
		}
		out = append(out, storage.ScoredMemory{Memory: m, Distance: distance})
	}
	return out, rows.Err()
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner, withDistance bool) (storage.MemoryItem, float64, error) {
	var (
		m            storage.MemoryItem
		errCtxBytes  []byte
		difficulty   string
		parentMemory *string
		derivedFrom  []string
		distance     float64
	)
	dest := []any{&m.ID, &m.TraceID, &m.Title, &m.Description, &m.Content, &errCtxBytes, &m.PatternTags,
		&difficulty, &m.DomainCategory, &parentMemory, &derivedFrom, &m.EvolutionStage, &m.WorkspaceID, &m.CreatedAt}
	if withDistance {
		dest = append(dest, &distance)
	}
	if err := r.Scan(dest...); err != nil {
		return storage.MemoryItem{}, 0, err
	}
	m.DifficultyLevel = storage.DifficultyLevel(difficulty)
	m.DerivedFrom = derivedFrom
	if parentMemory != nil {
		m.ParentMemoryID = *parentMemory
	}
	if len(errCtxBytes) > 0 {
		var ec storage.ErrorContext
		if err := json.Unmarshal(errCtxBytes, &ec); err == nil {
			m.ErrorContext = &ec
		}
	}
	return m, distance, nil
}

func (a *Adapter) GetTrace(ctx context.Context, id string) (storage.ReasoningTrace, error) {
	row := a.pool.QueryRow(ctx, `
SELECT id, task, trajectory, outcome, parent_trace_id, task_embedding, workspace_id, metadata, created_at
FROM reasoning_traces WHERE id = $1`, id)

	var (
		t             storage.ReasoningTrace
		trajBytes     []byte
		outcome       string
		parentTraceID *string
		taskVec       *pgvector.Vector
		metaBytes     []byte
	)
	if err := row.Scan(&t.ID, &t.Task, &trajBytes, &outcome, &parentTraceID, &taskVec, &t.WorkspaceID, &metaBytes, &t.Timestamp); err != nil {
		return storage.ReasoningTrace{}, mnemoerr.Wrap(mnemoerr.Storage, fmt.Sprintf("hosted: trace %s not found", id), err, nil)
	}
	t.Outcome = storage.Outcome(outcome)
	if parentTraceID != nil {
		t.ParentTraceID = *parentTraceID
	}
	if taskVec != nil {
		t.TaskEmbedding = taskVec.Slice()
	}
	_ = json.Unmarshal(trajBytes, &t.Trajectory)
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &t.Metadata)
	}

	memRows, err := a.pool.Query(ctx, `SELECT id FROM memory_items WHERE trace_id = $1`, id)
	if err != nil {
		return storage.ReasoningTrace{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: list trace memories failed", err, nil)
	}
	defer memRows.Close()
	for memRows.Next() {
		var memID string
		if err := memRows.Scan(&memID); err != nil {
			return storage.ReasoningTrace{}, err
		}
		t.MemoryItems = append(t.MemoryItems, memID)
	}
	return t, nil
}

func (a *Adapter) GetMemory(ctx context.Context, id string) (storage.MemoryItem, error) {
	row := a.pool.QueryRow(ctx, `
SELECT id, trace_id, title, description, content, error_context, pattern_tags, difficulty_level,
    domain_category, parent_memory_id, derived_from, evolution_stage, workspace_id, created_at
FROM memory_items WHERE id = $1`, id)
	m, _, err := scanMemory(row, false)
	if err != nil {
		return storage.MemoryItem{}, mnemoerr.Wrap(mnemoerr.Storage, fmt.Sprintf("hosted: memory %s not found", id), err, nil)
	}
	return m, nil
}

func (a *Adapter) CountTraces(ctx context.Context) (int, error) {
	var n int
	err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reasoning_traces`).Scan(&n)
	return n, err
}

func (a *Adapter) CountMemories(ctx context.Context) (int, error) {
	var n int
	err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memory_items`).Scan(&n)
	return n, err
}

func (a *Adapter) GetStatistics(ctx context.Context, workspaceID string) (storage.Statistics, error) {
	stats := storage.Statistics{
		PatternTagHistogram:    map[string]int{},
		DomainDistribution:     map[string]int{},
		DifficultyDistribution: map[string]int{},
	}

	err := a.pool.QueryRow(ctx, `
SELECT COUNT(*), COALESCE(AVG(CASE WHEN outcome = 'success' THEN 1.0 ELSE 0.0 END), 0)
FROM reasoning_traces WHERE workspace_id = $1`, workspaceID).Scan(&stats.TraceCount, &stats.SuccessRate)
	if err != nil {
		return storage.Statistics{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: trace stats failed", err, nil)
	}

	var withError int
	err = a.pool.QueryRow(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE error_context IS NOT NULL)
FROM memory_items WHERE workspace_id = $1`, workspaceID).Scan(&stats.MemoryCount, &withError)
	if err != nil {
		return storage.Statistics{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: memory stats failed", err, nil)
	}
	if stats.MemoryCount > 0 {
		stats.MemoriesWithErrorPct = float64(withError) / float64(stats.MemoryCount)
	}

	tagRows, err := a.pool.Query(ctx, `
SELECT unnest(pattern_tags) AS tag, COUNT(*) FROM memory_items WHERE workspace_id = $1 GROUP BY tag`, workspaceID)
	if err != nil {
		return storage.Statistics{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: tag histogram failed", err, nil)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag string
		var count int
		if err := tagRows.Scan(&tag, &count); err != nil {
			return storage.Statistics{}, err
		}
		stats.PatternTagHistogram[tag] = count
	}

	domainRows, err := a.pool.Query(ctx, `
SELECT domain_category, COUNT(*) FROM memory_items WHERE workspace_id = $1 AND domain_category != '' GROUP BY domain_category`, workspaceID)
	if err != nil {
		return storage.Statistics{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: domain distribution failed", err, nil)
	}
	defer domainRows.Close()
	for domainRows.Next() {
		var domain string
		var count int
		if err := domainRows.Scan(&domain, &count); err != nil {
			return storage.Statistics{}, err
		}
		stats.DomainDistribution[domain] = count
	}

	diffRows, err := a.pool.Query(ctx, `
SELECT difficulty_level, COUNT(*) FROM memory_items WHERE workspace_id = $1 AND difficulty_level != '' GROUP BY difficulty_level`, workspaceID)
	if err != nil {
		return storage.Statistics{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: difficulty distribution failed", err, nil)
	}
	defer diffRows.Close()
	for diffRows.Next() {
		var level string
		var count int
		if err := diffRows.Scan(&level, &count); err != nil {
			return storage.Statistics{}, err
		}
		stats.DifficultyDistribution[level] = count
	}

	return stats, nil
}

func (a *Adapter) GetAllMemoriesMetadata(ctx context.Context, workspaceID string) ([]storage.MemoryItem, error) {
	rows, err := a.pool.Query(ctx, `
SELECT id, trace_id, title, description, content, error_context, pattern_tags, difficulty_level,
    domain_category, parent_memory_id, derived_from, evolution_stage, workspace_id, created_at
FROM memory_items WHERE workspace_id = $1 ORDER BY id`, workspaceID)
	if err != nil {
		return nil, mnemoerr.Wrap(mnemoerr.Storage, "hosted: genealogy scan failed", err, nil)
	}
	defer rows.Close()

	var out []storage.MemoryItem
	for rows.Next() {
		m, _, err := scanMemory(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (a *Adapter) DeleteOldTraces(ctx context.Context, retentionDays int, workspaceID string) (storage.RetentionResult, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storage.RetentionResult{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: begin tx failed", err, nil)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deletedMemories int64
	if err := tx.QueryRow(ctx, `
WITH doomed AS (
    SELECT id FROM reasoning_traces WHERE workspace_id = $1 AND created_at < $2
), gone AS (
    DELETE FROM memory_items WHERE trace_id IN (SELECT id FROM doomed)
    RETURNING 1
)
SELECT COUNT(*) FROM gone`, workspaceID, cutoff).Scan(&deletedMemories); err != nil {
		return storage.RetentionResult{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: delete old memories failed", err, nil)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM reasoning_traces WHERE workspace_id = $1 AND created_at < $2`, workspaceID, cutoff)
	if err != nil {
		return storage.RetentionResult{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: delete old traces failed", err, nil)
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.RetentionResult{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: commit failed", err, nil)
	}

	return storage.RetentionResult{
		DeletedTraces:   int(tag.RowsAffected()),
		DeletedMemories: int(deletedMemories),
		Cutoff:          cutoff,
	}, nil
}

func (a *Adapter) DeleteWorkspace(ctx context.Context, workspaceID string) (storage.WorkspaceDeletionResult, error) {
	var traceCount int
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reasoning_traces WHERE workspace_id = $1`, workspaceID).Scan(&traceCount); err != nil {
		return storage.WorkspaceDeletionResult{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: count traces failed", err, nil)
	}
	var memCount int
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memory_items WHERE workspace_id = $1`, workspaceID).Scan(&memCount); err != nil {
		return storage.WorkspaceDeletionResult{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: count memories failed", err, nil)
	}
	if _, err := a.pool.Exec(ctx, `DELETE FROM reasoning_traces WHERE workspace_id = $1`, workspaceID); err != nil {
		return storage.WorkspaceDeletionResult{}, mnemoerr.Wrap(mnemoerr.Storage, "hosted: delete workspace failed", err, nil)
	}
	return storage.WorkspaceDeletionResult{DeletedTraces: traceCount, DeletedMemories: memCount}, nil
}

func (a *Adapter) ListAllForBackup(ctx context.Context, workspaceID string, since time.Time) ([]storage.ReasoningTrace, []storage.MemoryItem, error) {
	traceRows, err := a.pool.Query(ctx, `
SELECT id, task, trajectory, outcome, parent_trace_id, task_embedding, workspace_id, metadata, created_at
FROM reasoning_traces
WHERE ($1 = '' OR workspace_id = $1) AND created_at > $2
ORDER BY created_at`, workspaceID, since)
	if err != nil {
		return nil, nil, mnemoerr.Wrap(mnemoerr.Storage, "hosted: backup trace scan failed", err, nil)
	}
	defer traceRows.Close()

	var traces []storage.ReasoningTrace
	for traceRows.Next() {
		var (
			t             storage.ReasoningTrace
			trajBytes     []byte
			outcome       string
			parentTraceID *string
			taskVec       *pgvector.Vector
			metaBytes     []byte
		)
		if err := traceRows.Scan(&t.ID, &t.Task, &trajBytes, &outcome, &parentTraceID, &taskVec, &t.WorkspaceID, &metaBytes, &t.Timestamp); err != nil {
			return nil, nil, err
		}
		t.Outcome = storage.Outcome(outcome)
		if parentTraceID != nil {
			t.ParentTraceID = *parentTraceID
		}
		if taskVec != nil {
			t.TaskEmbedding = taskVec.Slice()
		}
		_ = json.Unmarshal(trajBytes, &t.Trajectory)
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &t.Metadata)
		}
		traces = append(traces, t)
	}

	memRows, err := a.pool.Query(ctx, `
SELECT id, trace_id, title, description, content, error_context, pattern_tags, difficulty_level,
    domain_category, parent_memory_id, derived_from, evolution_stage, workspace_id, created_at, content_embedding
FROM memory_items
WHERE ($1 = '' OR workspace_id = $1) AND created_at > $2
ORDER BY created_at`, workspaceID, since)
	if err != nil {
		return nil, nil, mnemoerr.Wrap(mnemoerr.Storage, "hosted: backup memory scan failed", err, nil)
	}
	defer memRows.Close()

	var memories []storage.MemoryItem
	for memRows.Next() {
		var (
			m           storage.MemoryItem
			errCtxBytes []byte
			difficulty  string
			parentMem   *string
			derived     []string
			vec         *pgvector.Vector
		)
		if err := memRows.Scan(&m.ID, &m.TraceID, &m.Title, &m.Description, &m.Content, &errCtxBytes, &m.PatternTags,
			&difficulty, &m.DomainCategory, &parentMem, &derived, &m.EvolutionStage, &m.WorkspaceID, &m.CreatedAt, &vec); err != nil {
			return nil, nil, err
		}
		m.DifficultyLevel = storage.DifficultyLevel(difficulty)
		m.DerivedFrom = derived
		if parentMem != nil {
			m.ParentMemoryID = *parentMem
		}
		if vec != nil {
			m.ContentEmbedding = vec.Slice()
		}
		if len(errCtxBytes) > 0 {
			var ec storage.ErrorContext
			if err := json.Unmarshal(errCtxBytes, &ec); err == nil {
				m.ErrorContext = &ec
			}
		}
		memories = append(memories, m)
	}
	return traces, memories, nil
}

func (a *Adapter) InsertRaw(ctx context.Context, traces []storage.ReasoningTrace, memories []storage.MemoryItem, overwrite bool) error {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mnemoerr.Wrap(mnemoerr.Storage, "hosted: begin tx failed", err, nil)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conflictClause := "ON CONFLICT (id) DO NOTHING"
	if overwrite {
		conflictClause = `ON CONFLICT (id) DO UPDATE SET task = EXCLUDED.task, trajectory = EXCLUDED.trajectory,
    outcome = EXCLUDED.outcome, metadata = EXCLUDED.metadata`
	}

	for _, t := range traces {
		trajBytes, _ := json.Marshal(t.Trajectory)
		metaBytes, _ := json.Marshal(t.Metadata)
		var taskVec any
		if len(t.TaskEmbedding) > 0 {
			taskVec = pgvector.NewVector(t.TaskEmbedding)
		}
		var parent any
		if t.ParentTraceID != "" {
			parent = t.ParentTraceID
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO reasoning_traces (id, task, trajectory, outcome, parent_trace_id, task_embedding, workspace_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) %s`, conflictClause),
			t.ID, t.Task, trajBytes, string(t.Outcome), parent, taskVec, t.WorkspaceID, metaBytes, t.Timestamp); err != nil {
			return mnemoerr.Wrap(mnemoerr.Storage, "hosted: restore trace failed", err, nil)
		}
	}

	memConflict := "ON CONFLICT (id) DO NOTHING"
	if overwrite {
		memConflict = `ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, pattern_tags = EXCLUDED.pattern_tags`
	}
	for _, m := range memories {
		var errCtx any
		if m.ErrorContext != nil {
			b, _ := json.Marshal(m.ErrorContext)
			errCtx = b
		}
		var vec any
		if len(m.ContentEmbedding) > 0 {
			vec = pgvector.NewVector(m.ContentEmbedding)
		}
		var parentMem any
		if m.ParentMemoryID != "" {
			parentMem = m.ParentMemoryID
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO memory_items (id, trace_id, title, description, content, error_context, pattern_tags,
    difficulty_level, domain_category, parent_memory_id, derived_from, evolution_stage, workspace_id, content_embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) %s`, memConflict),
			m.ID, m.TraceID, m.Title, m.Description, m.Content, errCtx, m.PatternTags,
			string(m.DifficultyLevel), m.DomainCategory, parentMem, m.DerivedFrom, m.EvolutionStage, m.WorkspaceID, vec, m.CreatedAt); err != nil {
			return mnemoerr.Wrap(mnemoerr.Storage, "hosted: restore memory failed", err, nil)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mnemoerr.Wrap(mnemoerr.Storage, "hosted: commit failed", err, nil)
	}
	return nil
}

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}
