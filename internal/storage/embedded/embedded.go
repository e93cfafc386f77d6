// Package embedded implements the Storage Backend Interface's local
// on-disk adapter: a sqvect vector index for similarity search plus a
// flock-guarded JSON mirror file holding full trace/memory records, so the
// directory survives concurrent processes (spec.md §4.3, §6).
package embedded

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/liliang-cn/sqvect/v2/pkg/hindsight"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

const bankID = "mnemo"

// mirror is the on-disk JSON shape persisted alongside the vector index.
type mirror struct {
	Traces  map[string]storage.ReasoningTrace `json:"traces"`
	Memories map[string]storage.MemoryItem    `json:"memories"`
}

// Adapter is the embedded Storage Backend Interface implementation.
//
// The similarity metric returned from the embedded index is declared here
// explicitly (resolving spec.md §9's open question): sqvect's hindsight
// bank computes a relevance score via cosine similarity internally and
// returns it directly as RecallResult.Score, so this adapter treats that
// score as a similarity in [0,1] already and converts it to the
// ascending-distance contract the Backend interface promises via
// `distance = 1 - score`.
type Adapter struct {
	mu       sync.Mutex
	dir      string
	lock     *flock.Flock
	sys      *hindsight.System
	m        mirror
}

// New opens (creating if absent) an embedded adapter rooted at dir.
func New(ctx context.Context, dir string, vectorDim int) (*Adapter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mnemoerr.Wrap(mnemoerr.Storage, "embedded: mkdir failed", err, nil)
	}

	lockPath := filepath.Join(dir, "traces.json.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, mnemoerr.New(mnemoerr.Storage, "embedded: could not acquire file lock; another process may be using this workspace root", nil)
	}

	sys, err := hindsight.New(&hindsight.Config{DBPath: filepath.Join(dir, "vectors.db"), VectorDim: vectorDim})
	if err != nil {
		_ = fl.Unlock()
		return nil, mnemoerr.Wrap(mnemoerr.Storage, "embedded: failed to open vector index", err, nil)
	}
	if err := sys.CreateBank(ctx, hindsight.NewBank(bankID, "mnemo memory bank")); err != nil {
		// Bank may already exist across restarts; tolerate that case.
	}

	a := &Adapter{dir: dir, lock: fl, sys: sys, m: mirror{Traces: map[string]storage.ReasoningTrace{}, Memories: map[string]storage.MemoryItem{}}}
	if err := a.loadMirror(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) mirrorPath() string { return filepath.Join(a.dir, "traces.json") }

func (a *Adapter) loadMirror() error {
	raw, err := os.ReadFile(a.mirrorPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return mnemoerr.Wrap(mnemoerr.Storage, "embedded: read mirror failed", err, nil)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &a.m); err != nil {
		return mnemoerr.Wrap(mnemoerr.Storage, "embedded: parse mirror failed", err, nil)
	}
	return nil
}

// persistMirrorLocked assumes a.mu is held.
func (a *Adapter) persistMirrorLocked() error {
	raw, err := json.MarshalIndent(a.m, "", "  ")
	if err != nil {
		return mnemoerr.Wrap(mnemoerr.Storage, "embedded: marshal mirror failed", err, nil)
	}
	tmp := a.mirrorPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return mnemoerr.Wrap(mnemoerr.Storage, "embedded: write mirror failed", err, nil)
	}
	if err := os.Rename(tmp, a.mirrorPath()); err != nil {
		return mnemoerr.Wrap(mnemoerr.Storage, "embedded: rename mirror failed", err, nil)
	}
	return nil
}

func (a *Adapter) SimilarityMetric() string { return "cosine" }

func (a *Adapter) StoreTrace(ctx context.Context, trace storage.ReasoningTrace, memories []storage.MemoryItem) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	if trace.Timestamp.IsZero() {
		trace.Timestamp = time.Now().UTC()
	}

	stored := make([]string, 0, len(memories))
	rollback := func() {
		for _, id := range stored {
			delete(a.m.Memories, id)
		}
	}

	for i := range memories {
		m := memories[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.TraceID = trace.ID
		m.WorkspaceID = trace.WorkspaceID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		if len(m.ContentEmbedding) > 0 {
			if err := a.sys.Retain(ctx, &hindsight.Memory{
				ID:      m.ID,
				BankID:  bankID,
				Type:    hindsight.WorldMemory,
				Content: m.Content,
				Vector:  m.ContentEmbedding,
			}); err != nil {
				rollback()
				return "", mnemoerr.Wrap(mnemoerr.Storage, "embedded: vector upsert failed, rolled back", err, nil)
			}
		}
		a.m.Memories[m.ID] = m
		stored = append(stored, m.ID)
		trace.MemoryItems = append(trace.MemoryItems, m.ID)
	}

	a.m.Traces[trace.ID] = trace
	if err := a.persistMirrorLocked(); err != nil {
		rollback()
		delete(a.m.Traces, trace.ID)
		return "", err
	}
	return trace.ID, nil
}

func (a *Adapter) QuerySimilarMemories(ctx context.Context, queryEmbedding []float32, k int, filters storage.SimilarityFilters, workspaceID string) ([]storage.ScoredMemory, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	results, err := a.sys.Recall(ctx, &hindsight.RecallRequest{
		BankID:      bankID,
		QueryVector: queryEmbedding,
		Strategy:    hindsight.DefaultStrategy(),
		TopK:        k,
	})
	if err != nil {
		return nil, mnemoerr.Wrap(mnemoerr.Storage, "embedded: recall failed", err, nil)
	}

	out := make([]storage.ScoredMemory, 0, len(results))
	for _, r := range results {
		mem, ok := a.m.Memories[r.ID]
		if !ok {
			continue
		}
		if workspaceID != "" && mem.WorkspaceID != workspaceID {
			continue
		}
		if !filters.IncludeFailures && mem.ErrorContext != nil {
			continue
		}
		if filters.DomainFilter != "" && mem.DomainCategory != filters.DomainFilter {
			continue
		}
		if len(filters.PatternTags) > 0 && !hasAnyTag(mem.PatternTags, filters.PatternTags) {
			continue
		}
		similarity := float64(r.Score)
		if filters.MinSimilarity > 0 && similarity < filters.MinSimilarity {
			continue
		}
		out = append(out, storage.ScoredMemory{Memory: mem, Distance: 1 - similarity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
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

func (a *Adapter) GetTrace(ctx context.Context, id string) (storage.ReasoningTrace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.m.Traces[id]
	if !ok {
		return storage.ReasoningTrace{}, mnemoerr.New(mnemoerr.Storage, fmt.Sprintf("embedded: trace %s not found", id), nil)
	}
	return t, nil
}

func (a *Adapter) GetMemory(ctx context.Context, id string) (storage.MemoryItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.m.Memories[id]
	if !ok {
		return storage.MemoryItem{}, mnemoerr.New(mnemoerr.Storage, fmt.Sprintf("embedded: memory %s not found", id), nil)
	}
	return m, nil
}

func (a *Adapter) CountTraces(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.m.Traces), nil
}

func (a *Adapter) CountMemories(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.m.Memories), nil
}

func (a *Adapter) GetStatistics(ctx context.Context, workspaceID string) (storage.Statistics, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := storage.Statistics{
		PatternTagHistogram:    map[string]int{},
		DomainDistribution:     map[string]int{},
		DifficultyDistribution: map[string]int{},
	}
	var successCount, withError, total int
	for _, t := range a.m.Traces {
		if workspaceID != "" && t.WorkspaceID != workspaceID {
			continue
		}
		stats.TraceCount++
		total++
		if t.Outcome == storage.OutcomeSuccess {
			successCount++
		}
	}
	for _, m := range a.m.Memories {
		if workspaceID != "" && m.WorkspaceID != workspaceID {
			continue
		}
		stats.MemoryCount++
		if m.ErrorContext != nil {
			withError++
		}
		for _, tag := range m.PatternTags {
			stats.PatternTagHistogram[tag]++
		}
		if m.DomainCategory != "" {
			stats.DomainDistribution[m.DomainCategory]++
		}
		if m.DifficultyLevel != "" {
			stats.DifficultyDistribution[string(m.DifficultyLevel)]++
		}
	}
	if total > 0 {
		stats.SuccessRate = float64(successCount) / float64(total)
	}
	if stats.MemoryCount > 0 {
		stats.MemoriesWithErrorPct = float64(withError) / float64(stats.MemoryCount)
	}
	return stats, nil
}

func (a *Adapter) GetAllMemoriesMetadata(ctx context.Context, workspaceID string) ([]storage.MemoryItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]storage.MemoryItem, 0, len(a.m.Memories))
	for _, m := range a.m.Memories {
		if workspaceID != "" && m.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Adapter) DeleteOldTraces(ctx context.Context, retentionDays int, workspaceID string) (storage.RetentionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := storage.RetentionResult{Cutoff: cutoff}

	for id, t := range a.m.Traces {
		if workspaceID != "" && t.WorkspaceID != workspaceID {
			continue
		}
		if t.Timestamp.After(cutoff) {
			continue
		}
		for _, memID := range t.MemoryItems {
			if _, ok := a.m.Memories[memID]; ok {
				delete(a.m.Memories, memID)
				result.DeletedMemories++
				result.FreedBytesEstimate += 512
			}
		}
		delete(a.m.Traces, id)
		result.DeletedTraces++
		result.FreedBytesEstimate += 1024
	}
	if result.DeletedTraces > 0 {
		if err := a.persistMirrorLocked(); err != nil {
			return storage.RetentionResult{}, err
		}
	}
	return result, nil
}

func (a *Adapter) DeleteWorkspace(ctx context.Context, workspaceID string) (storage.WorkspaceDeletionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := storage.WorkspaceDeletionResult{}
	for id, t := range a.m.Traces {
		if t.WorkspaceID != workspaceID {
			continue
		}
		for _, memID := range t.MemoryItems {
			if _, ok := a.m.Memories[memID]; ok {
				delete(a.m.Memories, memID)
				result.DeletedMemories++
			}
		}
		delete(a.m.Traces, id)
		result.DeletedTraces++
	}
	if err := a.persistMirrorLocked(); err != nil {
		return storage.WorkspaceDeletionResult{}, err
	}
	return result, nil
}

func (a *Adapter) ListAllForBackup(ctx context.Context, workspaceID string, since time.Time) ([]storage.ReasoningTrace, []storage.MemoryItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var traces []storage.ReasoningTrace
	for _, t := range a.m.Traces {
		if workspaceID != "" && t.WorkspaceID != workspaceID {
			continue
		}
		if !since.IsZero() && !t.Timestamp.After(since) {
			continue
		}
		traces = append(traces, t)
	}
	var memories []storage.MemoryItem
	for _, m := range a.m.Memories {
		if workspaceID != "" && m.WorkspaceID != workspaceID {
			continue
		}
		if !since.IsZero() && !m.CreatedAt.After(since) {
			continue
		}
		memories = append(memories, m)
	}
	return traces, memories, nil
}

func (a *Adapter) InsertRaw(ctx context.Context, traces []storage.ReasoningTrace, memories []storage.MemoryItem, overwrite bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range traces {
		if _, exists := a.m.Traces[t.ID]; exists && !overwrite {
			return mnemoerr.New(mnemoerr.Storage, fmt.Sprintf("embedded: trace %s already exists", t.ID), nil)
		}
		a.m.Traces[t.ID] = t
	}
	for _, m := range memories {
		if _, exists := a.m.Memories[m.ID]; exists && !overwrite {
			return mnemoerr.New(mnemoerr.Storage, fmt.Sprintf("embedded: memory %s already exists", m.ID), nil)
		}
		if len(m.ContentEmbedding) > 0 {
			_ = a.sys.Retain(ctx, &hindsight.Memory{ID: m.ID, BankID: bankID, Type: hindsight.WorldMemory, Content: m.Content, Vector: m.ContentEmbedding})
		}
		a.m.Memories[m.ID] = m
	}
	return a.persistMirrorLocked()
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.sys.Close()
	return a.lock.Unlock()
}
