// Package storage defines the backend-agnostic Storage Backend Interface
// (spec.md §4.3) and its two adapters: embedded (local on-disk vector index)
// and hosted (relational + pgvector). Both adapters enforce workspace
// scoping identically.
package storage

import (
	"context"
	"time"
)

// ErrorContext is the triple attached to memories born from failures.
type ErrorContext struct {
	ErrorType          string `json:"error_type"`
	FailurePattern     string `json:"failure_pattern"`
	CorrectiveGuidance string `json:"corrective_guidance"`
}

// DifficultyLevel enumerates the allowed difficulty tiers for a Memory Item.
type DifficultyLevel string

const (
	DifficultySimple   DifficultyLevel = "simple"
	DifficultyModerate DifficultyLevel = "moderate"
	DifficultyComplex  DifficultyLevel = "complex"
	DifficultyExpert   DifficultyLevel = "expert"
)

// MemoryItem is one persisted learning (spec.md §3).
type MemoryItem struct {
	ID          string   `json:"id"`
	TraceID     string   `json:"trace_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	ErrorContext *ErrorContext `json:"error_context,omitempty"`

	PatternTags     []string        `json:"pattern_tags,omitempty"`
	DifficultyLevel DifficultyLevel `json:"difficulty_level,omitempty"`
	DomainCategory  string          `json:"domain_category,omitempty"`

	ParentMemoryID string   `json:"parent_memory_id,omitempty"`
	DerivedFrom    []string `json:"derived_from,omitempty"`
	EvolutionStage int      `json:"evolution_stage"`

	WorkspaceID string    `json:"workspace_id"`
	CreatedAt   time.Time `json:"created_at"`

	ContentEmbedding []float32 `json:"content_embedding,omitempty"`
}

// TrajectoryStepAction enumerates the actions a reasoning step may record.
type TrajectoryStepAction string

const (
	ActionGenerate TrajectoryStepAction = "generate"
	ActionRefine   TrajectoryStepAction = "refine"
	ActionEvaluate TrajectoryStepAction = "evaluate"
	ActionSelect   TrajectoryStepAction = "select"
)

// TrajectoryStep is one step of a reasoning trajectory (spec.md §3).
type TrajectoryStep struct {
	Iteration        int                   `json:"iteration"`
	Thought          string                `json:"thought"`
	Action           TrajectoryStepAction  `json:"action"`
	Output           string                `json:"output"`
	OutputHash       string                `json:"output_hash"`
	RefinementStage  int                   `json:"refinement_stage,omitempty"`
	TrajectoryID     int                   `json:"trajectory_id,omitempty"`
}

// Outcome enumerates a Reasoning Trace's terminal verdict.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// ReasoningTrace is one solve session (spec.md §3).
type ReasoningTrace struct {
	ID            string           `json:"id"`
	Task          string           `json:"task"`
	Trajectory    []TrajectoryStep `json:"trajectory"`
	Outcome       Outcome          `json:"outcome"`
	MemoryItems   []string         `json:"memory_items"`
	ParentTraceID string           `json:"parent_trace_id,omitempty"`

	TaskEmbedding []float32      `json:"task_embedding,omitempty"`
	WorkspaceID   string         `json:"workspace_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SimilarityFilters narrows a query_similar_memories call.
type SimilarityFilters struct {
	IncludeFailures bool
	DomainFilter    string
	PatternTags     []string
	MinSimilarity   float64
}

// ScoredMemory pairs a memory with its ascending vector distance, as
// query_similar_memories returns per spec.md §4.3.
type ScoredMemory struct {
	Memory   MemoryItem
	Distance float64
}

// Statistics aggregates counters reported by get_statistics.
type Statistics struct {
	TraceCount           int
	MemoryCount          int
	SuccessRate          float64
	MemoriesWithErrorPct float64
	PatternTagHistogram  map[string]int
	DomainDistribution   map[string]int
	DifficultyDistribution map[string]int
}

// RetentionResult is delete_old_traces' return shape.
type RetentionResult struct {
	DeletedTraces       int
	DeletedMemories     int
	FreedBytesEstimate  int64
	Cutoff              time.Time
}

// WorkspaceDeletionResult is delete_workspace's return shape.
type WorkspaceDeletionResult struct {
	DeletedTraces   int
	DeletedMemories int
}

// Backend is the Storage Backend Interface (spec.md §4.3). Every method is
// workspace-scoped where applicable; both adapters must implement it
// identically.
type Backend interface {
	StoreTrace(ctx context.Context, trace ReasoningTrace, memories []MemoryItem) (traceID string, err error)
	QuerySimilarMemories(ctx context.Context, queryEmbedding []float32, k int, filters SimilarityFilters, workspaceID string) ([]ScoredMemory, error)

	GetTrace(ctx context.Context, id string) (ReasoningTrace, error)
	GetMemory(ctx context.Context, id string) (MemoryItem, error)
	CountTraces(ctx context.Context) (int, error)
	CountMemories(ctx context.Context) (int, error)
	GetStatistics(ctx context.Context, workspaceID string) (Statistics, error)

	// GetAllMemoriesMetadata exists so the Memory Core never reaches through
	// this interface into a backend-specific handle for genealogy scans.
	GetAllMemoriesMetadata(ctx context.Context, workspaceID string) ([]MemoryItem, error)

	DeleteOldTraces(ctx context.Context, retentionDays int, workspaceID string) (RetentionResult, error)
	DeleteWorkspace(ctx context.Context, workspaceID string) (WorkspaceDeletionResult, error)

	// ListAllForBackup/InsertRaw support Backup/Restore/Migration (spec.md
	// §4.8) without leaking adapter-specific handles to that package either.
	ListAllForBackup(ctx context.Context, workspaceID string, since time.Time) ([]ReasoningTrace, []MemoryItem, error)
	InsertRaw(ctx context.Context, traces []ReasoningTrace, memories []MemoryItem, overwrite bool) error

	// SimilarityMetric documents which metric QuerySimilarMemories' distance
	// values are expressed in — "cosine" or "l2" — since the two adapters
	// convert to [0,1] similarity differently (spec.md §4.3 Open Question).
	SimilarityMetric() string

	Close() error
}
