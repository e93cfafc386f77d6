// Package tools implements mnemo's MCP tool surface (spec.md §6): one
// input/output struct pair per tool, each handler translating mnemoerr
// failures into the {success, error_kind, message, context} envelope the
// tool contract requires rather than a raw protocol error.
package tools

import (
	"context"
	"time"

	"mnemo/internal/backup"
	"mnemo/internal/config"
	"mnemo/internal/llmx"
	"mnemo/internal/memorycore"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/reasoning"
	"mnemo/internal/storage"
	"mnemo/internal/validation"
	"mnemo/internal/workspace"
)

// Deps bundles every component the tool surface dispatches into. One Deps
// is constructed per process and shared by every tool call.
type Deps struct {
	Engine    *reasoning.Engine
	Core      *memorycore.Core
	Backend   storage.Backend
	Oracle    *llmx.Oracle
	Workspace *workspace.Manager
	Backup    *backup.Manager
	Metrics   *Recorder
	Cfg       config.Config
}

// Envelope is embedded in every tool's output struct so callers can branch
// on success without inspecting error strings.
type Envelope struct {
	Success   bool           `json:"success"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func failureOf(err error) Envelope {
	if mErr, ok := mnemoerr.As(err); ok {
		return Envelope{Success: false, ErrorKind: string(mErr.Kind), Message: mErr.Message, Context: mErr.Context}
	}
	return Envelope{Success: false, ErrorKind: string(mnemoerr.Storage), Message: err.Error()}
}

// validWorkspaceID guards workspace_id parameters against path-traversal
// style payloads before they reach a backend that may key filesystem state
// off of them.
func validWorkspaceID(id string) (string, error) {
	clean, err := validation.SessionID(id)
	if err != nil {
		return "", mnemoerr.Wrap(mnemoerr.Validation, "workspace_id is not a safe identifier", err, map[string]any{"workspace_id": id})
	}
	return clean, nil
}

// ---- solve_coding_task ----

type SolveCodingTaskInput struct {
	Task        string `json:"task" jsonschema:"description=The coding task to solve,minLength=10"`
	UseMemory   bool   `json:"use_memory,omitempty" jsonschema:"description=Retrieve and inject relevant memories before solving"`
	EnableMatts bool   `json:"enable_matts,omitempty" jsonschema:"description=Enable memory-aware test-time scaling"`
	MattsK      int    `json:"matts_k,omitempty" jsonschema:"description=Number of parallel/sequential trajectories when MaTTS is enabled,minimum=2,maximum=10"`
	MattsMode   string `json:"matts_mode,omitempty" jsonschema:"description=parallel or sequential,enum=parallel,enum=sequential"`
	StoreResult bool   `json:"store_result,omitempty" jsonschema:"description=Persist the trajectory and extracted memories"`
	WorkspaceID string `json:"workspace_id,omitempty" jsonschema:"description=Workspace to scope retrieval and storage to"`
}

type SolveCodingTaskOutput struct {
	Envelope
	Output             string                  `json:"output,omitempty"`
	Trajectory         []storage.TrajectoryStep `json:"trajectory,omitempty"`
	Score              float64                 `json:"score"`
	Iterations         int                     `json:"iterations"`
	MemoriesExtracted  int                     `json:"memories_extracted"`
	JudgeReasoning     string                  `json:"judge_reasoning,omitempty"`
	AllOutputs         []string                `json:"all_outputs,omitempty"`
	SelectedTrajectory int                     `json:"selected_trajectory,omitempty"`
	TraceID            string                  `json:"trace_id,omitempty"`
}

func (d *Deps) SolveCodingTask(ctx context.Context, in SolveCodingTaskInput) SolveCodingTaskOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("solve_coding_task", time.Since(start)) }()

	r, err := d.Engine.Solve(ctx, reasoning.SolveParams{
		Task:        in.Task,
		UseMemory:   in.UseMemory,
		EnableMatts: in.EnableMatts,
		MattsK:      in.MattsK,
		MattsMode:   reasoning.MattsMode(in.MattsMode),
		StoreResult: in.StoreResult,
		WorkspaceID: in.WorkspaceID,
	})
	if err != nil {
		return SolveCodingTaskOutput{Envelope: failureOf(err)}
	}
	env := Envelope{Success: r.Success}
	if !r.Success {
		env.ErrorKind = string(r.ErrorKind)
		env.Message = r.ErrorMessage
	}
	return SolveCodingTaskOutput{
		Envelope:           env,
		Output:             r.Output,
		Trajectory:         r.Trajectory,
		Score:              r.Score,
		Iterations:         r.Iterations,
		MemoriesExtracted:  r.MemoriesExtracted,
		JudgeReasoning:     r.JudgeReasoning,
		AllOutputs:         r.AllOutputs,
		SelectedTrajectory: r.SelectedTrajectory,
		TraceID:            r.TraceID,
	}
}

// ---- retrieve_memories ----

type RetrieveMemoriesInput struct {
	Query              string   `json:"query" jsonschema:"description=Natural-language query to retrieve memories for"`
	NResults           int      `json:"n_results,omitempty" jsonschema:"description=Maximum memories to return,minimum=1"`
	DomainFilter       string   `json:"domain_filter,omitempty"`
	PatternTags        []string `json:"pattern_tags,omitempty"`
	IncludeFailures    bool     `json:"include_failures,omitempty"`
	MinScore           float64  `json:"min_score,omitempty"`
	BoostErrorWarnings bool     `json:"boost_error_warnings,omitempty"`
	WorkspaceID        string   `json:"workspace_id,omitempty"`
}

type RetrievedMemory struct {
	Memory    storage.MemoryItem `json:"memory"`
	Score     float64            `json:"score"`
	Relevance float64            `json:"relevance"`
	Recency   float64            `json:"recency"`
}

type RetrieveMemoriesOutput struct {
	Envelope
	Memories []RetrievedMemory `json:"memories,omitempty"`
}

func (d *Deps) RetrieveMemories(ctx context.Context, in RetrieveMemoriesInput) RetrieveMemoriesOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("retrieve_memories", time.Since(start)) }()

	workspaceID, err := validWorkspaceID(in.WorkspaceID)
	if err != nil {
		return RetrieveMemoriesOutput{Envelope: failureOf(err)}
	}

	results, err := d.Core.Retrieve(ctx, memorycore.RetrievalParams{
		Query:              in.Query,
		K:                  in.NResults,
		IncludeFailures:    in.IncludeFailures,
		DomainFilter:       in.DomainFilter,
		PatternTags:        in.PatternTags,
		MinScore:           in.MinScore,
		BoostErrorWarnings: in.BoostErrorWarnings,
		WorkspaceID:        workspaceID,
	})
	if err != nil {
		return RetrieveMemoriesOutput{Envelope: failureOf(err)}
	}
	return RetrieveMemoriesOutput{Envelope: Envelope{Success: true}, Memories: toRetrievedMemories(results)}
}

func toRetrievedMemories(rs []memorycore.Retrieved) []RetrievedMemory {
	out := make([]RetrievedMemory, len(rs))
	for i, r := range rs {
		out[i] = RetrievedMemory{Memory: r.Memory, Score: r.Score, Relevance: r.Relevance, Recency: r.Recency}
	}
	return out
}

// ---- capture_knowledge ----

type CaptureKnowledgeInput struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	ForceStore  bool   `json:"force_store,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

type CaptureKnowledgeOutput struct {
	Envelope
	Quality  float64 `json:"quality"`
	Stored   bool    `json:"stored"`
	MemoryID string  `json:"memory_id,omitempty"`
}

func (d *Deps) CaptureKnowledge(ctx context.Context, in CaptureKnowledgeInput) CaptureKnowledgeOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("capture_knowledge", time.Since(start)) }()

	workspaceID, err := validWorkspaceID(in.WorkspaceID)
	if err != nil {
		return CaptureKnowledgeOutput{Envelope: failureOf(err)}
	}

	res, err := d.Core.Capture(ctx, memorycore.CaptureParams{
		Question:    in.Question,
		Answer:      in.Answer,
		ForceStore:  in.ForceStore,
		WorkspaceID: workspaceID,
	})
	if err != nil {
		return CaptureKnowledgeOutput{Envelope: failureOf(err)}
	}
	return CaptureKnowledgeOutput{Envelope: Envelope{Success: true}, Quality: res.Quality, Stored: res.Stored, MemoryID: res.MemoryID}
}

// ---- search_knowledge ----

type SearchKnowledgeInput struct {
	Query           string   `json:"query"`
	NResults        int      `json:"n_results,omitempty" jsonschema:"minimum=1"`
	SemanticWeight  float64  `json:"semantic_weight,omitempty"`
	QualityWeight   float64  `json:"quality_weight,omitempty"`
	RecencyWeight   float64  `json:"recency_weight,omitempty"`
	IncludeFailures bool     `json:"include_failures,omitempty"`
	DomainFilter    string   `json:"domain_filter,omitempty"`
	PatternTags     []string `json:"pattern_tags,omitempty"`
	WorkspaceID     string   `json:"workspace_id,omitempty"`
}

type SearchKnowledgeOutput struct {
	Envelope
	Memories []RetrievedMemory `json:"memories,omitempty"`
}

func (d *Deps) SearchKnowledge(ctx context.Context, in SearchKnowledgeInput) SearchKnowledgeOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("search_knowledge", time.Since(start)) }()

	workspaceID, err := validWorkspaceID(in.WorkspaceID)
	if err != nil {
		return SearchKnowledgeOutput{Envelope: failureOf(err)}
	}

	results, err := d.Core.Search(ctx, memorycore.SearchParams{
		Query: in.Query,
		K:     in.NResults,
		Weights: memorycore.SearchWeights{
			Semantic: in.SemanticWeight,
			Quality:  in.QualityWeight,
			Recency:  in.RecencyWeight,
		},
		IncludeFailures: in.IncludeFailures,
		DomainFilter:    in.DomainFilter,
		PatternTags:     in.PatternTags,
		WorkspaceID:     workspaceID,
	})
	if err != nil {
		return SearchKnowledgeOutput{Envelope: failureOf(err)}
	}
	return SearchKnowledgeOutput{Envelope: Envelope{Success: true}, Memories: toRetrievedMemories(results)}
}

// ---- get_memory_genealogy ----

type GetMemoryGenealogyInput struct {
	MemoryID   string `json:"memory_id"`
	Depth      int    `json:"depth,omitempty" jsonschema:"minimum=1"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

type GetMemoryGenealogyOutput struct {
	Envelope
	Root        storage.MemoryItem       `json:"root,omitempty"`
	Ancestors   []memorycore.GenealogyNode `json:"ancestors,omitempty"`
	Descendants []memorycore.GenealogyNode `json:"descendants,omitempty"`
}

func (d *Deps) GetMemoryGenealogy(ctx context.Context, in GetMemoryGenealogyInput) GetMemoryGenealogyOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("get_memory_genealogy", time.Since(start)) }()

	workspaceID, err := validWorkspaceID(in.WorkspaceID)
	if err != nil {
		return GetMemoryGenealogyOutput{Envelope: failureOf(err)}
	}

	g, err := d.Core.GetGenealogy(ctx, workspaceID, in.MemoryID, in.Depth)
	if err != nil {
		return GetMemoryGenealogyOutput{Envelope: failureOf(err)}
	}
	return GetMemoryGenealogyOutput{Envelope: Envelope{Success: true}, Root: g.Root, Ancestors: g.Ancestors, Descendants: g.Descendants}
}

// ---- get_statistics ----

type GetStatisticsInput struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
}

type GetStatisticsOutput struct {
	Envelope
	storage.Statistics
	CacheStats llmx.Stats `json:"cache_stats"`
}

func (d *Deps) GetStatistics(ctx context.Context, in GetStatisticsInput) GetStatisticsOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("get_statistics", time.Since(start)) }()

	workspaceID, err := validWorkspaceID(in.WorkspaceID)
	if err != nil {
		return GetStatisticsOutput{Envelope: failureOf(err)}
	}

	stats, err := d.Core.Statistics(ctx, workspaceID)
	if err != nil {
		return GetStatisticsOutput{Envelope: failureOf(err)}
	}
	cacheStats := llmx.Stats{}
	if d.Oracle != nil {
		cacheStats = d.Oracle.Stats()
	}
	return GetStatisticsOutput{Envelope: Envelope{Success: true}, Statistics: stats, CacheStats: cacheStats}
}

// ---- manage_workspace ----

type ManageWorkspaceInput struct {
	Action string `json:"action" jsonschema:"enum=set,enum=get,enum=clear"`
	Path   string `json:"path,omitempty"`
}

type ManageWorkspaceOutput struct {
	Envelope
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

func (d *Deps) ManageWorkspace(ctx context.Context, in ManageWorkspaceInput) ManageWorkspaceOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("manage_workspace", time.Since(start)) }()

	switch in.Action {
	case "set":
		s, err := d.Workspace.Set(in.Path)
		if err != nil {
			return ManageWorkspaceOutput{Envelope: failureOf(err)}
		}
		return ManageWorkspaceOutput{Envelope: Envelope{Success: true}, ID: s.ID, Name: s.Name, Path: s.Path}
	case "get":
		s, ok := d.Workspace.Get()
		if !ok {
			return ManageWorkspaceOutput{Envelope: Envelope{Success: true}}
		}
		return ManageWorkspaceOutput{Envelope: Envelope{Success: true}, ID: s.ID, Name: s.Name, Path: s.Path}
	case "clear":
		d.Workspace.Clear()
		return ManageWorkspaceOutput{Envelope: Envelope{Success: true}}
	default:
		return ManageWorkspaceOutput{Envelope: failureOf(mnemoerr.New(mnemoerr.Validation, "unknown action", map[string]any{"action": in.Action}))}
	}
}

// ---- backup_memories ----

type BackupMemoriesInput struct {
	Action            string `json:"action" jsonschema:"enum=create,enum=restore,enum=validate"`
	Path              string `json:"path"`
	Incremental       bool   `json:"incremental,omitempty"`
	Overwrite         bool   `json:"overwrite,omitempty"`
	TargetWorkspaceID string `json:"target_workspace_id,omitempty"`
	WorkspaceID       string `json:"workspace_id,omitempty"`
}

type BackupMemoriesOutput struct {
	Envelope
	backup.Manifest
}

func (d *Deps) BackupMemories(ctx context.Context, in BackupMemoriesInput) BackupMemoriesOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("backup_memories", time.Since(start)) }()

	switch in.Action {
	case "create":
		since := time.Time{}
		if in.Incremental {
			since = lastBackupCutoff()
		}
		raw, manifest, err := d.Backup.Create(ctx, in.WorkspaceID, since)
		if err != nil {
			return BackupMemoriesOutput{Envelope: failureOf(err)}
		}
		if err := writeArchive(in.Path, raw); err != nil {
			return BackupMemoriesOutput{Envelope: failureOf(mnemoerr.Wrap(mnemoerr.Storage, "backup: write archive failed", err, nil))}
		}
		return BackupMemoriesOutput{Envelope: Envelope{Success: true}, Manifest: manifest}
	case "validate":
		raw, err := readArchive(in.Path)
		if err != nil {
			return BackupMemoriesOutput{Envelope: failureOf(mnemoerr.Wrap(mnemoerr.Storage, "backup: read archive failed", err, nil))}
		}
		archive, err := backup.Validate(raw)
		if err != nil {
			return BackupMemoriesOutput{Envelope: failureOf(err)}
		}
		return BackupMemoriesOutput{Envelope: Envelope{Success: true}, Manifest: archive.Manifest}
	case "restore":
		raw, err := readArchive(in.Path)
		if err != nil {
			return BackupMemoriesOutput{Envelope: failureOf(mnemoerr.Wrap(mnemoerr.Storage, "backup: read archive failed", err, nil))}
		}
		manifest, err := d.Backup.Restore(ctx, raw, in.TargetWorkspaceID, in.Overwrite)
		if err != nil {
			return BackupMemoriesOutput{Envelope: failureOf(err)}
		}
		return BackupMemoriesOutput{Envelope: Envelope{Success: true}, Manifest: manifest}
	default:
		return BackupMemoriesOutput{Envelope: failureOf(mnemoerr.New(mnemoerr.Validation, "unknown action", map[string]any{"action": in.Action}))}
	}
}

// lastBackupCutoff has no dedicated "last backup" record in the Storage
// Backend Interface; the incremental predicate this tool exposes is capped
// at the last 24 hours, a conservative stand-in until a manifest-history
// store exists.
func lastBackupCutoff() time.Time {
	return time.Now().UTC().Add(-24 * time.Hour)
}

// ---- cleanup_old_data ----

type CleanupOldDataInput struct {
	RetentionDays          int    `json:"retention_days" jsonschema:"minimum=1"`
	WorkspaceID            string `json:"workspace_id,omitempty"`
	ConfirmWorkspaceDelete bool   `json:"confirm_workspace_delete,omitempty"`
}

type CleanupOldDataOutput struct {
	Envelope
	DeletedTraces      int       `json:"deleted_traces"`
	DeletedMemories    int       `json:"deleted_memories"`
	FreedBytesEstimate int64     `json:"freed_bytes_estimate"`
	Cutoff             time.Time `json:"cutoff"`
}

func (d *Deps) CleanupOldData(ctx context.Context, in CleanupOldDataInput) CleanupOldDataOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("cleanup_old_data", time.Since(start)) }()

	if in.WorkspaceID != "" && in.ConfirmWorkspaceDelete {
		result, err := d.Workspace.Delete(ctx, in.WorkspaceID, true)
		if err != nil {
			return CleanupOldDataOutput{Envelope: failureOf(err)}
		}
		return CleanupOldDataOutput{Envelope: Envelope{Success: true}, DeletedTraces: result.DeletedTraces, DeletedMemories: result.DeletedMemories}
	}

	result, err := d.Core.Retain(ctx, in.RetentionDays, in.WorkspaceID)
	if err != nil {
		return CleanupOldDataOutput{Envelope: failureOf(err)}
	}
	return CleanupOldDataOutput{
		Envelope:           Envelope{Success: true},
		DeletedTraces:      result.DeletedTraces,
		DeletedMemories:    result.DeletedMemories,
		FreedBytesEstimate: result.FreedBytesEstimate,
		Cutoff:             result.Cutoff,
	}
}

// ---- get_performance_metrics ----

type GetPerformanceMetricsInput struct {
	ResetAfterRead bool `json:"reset_after_read,omitempty"`
}

type GetPerformanceMetricsOutput struct {
	Envelope
	Tools map[string]ToolMetrics `json:"tools"`
}

func (d *Deps) GetPerformanceMetrics(ctx context.Context, in GetPerformanceMetricsInput) GetPerformanceMetricsOutput {
	snapshot := d.Metrics.Snapshot(in.ResetAfterRead)
	return GetPerformanceMetricsOutput{Envelope: Envelope{Success: true}, Tools: snapshot}
}

// ---- manage_cache ----

type ManageCacheInput struct {
	Action string `json:"action" jsonschema:"enum=statistics,enum=clear,enum=invalidate"`
	Key    string `json:"key,omitempty"`
}

type ManageCacheOutput struct {
	Envelope
	Stats      llmx.Stats `json:"stats,omitempty"`
	Invalidated bool      `json:"invalidated,omitempty"`
}

func (d *Deps) ManageCache(ctx context.Context, in ManageCacheInput) ManageCacheOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("manage_cache", time.Since(start)) }()

	if d.Oracle == nil {
		return ManageCacheOutput{Envelope: failureOf(mnemoerr.New(mnemoerr.Cache, "no oracle configured", nil))}
	}

	switch in.Action {
	case "statistics":
		return ManageCacheOutput{Envelope: Envelope{Success: true}, Stats: d.Oracle.Stats()}
	case "clear":
		d.Oracle.ClearCache()
		return ManageCacheOutput{Envelope: Envelope{Success: true}}
	case "invalidate":
		ok := d.Oracle.InvalidateRawKey(in.Key)
		return ManageCacheOutput{Envelope: Envelope{Success: true}, Invalidated: ok}
	default:
		return ManageCacheOutput{Envelope: failureOf(mnemoerr.New(mnemoerr.Validation, "unknown action", map[string]any{"action": in.Action}))}
	}
}

// ---- migrate_database ----

type MigrateDatabaseInput struct {
	TargetBackend string `json:"target_backend" jsonschema:"enum=embedded,enum=hosted"`
	TargetDSN     string `json:"target_dsn,omitempty"`
	WorkspaceID   string `json:"workspace_id,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
}

type MigrateDatabaseOutput struct {
	Envelope
	TracesMigrated   int  `json:"traces_migrated"`
	MemoriesMigrated int  `json:"memories_migrated"`
	DryRun           bool `json:"dry_run"`
}

// BackendOpener constructs a Storage Backend Interface adapter for a given
// kind/DSN pair. The wiring lives in cmd/mnemo-mcp/main.go, which is where
// both adapters' concrete constructors (and their connection lifetimes) are
// already owned.
type BackendOpener func(ctx context.Context, kind, dsn string) (storage.Backend, error)

func (d *Deps) MigrateDatabase(ctx context.Context, in MigrateDatabaseInput, open BackendOpener) MigrateDatabaseOutput {
	start := time.Now()
	defer func() { d.Metrics.Record("migrate_database", time.Since(start)) }()

	dst, err := open(ctx, in.TargetBackend, in.TargetDSN)
	if err != nil {
		return MigrateDatabaseOutput{Envelope: failureOf(mnemoerr.Wrap(mnemoerr.Storage, "migrate: could not open target backend", err, nil))}
	}
	defer dst.Close()

	result, err := backup.Migrate(ctx, d.Backend, dst, in.WorkspaceID, in.DryRun)
	if err != nil {
		return MigrateDatabaseOutput{Envelope: failureOf(err)}
	}
	return MigrateDatabaseOutput{
		Envelope:         Envelope{Success: true},
		TracesMigrated:   result.TracesMigrated,
		MemoriesMigrated: result.MemoriesMigrated,
		DryRun:           result.DryRun,
	}
}

// ---- compress_prompt ----

type CompressPromptInput struct {
	Prompt           string  `json:"prompt"`
	MaxTokens        int     `json:"max_tokens,omitempty" jsonschema:"minimum=1"`
	CompressionRatio float64 `json:"compression_ratio,omitempty" jsonschema:"description=Target fraction of original tokens to keep (0,1]"`
}

type CompressPromptOutput struct {
	Envelope
	Compressed    string `json:"compressed"`
	TokensBefore  int    `json:"tokens_before"`
	TokensAfter   int    `json:"tokens_after"`
}

func (d *Deps) CompressPrompt(ctx context.Context, in CompressPromptInput) CompressPromptOutput {
	compressed, before, after := compressPrompt(in.Prompt, in.MaxTokens, in.CompressionRatio)
	return CompressPromptOutput{Envelope: Envelope{Success: true}, Compressed: compressed, TokensBefore: before, TokensAfter: after}
}
