// Command mnemo-mcp wires every mnemo component into an MCP server speaking
// over stdio: reasoning engine, memory core, cached oracle, storage backend,
// workspace manager, and backup manager all live for the process lifetime,
// and the 13 tools from spec.md §6 are registered against them.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"mnemo/internal/backup"
	"mnemo/internal/config"
	"mnemo/internal/embedding"
	"mnemo/internal/llmx"
	"mnemo/internal/memorycore"
	"mnemo/internal/observability"
	"mnemo/internal/reasoning"
	"mnemo/internal/retry"
	"mnemo/internal/storage"
	"mnemo/internal/storage/embedded"
	"mnemo/internal/storage/hosted"
	"mnemo/internal/tools"
	"mnemo/internal/workspace"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("mnemo: config load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("mnemo: invalid configuration: %v", err)
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			log.Fatalf("mnemo: otel init failed: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("mnemo: storage backend init failed: %v", err)
	}
	defer backend.Close()

	llmBackend, err := newLLMBackend(cfg.LLM, cfg.Retry)
	if err != nil {
		log.Fatalf("mnemo: llm backend init failed: %v", err)
	}
	if _, err := llmBackend.Create(ctx, llmx.Request{
		Model:           cfg.LLM.Model,
		Messages:        []llmx.Message{{Role: "user", Content: "ping"}},
		MaxOutputTokens: 1,
	}); err != nil {
		log.Fatalf("mnemo: llm provider probe failed (AuthError): %v", err)
	}

	var oracleOpts []llmx.Option
	if cfg.RedisAddr != "" {
		inv, err := llmx.NewRedisInvalidator(cfg.RedisAddr, "")
		if err != nil {
			log.Printf("mnemo: redis invalidator disabled: %v", err)
		} else {
			oracleOpts = append(oracleOpts, llmx.WithInvalidator(inv))
		}
	}
	ttl := time.Duration(cfg.Cache.TTLSecs) * time.Second
	size := cfg.Cache.Size
	if !cfg.Cache.Enabled {
		size = 0
	}
	oracle := llmx.New(llmBackend, size, ttl, oracleOpts...)

	encoder := embedding.New(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		Path:      cfg.Embedding.Path,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		APIHeader: cfg.Embedding.APIHeader,
		TimeoutS:  cfg.Embedding.TimeoutS,
	})

	core := memorycore.New(backend, encoder, oracle, memorycore.Config{
		JudgeModel:   cfg.LLM.Model,
		ExtractModel: cfg.LLM.Model,
	})

	engine := reasoning.New(oracle, core, reasoning.Config{
		Model:            cfg.LLM.Model,
		MaxIterations:    cfg.MaxIterations,
		SuccessThreshold: cfg.SuccessThresh,
	})

	wsManager := workspace.New(backend)
	backupManager := backup.New(backend)
	recorder := tools.NewRecorder()

	deps := &tools.Deps{
		Engine:    engine,
		Core:      core,
		Backend:   backend,
		Oracle:    oracle,
		Workspace: wsManager,
		Backup:    backupManager,
		Metrics:   recorder,
		Cfg:       cfg,
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "mnemo", Version: version}, nil)
	registerTools(server, deps)

	log.Printf("mnemo: starting mcp server (storage=%s, llm=%s)", cfg.Storage.Backend, cfg.LLM.Provider)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatalf("mnemo: server exited: %v", err)
	}
}

func registerTools(server *mcp.Server, deps *tools.Deps) {
	mcp.AddTool(server, &mcp.Tool{Name: "solve_coding_task", Description: "Run the iterative reasoning engine, optionally with memory-aware test-time scaling"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.SolveCodingTaskInput) (*mcp.CallToolResult, tools.SolveCodingTaskOutput, error) {
			return nil, deps.SolveCodingTask(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "retrieve_memories", Description: "Retrieve memories ranked by composite relevance/quality/recency score"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.RetrieveMemoriesInput) (*mcp.CallToolResult, tools.RetrieveMemoriesOutput, error) {
			return nil, deps.RetrieveMemories(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "capture_knowledge", Description: "Judge and optionally store a standalone question/answer pair as a memory"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.CaptureKnowledgeInput) (*mcp.CallToolResult, tools.CaptureKnowledgeOutput, error) {
			return nil, deps.CaptureKnowledge(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "search_knowledge", Description: "Search memories with caller-supplied semantic/quality/recency weights"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.SearchKnowledgeInput) (*mcp.CallToolResult, tools.SearchKnowledgeOutput, error) {
			return nil, deps.SearchKnowledge(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "get_memory_genealogy", Description: "Walk a memory's ancestor and descendant chains"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.GetMemoryGenealogyInput) (*mcp.CallToolResult, tools.GetMemoryGenealogyOutput, error) {
			return nil, deps.GetMemoryGenealogy(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "get_statistics", Description: "Report aggregate trace/memory counters, success rate, and cache stats"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.GetStatisticsInput) (*mcp.CallToolResult, tools.GetStatisticsOutput, error) {
			return nil, deps.GetStatistics(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "manage_workspace", Description: "Set, get, or clear the current workspace"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.ManageWorkspaceInput) (*mcp.CallToolResult, tools.ManageWorkspaceOutput, error) {
			return nil, deps.ManageWorkspace(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "backup_memories", Description: "Create, restore, or validate a workspace backup archive"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.BackupMemoriesInput) (*mcp.CallToolResult, tools.BackupMemoriesOutput, error) {
			return nil, deps.BackupMemories(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "cleanup_old_data", Description: "Apply retention policy, or delete a workspace outright when confirmed"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.CleanupOldDataInput) (*mcp.CallToolResult, tools.CleanupOldDataOutput, error) {
			return nil, deps.CleanupOldData(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "get_performance_metrics", Description: "Report per-tool call counts and latency"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.GetPerformanceMetricsInput) (*mcp.CallToolResult, tools.GetPerformanceMetricsOutput, error) {
			return nil, deps.GetPerformanceMetrics(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "manage_cache", Description: "Inspect, clear, or invalidate a single entry of the LLM response cache"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.ManageCacheInput) (*mcp.CallToolResult, tools.ManageCacheOutput, error) {
			return nil, deps.ManageCache(ctx, in), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "migrate_database", Description: "Copy traces and memories from the running backend to another backend"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.MigrateDatabaseInput) (*mcp.CallToolResult, tools.MigrateDatabaseOutput, error) {
			return nil, deps.MigrateDatabase(ctx, in, openBackendAdapter), nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "compress_prompt", Description: "Truncate a prompt to a token budget or compression ratio"},
		func(ctx context.Context, req *mcp.CallToolRequest, in tools.CompressPromptInput) (*mcp.CallToolResult, tools.CompressPromptOutput, error) {
			return nil, deps.CompressPrompt(ctx, in), nil
		})
}

func newLLMBackend(cfg config.LLMConfig, retryCfg config.RetryConfig) (llmx.Backend, error) {
	rc := retry.Config{
		Attempts: retryCfg.Attempts,
		MinWait:  time.Duration(retryCfg.MinWait * float64(time.Second)),
		MaxWait:  time.Duration(retryCfg.MaxWait * float64(time.Second)),
		Jitter:   true,
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return llmx.NewAnthropicBackend(cfg.APIKey, cfg.BaseURL, rc), nil
	case config.ProviderOpenAI:
		return llmx.NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, rc), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendEmbedded:
		return embedded.New(ctx, cfg.DataDir, embedding.Dimensions)
	case config.BackendHosted:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("hosted backend: connect: %w", err)
		}
		adapter, err := hosted.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// openBackendAdapter is the tools.BackendOpener migrate_database dials: it
// constructs a second, independent Storage Backend Interface adapter for
// the migration target, separate from the process's primary backend.
func openBackendAdapter(ctx context.Context, kind, dsn string) (storage.Backend, error) {
	switch config.StorageBackendKind(kind) {
	case config.BackendEmbedded:
		return embedded.New(ctx, dsn, embedding.Dimensions)
	case config.BackendHosted:
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("migrate target: connect: %w", err)
		}
		adapter, err := hosted.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unsupported migration target backend %q", kind)
	}
}
