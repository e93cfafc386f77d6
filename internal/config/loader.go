package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads configuration from the environment, optionally overlaid by a
// .env file in the working directory, and applies defaults matching
// spec.md §6's configuration table.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		LLM: LLMConfig{
			Provider:        LLMProviderKind(firstNonEmpty(os.Getenv("MNEMO_LLM_PROVIDER"), "anthropic")),
			Model:           os.Getenv("MNEMO_LLM_MODEL"),
			APIKey:          firstNonEmpty(os.Getenv("MNEMO_LLM_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("OPENAI_API_KEY")),
			BaseURL:         os.Getenv("MNEMO_LLM_BASE_URL"),
			ReasoningEffort: firstNonEmpty(os.Getenv("MNEMO_REASONING_EFFORT"), "medium"),
		},
		Retry: RetryConfig{
			Attempts: envInt("MNEMO_RETRY_ATTEMPTS", 3),
			MinWait:  envFloat("MNEMO_RETRY_MIN_WAIT", 1.0),
			MaxWait:  envFloat("MNEMO_RETRY_MAX_WAIT", 30.0),
		},
		Cache: CacheConfig{
			Enabled: envBool("MNEMO_CACHE_ENABLED", true),
			Size:    envInt("MNEMO_CACHE_SIZE", 100),
			TTLSecs: envInt("MNEMO_CACHE_TTL_SECONDS", 3600),
		},
		Storage: StorageConfig{
			Backend:     StorageBackendKind(firstNonEmpty(os.Getenv("MNEMO_STORAGE_BACKEND"), "embedded")),
			DataDir:     firstNonEmpty(os.Getenv("MNEMO_DATA_DIR"), "./mnemo-data"),
			PostgresDSN: os.Getenv("MNEMO_POSTGRES_DSN"),
		},
		Embedding: EmbeddingConfig{
			BaseURL:   firstNonEmpty(os.Getenv("MNEMO_EMBEDDING_BASE_URL"), "http://localhost:8080"),
			Path:      firstNonEmpty(os.Getenv("MNEMO_EMBEDDING_PATH"), "/embed"),
			Model:     os.Getenv("MNEMO_EMBEDDING_MODEL"),
			APIKey:    os.Getenv("MNEMO_EMBEDDING_API_KEY"),
			APIHeader: firstNonEmpty(os.Getenv("MNEMO_EMBEDDING_API_HEADER"), "Authorization"),
			TimeoutS:  envInt("MNEMO_EMBEDDING_TIMEOUT_SECONDS", 30),
		},
		Obs: ObsConfig{
			OTLP:           os.Getenv("MNEMO_OTLP_ENDPOINT"),
			ServiceName:    firstNonEmpty(os.Getenv("MNEMO_SERVICE_NAME"), "mnemo"),
			ServiceVersion: firstNonEmpty(os.Getenv("MNEMO_SERVICE_VERSION"), "dev"),
			Environment:    firstNonEmpty(os.Getenv("MNEMO_ENVIRONMENT"), "development"),
		},
		RetrievalK:      envInt("MNEMO_RETRIEVAL_K", 5),
		MaxIterations:   envInt("MNEMO_MAX_ITERATIONS", 3),
		SuccessThresh:   envFloat("MNEMO_SUCCESS_THRESHOLD", 0.8),
		WorkspaceRoot:   os.Getenv("MNEMO_WORKSPACE_ROOT"),
		LogLevel:        firstNonEmpty(os.Getenv("MNEMO_LOG_LEVEL"), "info"),
		LogPath:         os.Getenv("MNEMO_LOG_PATH"),
		RedisAddr:       os.Getenv("MNEMO_REDIS_ADDR"),
		ConnectTimeoutS: envInt("MNEMO_CONNECT_TIMEOUT_SECONDS", 10),
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
