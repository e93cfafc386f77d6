package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MNEMO_LLM_API_KEY", "test-key")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.Provider != ProviderAnthropic {
		t.Fatalf("expected default provider anthropic, got %q", cfg.LLM.Provider)
	}
	if cfg.Retry.Attempts != 3 {
		t.Fatalf("expected default retry attempts 3, got %d", cfg.Retry.Attempts)
	}
	if cfg.Storage.Backend != BackendEmbedded {
		t.Fatalf("expected default storage backend embedded, got %q", cfg.Storage.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got: %v", err)
	}
}

func TestValidateRejectsInvertedRetryBounds(t *testing.T) {
	cfg := Config{
		LLM:     LLMConfig{Provider: ProviderAnthropic, APIKey: "k"},
		Retry:   RetryConfig{Attempts: 3, MinWait: 10, MaxWait: 1},
		Storage: StorageConfig{Backend: BackendEmbedded, DataDir: "."},
		RetrievalK: 5, MaxIterations: 3,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when max_wait < min_wait")
	}
}

func TestValidateRequiresAPIKey(t *testing.T) {
	cfg := Config{
		LLM:        LLMConfig{Provider: ProviderAnthropic},
		Retry:      RetryConfig{Attempts: 1, MinWait: 1, MaxWait: 2},
		Storage:    StorageConfig{Backend: BackendEmbedded, DataDir: "."},
		RetrievalK: 1, MaxIterations: 1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error with missing API key")
	}
}
