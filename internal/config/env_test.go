package config

import (
	"testing"

	"github.com/charja113/llmchat-memory/internal/model"
)

// TestApplyEnvOverrides は環境変数による上書きをテスト
func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "sk-test")
	t.Setenv(EnvPort, "9001")
	t.Setenv(EnvDataDir, "/custom/data")

	cfg := DefaultConfig("/tmp/config.json", "/tmp/data")
	ApplyEnvOverrides(cfg)

	if cfg.Embedder.APIKey == nil || *cfg.Embedder.APIKey != "sk-test" {
		t.Errorf("expected API key override, got %v", cfg.Embedder.APIKey)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("expected port override 9001, got %d", cfg.Server.Port)
	}
	if cfg.Paths.DataDir != "/custom/data" {
		t.Errorf("expected data dir override, got %s", cfg.Paths.DataDir)
	}
}

// TestApplyEnvOverrides_InvalidPort は不正なポート値が無視されることをテスト
func TestApplyEnvOverrides_InvalidPort(t *testing.T) {
	t.Setenv(EnvPort, "not-a-number")

	cfg := DefaultConfig("/tmp/config.json", "/tmp/data")
	before := cfg.Server.Port
	ApplyEnvOverrides(cfg)

	if cfg.Server.Port != before {
		t.Errorf("expected port unchanged, got %d", cfg.Server.Port)
	}
}

// TestGetOpenAIAPIKey は環境変数優先のAPIキー解決をテスト
func TestGetOpenAIAPIKey(t *testing.T) {
	fileKey := "sk-from-file"

	cfg := &model.Config{}
	cfg.Embedder.APIKey = &fileKey

	t.Setenv(EnvOpenAIAPIKey, "")
	if got := GetOpenAIAPIKey(cfg); got != "sk-from-file" {
		t.Errorf("expected file key, got %q", got)
	}

	t.Setenv(EnvOpenAIAPIKey, "sk-from-env")
	if got := GetOpenAIAPIKey(cfg); got != "sk-from-env" {
		t.Errorf("expected env key to win, got %q", got)
	}
}

// TestVerboseLogging はverboseフラグの解釈をテスト
func TestVerboseLogging(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"debug", true},
		{"verbose", true},
		{"1", true},
		{"", false},
		{"off", false},
	}

	for _, tt := range tests {
		t.Run("value="+tt.value, func(t *testing.T) {
			t.Setenv(EnvLogLevel, tt.value)
			if got := VerboseLogging(); got != tt.want {
				t.Errorf("VerboseLogging() with %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
