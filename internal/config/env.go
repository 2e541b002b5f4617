package config

import (
	"os"
	"strconv"

	"github.com/charja113/llmchat-memory/internal/model"
)

// 環境変数名の定数
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvPort         = "LLMCHAT_MEMORY_PORT"
	EnvDataDir      = "LLMCHAT_MEMORY_DATA_DIR"
	EnvLogLevel     = "LLMCHAT_MEMORY_LOG"
)

// ApplyEnvOverrides は環境変数による設定上書きを適用する
// config を直接変更する
func ApplyEnvOverrides(config *model.Config) {
	if apiKey := os.Getenv(EnvOpenAIAPIKey); apiKey != "" {
		config.Embedder.APIKey = &apiKey
	}

	if portStr := os.Getenv(EnvPort); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port >= 0 {
			config.Server.Port = port
		}
	}

	if dataDir := os.Getenv(EnvDataDir); dataDir != "" {
		config.Paths.DataDir = dataDir
	}
}

// GetOpenAIAPIKey は環境変数からOpenAI APIキーを取得する
// 設定ファイルの値より環境変数を優先
func GetOpenAIAPIKey(config *model.Config) string {
	if apiKey := os.Getenv(EnvOpenAIAPIKey); apiKey != "" {
		return apiKey
	}
	if config.Embedder.APIKey != nil {
		return *config.Embedder.APIKey
	}
	return ""
}

// VerboseLogging は環境変数でverboseログが有効かを返す
func VerboseLogging() bool {
	switch os.Getenv(EnvLogLevel) {
	case "debug", "verbose", "1":
		return true
	}
	return false
}
