// Package config は設定ファイルの読み書きと既定値を管理する
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charja113/llmchat-memory/internal/model"
)

// Manager は設定の読み書きを管理する
type Manager struct {
	mu         sync.RWMutex
	config     *model.Config
	configPath string
}

// NewManager は新しいManagerを作成する
// configPathが空文字の場合、デフォルトパス（~/.llmchat-memory/config.json）を使用
func NewManager(configPath string) (*Manager, error) {
	if configPath == "" {
		defaultPath, err := GetDefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get default config path: %w", err)
		}
		configPath = defaultPath
	}

	dataDir, err := GetDefaultDataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get default data dir: %w", err)
	}

	return &Manager{
		config:     DefaultConfig(configPath, dataDir),
		configPath: configPath,
	}, nil
}

// Load は設定ファイルを読み込む
// ファイルが存在しない場合はデフォルト設定を使用（エラーなし）
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// デフォルト設定の上にファイルの値を重ねる
	config := *m.config
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	m.config = &config
	return nil
}

// Save は設定ファイルを保存する
func (m *Manager) Save() error {
	m.mu.RLock()
	config := m.config
	m.mu.RUnlock()

	configDir := filepath.Dir(m.configPath)
	if err := EnsureDir(configDir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 一時ファイルに書き込み（atomicな保存のため）
	tmpFile := m.configPath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	if err := os.Rename(tmpFile, m.configPath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	return nil
}

// GetConfig は現在の設定を返す
func (m *Manager) GetConfig() *model.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetConfigPath は設定ファイルパスを返す
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// NewManagerWithConfig は指定した設定でManagerを作成する（テスト用）
func NewManagerWithConfig(cfg *model.Config) *Manager {
	return &Manager{
		config:     cfg,
		configPath: "",
	}
}

// DefaultConfig はデフォルト設定を返す
// embedderはonnx（モデルアセット不在時はハッシュ埋め込みに縮退）、
// storeはデータディレクトリ配下のSQLite
func DefaultConfig(configPath, dataDir string) *model.Config {
	dbPath := filepath.Join(dataDir, "memory.db")
	return &model.Config{
		Server: model.ServerConfig{
			Host: "127.0.0.1",
			Port: 0, // 空きポートを自動割当、stdoutで通知
		},
		Embedder: model.EmbedderConfig{
			Provider: model.ProviderONNX,
			Model:    "all-MiniLM-L6-v2",
			Dim:      0, // 初回埋め込み時に確定
			BaseURL:  nil,
			APIKey:   nil,
			Cache:    true,
		},
		Store: model.StoreConfig{
			Type: model.IndexTypeSQLite,
			Path: &dbPath,
			URL:  nil,
		},
		Paths: model.PathsConfig{
			ConfigPath: configPath,
			DataDir:    dataDir,
		},
	}
}
