// Package bootstrap provides common initialization logic for llmchat-memory.
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charja113/llmchat-memory/internal/config"
	"github.com/charja113/llmchat-memory/internal/embedder"
	"github.com/charja113/llmchat-memory/internal/index"
	"github.com/charja113/llmchat-memory/internal/model"
	"github.com/charja113/llmchat-memory/internal/service"
)

// Services は初期化されたサービス群を保持
type Services struct {
	Service *service.Service
	Config  *model.Config
}

// Initialize は設定を読み込み、embedderとvector indexを組み立てる
func Initialize(configPath string) (*Services, func(), error) {
	configManager, err := config.NewManager(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config manager: %w", err)
	}

	if err := configManager.Load(); err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configManager.GetConfig()
	config.ApplyEnvOverrides(cfg)

	// 1. Embedder初期化
	emb, err := embedder.New(&cfg.Embedder, os.Getenv(config.EnvOpenAIAPIKey), cfg.Paths.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	// 2. Index初期化
	var idx index.Index
	switch cfg.Store.Type {
	case model.IndexTypeSQLite:
		dbPath := filepath.Join(cfg.Paths.DataDir, "memory.db")
		if cfg.Store.Path != nil && *cfg.Store.Path != "" {
			dbPath = *cfg.Store.Path
		}
		if err := config.EnsureDir(filepath.Dir(dbPath)); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		idx, err = index.NewSQLiteIndex(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sqlite index: %w", err)
		}
	case model.IndexTypeQdrant:
		url := "http://localhost:6333"
		if cfg.Store.URL != nil && *cfg.Store.URL != "" {
			url = *cfg.Store.URL
		}
		idx, err = index.NewQdrantIndex(url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create qdrant index: %w", err)
		}
	case model.IndexTypeChromem:
		path := ""
		if cfg.Store.Path != nil {
			path = *cfg.Store.Path
		}
		if path != "" {
			if err := config.EnsureDir(filepath.Dir(path)); err != nil {
				return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		idx, err = index.NewChromemIndex(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create chromem index: %w", err)
		}
	default:
		idx = index.NewMemoryIndex()
	}

	// 3. Service初期化
	svc := service.New(emb, idx, cfg.Embedder.Model)

	cleanup := func() {
		idx.Close()
	}

	return &Services{
		Service: svc,
		Config:  cfg,
	}, cleanup, nil
}
