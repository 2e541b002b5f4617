package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestInitialize はメモリストア構成での初期化をテスト
func TestInitialize(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"embedder": {"provider": "local", "model": "hash", "cache": false},
		"store": {"type": "memory"}
	}`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	services, cleanup, err := Initialize(configPath)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer cleanup()

	if services.Service == nil {
		t.Fatal("expected service to be initialized")
	}
	if services.Config.Store.Type != "memory" {
		t.Errorf("expected memory store, got %s", services.Config.Store.Type)
	}

	// 組み立てたサービスがウォームアップして使えること
	ready := make(chan error, 1)
	services.Service.Start(context.Background(), func(err error) { ready <- err })
	select {
	case err := <-ready:
		if err != nil {
			t.Fatalf("warmup failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for warmup")
	}

	if !services.Service.ModelLoaded() {
		t.Error("expected model loaded after warmup")
	}
}

// TestInitialize_SQLiteStore はSQLiteストア構成でデータディレクトリが作られることをテスト
func TestInitialize_SQLiteStore(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	dbPath := filepath.Join(dir, "data", "memory.db")

	content := `{
		"embedder": {"provider": "local", "model": "hash", "cache": false},
		"store": {"type": "sqlite", "path": "` + dbPath + `"}
	}`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	services, cleanup, err := Initialize(configPath)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer cleanup()

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("expected data directory to exist: %v", err)
	}
	if services.Config.Store.Path == nil || *services.Config.Store.Path != dbPath {
		t.Errorf("expected store path %s, got %v", dbPath, services.Config.Store.Path)
	}
}

// TestInitialize_MissingConfig は設定ファイルが無くてもデフォルトで起動することをテスト
func TestInitialize_MissingConfig(t *testing.T) {
	// デフォルトのsqliteパスがホーム配下に作られないよう一時ディレクトリを指す設定を使う
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	content := `{
		"embedder": {"provider": "local", "cache": false},
		"store": {"type": "memory"},
		"paths": {"dataDir": "` + dir + `"}
	}`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, cleanup, err := Initialize(configPath)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	cleanup()
}
