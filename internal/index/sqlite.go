package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/charja113/llmchat-memory/internal/model"
	_ "modernc.org/sqlite"
)

const (
	// documentCountWarningThreshold は警告を出すドキュメント件数の閾値
	// brute-forceスキャンのため、これを超えると検索が遅くなる
	documentCountWarningThreshold = 5000
)

// SQLiteIndex はSQLiteを使用したIndex実装
// 埋め込みはBLOBとして保存し、検索はnamespace内の全件スキャンで行う
type SQLiteIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteIndex はSQLiteIndexを作成する
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WALモードを有効化
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &SQLiteIndex{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteIndex) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		text TEXT NOT NULL,
		context TEXT,
		embedding BLOB,
		PRIMARY KEY (namespace, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_namespace ON documents(namespace);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// Upsert はドキュメントを追加/上書きする
func (s *SQLiteIndex) Upsert(ctx context.Context, namespace string, doc model.Document, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var contextJSON []byte
	if doc.Context != nil {
		var err error
		contextJSON, err = json.Marshal(doc.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal context: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (namespace, id, text, context, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET
			text = excluded.text,
			context = excluded.context,
			embedding = excluded.embedding
	`, namespace, doc.ID, doc.Text, contextJSON, encodeEmbedding(vector))

	if err != nil {
		return fmt.Errorf("%w: failed to upsert document: %v", ErrStorage, err)
	}

	// 件数チェックと警告
	count, _ := s.countLocked(ctx, namespace)
	if count >= documentCountWarningThreshold {
		slog.Warn("namespace is large, search will be slow",
			"namespace", namespace, "count", count)
	}

	return nil
}

// Search はベクトル検索を実行する
func (s *SQLiteIndex) Search(ctx context.Context, namespace string, vector []float32, topK int, minScore float64) ([]model.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, context, embedding FROM documents WHERE namespace = ?
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query documents: %v", ErrStorage, err)
	}
	defer rows.Close()

	results := []model.SearchResult{}

	for rows.Next() {
		var (
			id          string
			text        string
			contextJSON []byte
			blob        []byte
		)
		if err := rows.Scan(&id, &text, &contextJSON, &blob); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", ErrStorage, err)
		}

		score := cosineScore(vector, decodeEmbedding(blob))
		if score < minScore {
			continue
		}

		results = append(results, model.SearchResult{
			ID:        id,
			Namespace: namespace,
			Text:      text,
			Score:     score,
			Context:   decodeContext(contextJSON),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// スコア降順でソート
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	// TopK制限
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// List は格納済みドキュメントを返す
func (s *SQLiteIndex) List(ctx context.Context, namespace string, limit int) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, text, context FROM documents WHERE namespace = ?`
	args := []any{namespace}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list documents: %v", ErrStorage, err)
	}
	defer rows.Close()

	docs := []model.Document{}

	for rows.Next() {
		var (
			id          string
			text        string
			contextJSON []byte
		)
		if err := rows.Scan(&id, &text, &contextJSON); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", ErrStorage, err)
		}

		docs = append(docs, model.Document{
			ID:      id,
			Text:    text,
			Context: decodeContext(contextJSON),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return docs, nil
}

// Clear はnamespace内の全ドキュメントを削除する
func (s *SQLiteIndex) Clear(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("%w: failed to clear namespace: %v", ErrStorage, err)
	}
	return nil
}

// Count はnamespace内のドキュメント数を返す
func (s *SQLiteIndex) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.countLocked(ctx, namespace)
}

func (s *SQLiteIndex) countLocked(ctx context.Context, namespace string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE namespace = ?`, namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count documents: %v", ErrStorage, err)
	}
	return count, nil
}

// Namespaces はnamespace一覧を返す
func (s *SQLiteIndex) Namespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM documents ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list namespaces: %v", ErrStorage, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// Close はインデックスをクローズする
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// encodeEmbedding はfloat32スライスをリトルエンディアンのBLOBに変換する
func encodeEmbedding(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding はBLOBをfloat32スライスに復元する
func decodeEmbedding(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// decodeContext はJSON BLOBをmapに復元する。nil/空はnil
func decodeContext(contextJSON []byte) map[string]any {
	if len(contextJSON) == 0 {
		return nil
	}
	var ctx map[string]any
	if err := json.Unmarshal(contextJSON, &ctx); err != nil {
		return nil
	}
	return ctx
}
