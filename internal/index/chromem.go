package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/charja113/llmchat-memory/internal/model"
)

// ChromemIndex はchromem-go（pure Goの組み込みベクトルDB）を使用したIndex実装
// namespaceごとに1コレクションを持つ
//
// chromem-goはドキュメントの全件列挙APIを持たないため、書き込まれたIDを
// プロセス内で記録してList/Namespacesに使用する。ツール記述は起動ごとに
// 再インデックスされる前提のため、この制約は運用上問題にならない
type ChromemIndex struct {
	db *chromem.DB

	mu  sync.RWMutex
	ids map[string]map[string]struct{} // namespace -> 書き込み済みID集合
}

// NewChromemIndex はChromemIndexを作成する
// pathが空ならインメモリ、指定されていれば永続化DBを開く
func NewChromemIndex(path string) (*ChromemIndex, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open chromem db: %v", ErrConnectionFailed, err)
		}
	}

	return &ChromemIndex{
		db:  db,
		ids: make(map[string]map[string]struct{}),
	}, nil
}

// collection はnamespaceのコレクションを取得/作成する
func (c *ChromemIndex) collection(namespace string) (*chromem.Collection, error) {
	// embedding関数は渡さない（ベクトルはこちらで計算済み）
	col, err := c.db.GetOrCreateCollection(namespace, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get collection: %v", ErrStorage, err)
	}
	return col, nil
}

// Upsert はドキュメントを追加/上書きする
func (c *ChromemIndex) Upsert(ctx context.Context, namespace string, doc model.Document, vector []float32) error {
	col, err := c.collection(namespace)
	if err != nil {
		return err
	}

	metadata := map[string]string{}
	if doc.Context != nil {
		contextJSON, err := json.Marshal(doc.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal context: %w", err)
		}
		metadata["context"] = string(contextJSON)
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   doc.Text,
		Embedding: vector,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to add document: %v", ErrStorage, err)
	}

	c.mu.Lock()
	if c.ids[namespace] == nil {
		c.ids[namespace] = make(map[string]struct{})
	}
	c.ids[namespace][doc.ID] = struct{}{}
	c.mu.Unlock()

	return nil
}

// Search はベクトル検索を実行する
func (c *ChromemIndex) Search(ctx context.Context, namespace string, vector []float32, topK int, minScore float64) ([]model.SearchResult, error) {
	col := c.db.GetCollection(namespace, nil)
	if col == nil {
		return []model.SearchResult{}, nil
	}

	// chromem-goはnResults > 件数 をエラーにするためcapする
	count := col.Count()
	if count == 0 {
		return []model.SearchResult{}, nil
	}
	n := topK
	if n <= 0 || n > count {
		n = count
	}

	hits, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem query failed: %v", ErrStorage, err)
	}

	results := []model.SearchResult{}
	for _, hit := range hits {
		// Similarityは-1〜1のcosineなので0-1に正規化
		score := (float64(hit.Similarity) + 1.0) / 2.0
		if score < minScore {
			continue
		}

		results = append(results, model.SearchResult{
			ID:        hit.ID,
			Namespace: namespace,
			Text:      hit.Content,
			Score:     score,
			Context:   decodeContext([]byte(hit.Metadata["context"])),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results, nil
}

// List は格納済みドキュメントを返す（このプロセスで書き込まれた分のみ）
func (c *ChromemIndex) List(ctx context.Context, namespace string, limit int) ([]model.Document, error) {
	col := c.db.GetCollection(namespace, nil)
	if col == nil {
		return []model.Document{}, nil
	}

	c.mu.RLock()
	ids := make([]string, 0, len(c.ids[namespace]))
	for id := range c.ids[namespace] {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	docs := []model.Document{}
	for _, id := range ids {
		if limit > 0 && len(docs) >= limit {
			break
		}

		stored, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}

		docs = append(docs, model.Document{
			ID:      stored.ID,
			Text:    stored.Content,
			Context: decodeContext([]byte(stored.Metadata["context"])),
		})
	}

	return docs, nil
}

// Clear はnamespaceのコレクションを削除する。存在しなければno-op
func (c *ChromemIndex) Clear(ctx context.Context, namespace string) error {
	if c.db.GetCollection(namespace, nil) == nil {
		return nil
	}
	if err := c.db.DeleteCollection(namespace); err != nil {
		return fmt.Errorf("%w: failed to delete collection: %v", ErrStorage, err)
	}

	c.mu.Lock()
	delete(c.ids, namespace)
	c.mu.Unlock()
	return nil
}

// Count はnamespace内のドキュメント数を返す
func (c *ChromemIndex) Count(ctx context.Context, namespace string) (int, error) {
	col := c.db.GetCollection(namespace, nil)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Namespaces はnamespace一覧を返す
func (c *ChromemIndex) Namespaces(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(c.db.ListCollections()))
	for name := range c.db.ListCollections() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close はインデックスをクローズする
func (c *ChromemIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids = make(map[string]map[string]struct{})
	return nil
}
