package index

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/charja113/llmchat-memory/internal/model"
)

// MemoryIndex はインメモリのIndex実装
// テストおよびstore.type="memory"設定で使用する
type MemoryIndex struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]*memoryEntry // namespace -> id -> entry
}

type memoryEntry struct {
	doc    model.Document
	vector []float32
}

// NewMemoryIndex はMemoryIndexを作成する
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		namespaces: make(map[string]map[string]*memoryEntry),
	}
}

// Upsert はドキュメントを追加/上書きする
func (m *MemoryIndex) Upsert(ctx context.Context, namespace string, doc model.Document, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]*memoryEntry)
		m.namespaces[namespace] = ns
	}

	// ディープコピー
	vectorCopy := make([]float32, len(vector))
	copy(vectorCopy, vector)

	ns[doc.ID] = &memoryEntry{
		doc:    copyDocument(doc),
		vector: vectorCopy,
	}

	return nil
}

// Search はベクトル検索を実行する
func (m *MemoryIndex) Search(ctx context.Context, namespace string, vector []float32, topK int, minScore float64) ([]model.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := []model.SearchResult{}

	ns, ok := m.namespaces[namespace]
	if !ok {
		return results, nil
	}

	for _, entry := range ns {
		score := cosineScore(vector, entry.vector)
		if score < minScore {
			continue
		}

		doc := copyDocument(entry.doc)
		results = append(results, model.SearchResult{
			ID:        doc.ID,
			Namespace: namespace,
			Text:      doc.Text,
			Score:     score,
			Context:   doc.Context,
		})
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
func (m *MemoryIndex) List(ctx context.Context, namespace string, limit int) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := []model.Document{}

	ns, ok := m.namespaces[namespace]
	if !ok {
		return docs, nil
	}

	for _, entry := range ns {
		docs = append(docs, copyDocument(entry.doc))
		if limit > 0 && len(docs) >= limit {
			break
		}
	}

	return docs, nil
}

// Clear はnamespace内の全ドキュメントを削除する
func (m *MemoryIndex) Clear(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.namespaces, namespace)
	return nil
}

// Count はnamespace内のドキュメント数を返す
func (m *MemoryIndex) Count(ctx context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.namespaces[namespace]), nil
}

// Namespaces はnamespace一覧を返す
func (m *MemoryIndex) Namespaces(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close はインデックスをクローズする
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.namespaces = make(map[string]map[string]*memoryEntry)
	return nil
}

// copyDocument はDocumentをディープコピーする
func copyDocument(doc model.Document) model.Document {
	docCopy := model.Document{
		ID:   doc.ID,
		Text: doc.Text,
	}

	if doc.Context != nil {
		// JSON経由でディープコピー
		b, _ := json.Marshal(doc.Context)
		var ctx map[string]any
		json.Unmarshal(b, &ctx)
		docCopy.Context = ctx
	}

	return docCopy
}
