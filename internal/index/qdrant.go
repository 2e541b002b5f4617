package index

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charja113/llmchat-memory/internal/model"
	"github.com/qdrant/go-client/qdrant"
)

// qdrantCollectionPrefix は他用途のコレクションと衝突しないためのプレフィックス
const qdrantCollectionPrefix = "llmchat_"

// QdrantIndex はQdrantを使用したIndex実装
// namespaceごとに1コレクションを持つ
type QdrantIndex struct {
	client *qdrant.Client
	url    string

	mu      sync.Mutex
	created map[string]bool // 存在確認済みコレクションのキャッシュ
}

// NewQdrantIndex はQdrantIndexを作成する
func NewQdrantIndex(urlStr string) (*QdrantIndex, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	host := parsedURL.Hostname()
	portStr := parsedURL.Port()
	// Qdrant gRPCポートはデフォルト6334（HTTPは6333）
	port := 6334
	if portStr != "" {
		// URLにポートが明示されている場合は、gRPCポートに変換
		if p, err := strconv.Atoi(portStr); err == nil {
			if p == 6333 {
				port = 6334
			} else {
				port = p
			}
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   host,
		Port:                   port,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, ErrConnectionFailed
	}

	// 接続確認
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		return nil, ErrConnectionFailed
	}

	return &QdrantIndex{
		client:  client,
		url:     urlStr,
		created: make(map[string]bool),
	}, nil
}

// collectionName はnamespaceからコレクション名を生成する
func collectionName(namespace string) string {
	return qdrantCollectionPrefix + namespace
}

// ensureCollection はコレクションの存在を保証する
// 次元数は最初に書き込まれるベクトルの長さで確定する
func (q *QdrantIndex) ensureCollection(ctx context.Context, namespace string, dim int) error {
	name := collectionName(namespace)

	q.mu.Lock()
	known := q.created[name]
	q.mu.Unlock()
	if known {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: failed to check collection existence: %v", ErrStorage, err)
	}

	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to create collection: %v", ErrStorage, err)
		}
	}

	q.mu.Lock()
	q.created[name] = true
	q.mu.Unlock()
	return nil
}

// Upsert はドキュメントを追加/上書きする
func (q *QdrantIndex) Upsert(ctx context.Context, namespace string, doc model.Document, vector []float32) error {
	if err := q.ensureCollection(ctx, namespace, len(vector)); err != nil {
		return err
	}

	payload := map[string]*qdrant.Value{}
	payload["id"], _ = qdrant.NewValue(doc.ID)
	payload["text"], _ = qdrant.NewValue(doc.Text)

	if doc.Context != nil {
		contextJSON, err := json.Marshal(doc.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal context: %w", err)
		}
		payload["context"], _ = qdrant.NewValue(string(contextJSON))
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName(namespace),
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(hashID(doc.ID)),
				Vectors: qdrant.NewVectors(vector...),
				Payload: payload,
			},
		},
	})

	if err != nil {
		return fmt.Errorf("%w: failed to upsert point: %v", ErrStorage, err)
	}

	return nil
}

// Search はベクトル検索を実行する
func (q *QdrantIndex) Search(ctx context.Context, namespace string, vector []float32, topK int, minScore float64) ([]model.SearchResult, error) {
	name := collectionName(namespace)

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !exists {
		return []model.SearchResult{}, nil
	}

	queryResp, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query points: %v", ErrStorage, err)
	}

	results := []model.SearchResult{}
	for _, point := range queryResp {
		// スコアを0-1に正規化 (Qdrantのcosineスコアは-1〜1なので (score+1)/2)
		score := float64(point.Score+1.0) / 2.0
		if score < minScore {
			continue
		}

		doc := payloadToDocument(point.Payload)
		results = append(results, model.SearchResult{
			ID:        doc.ID,
			Namespace: namespace,
			Text:      doc.Text,
			Score:     score,
			Context:   doc.Context,
		})
	}

	// スコア降順でソート（念のため）
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results, nil
}

// List は格納済みドキュメントを返す
func (q *QdrantIndex) List(ctx context.Context, namespace string, limit int) ([]model.Document, error) {
	name := collectionName(namespace)

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !exists {
		return []model.Document{}, nil
	}

	fetchLimit := limit
	if fetchLimit <= 0 {
		fetchLimit = 1000
	}

	scrollResp, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: name,
		Limit:          qdrant.PtrOf(uint32(fetchLimit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scroll points: %v", ErrStorage, err)
	}

	docs := []model.Document{}
	for _, point := range scrollResp {
		docs = append(docs, payloadToDocument(point.Payload))
	}

	return docs, nil
}

// Clear はnamespaceのコレクションを削除する
func (q *QdrantIndex) Clear(ctx context.Context, namespace string) error {
	name := collectionName(namespace)

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !exists {
		return nil
	}

	if err := q.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("%w: failed to delete collection: %v", ErrStorage, err)
	}

	q.mu.Lock()
	delete(q.created, name)
	q.mu.Unlock()
	return nil
}

// Count はnamespace内のドキュメント数を返す
func (q *QdrantIndex) Count(ctx context.Context, namespace string) (int, error) {
	name := collectionName(namespace)

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !exists {
		return 0, nil
	}

	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count points: %v", ErrStorage, err)
	}

	return int(count), nil
}

// Namespaces はnamespace一覧を返す
func (q *QdrantIndex) Namespaces(ctx context.Context) ([]string, error) {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list collections: %v", ErrStorage, err)
	}

	var names []string
	for _, c := range collections {
		if strings.HasPrefix(c, qdrantCollectionPrefix) {
			names = append(names, strings.TrimPrefix(c, qdrantCollectionPrefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close はインデックスをクローズする
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		q.client.Close()
	}
	return nil
}

// hashID は文字列IDを数値IDに変換する
// SHA256ハッシュの先頭8バイトを使用して衝突耐性を確保する
func hashID(id string) uint64 {
	h := sha256.Sum256([]byte(id))
	return binary.BigEndian.Uint64(h[:8])
}

// payloadToDocument はQdrantのpayloadからDocumentを構築する
func payloadToDocument(payload map[string]*qdrant.Value) model.Document {
	doc := model.Document{}

	if v, ok := payload["id"]; ok {
		doc.ID = v.GetStringValue()
	}
	if v, ok := payload["text"]; ok {
		doc.Text = v.GetStringValue()
	}
	if v, ok := payload["context"]; ok {
		if s := v.GetStringValue(); s != "" {
			var ctx map[string]any
			if err := json.Unmarshal([]byte(s), &ctx); err == nil {
				doc.Context = ctx
			}
		}
	}

	return doc
}
