// Package service implements the embedding service operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/charja113/llmchat-memory/internal/embedder"
	"github.com/charja113/llmchat-memory/internal/index"
	"github.com/charja113/llmchat-memory/internal/model"
)

// デフォルト値
const (
	DefaultTopK     = 3
	DefaultMinScore = 0.1
)

// エラー定義
var (
	ErrModelNotReady     = errors.New("embedding model not ready")
	ErrNamespaceRequired = errors.New("namespace is required")
	ErrQueryRequired     = errors.New("query is required")
	ErrNoDocuments       = errors.New("documents must not be empty")
)

// Service は埋め込みサービス本体
// Embedderとvector indexを所有し、index/search/clear/healthを提供する
//
// モデルのロードはプロセス起動に対して非同期（Startで開始）で、
// 完了まではIndex/SearchがErrModelNotReadyで失敗する。
// 準備前の呼び出しを空結果に縮退させるのはクライアント側の責務
type Service struct {
	embedder  embedder.Embedder
	index     index.Index
	modelName string

	mu          sync.RWMutex
	modelLoaded bool
	loadErr     error
}

// New はServiceを作成する
func New(emb embedder.Embedder, idx index.Index, modelName string) *Service {
	return &Service{
		embedder:  emb,
		index:     idx,
		modelName: modelName,
	}
}

// Start はモデルのウォームアップを非同期に開始する
// 完了時にonReadyが呼ばれる（nil可）
func (s *Service) Start(ctx context.Context, onReady func(err error)) {
	go func() {
		// 1回埋め込みを実行してモデルロードと次元確定を済ませる
		_, err := s.embedder.Embed(ctx, "warmup")

		s.mu.Lock()
		if err != nil {
			s.loadErr = err
		} else {
			s.modelLoaded = true
		}
		s.mu.Unlock()

		if err != nil {
			log.Printf("[WARN] model warmup failed: %v", err)
		} else {
			log.Printf("[SERVICE] model ready: %s (dim=%d)", s.modelName, s.embedder.Dimension())
		}

		if onReady != nil {
			onReady(err)
		}
	}()
}

// ModelLoaded はモデルがロード済みかを返す
func (s *Service) ModelLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelLoaded
}

// Health はヘルスチェックを実行する。副作用なしで繰り返し呼べる
func (s *Service) Health(ctx context.Context) *HealthResponse {
	s.mu.RLock()
	loaded := s.modelLoaded
	loadErr := s.loadErr
	s.mu.RUnlock()

	status := StatusHealthy
	if !loaded || loadErr != nil {
		status = StatusDegraded
	}

	collections, err := s.index.Namespaces(ctx)
	if err != nil {
		log.Printf("[WARN] failed to list namespaces: %v", err)
		status = StatusDegraded
		collections = []string{}
	}

	return &HealthResponse{
		Status:      status,
		ModelLoaded: loaded,
		Collections: collections,
	}
}

// Status は詳細ステータスを返す
func (s *Service) Status(ctx context.Context) *StatusResponse {
	health := s.Health(ctx)

	counts := make(map[string]int, len(health.Collections))
	for _, ns := range health.Collections {
		count, err := s.index.Count(ctx, ns)
		if err != nil {
			log.Printf("[WARN] failed to count namespace %s: %v", ns, err)
			continue
		}
		counts[ns] = count
	}

	return &StatusResponse{
		Status:         health.Status,
		Model:          s.modelName,
		ModelLoaded:    health.ModelLoaded,
		DocumentCounts: counts,
	}
}

// Index はドキュメント群を埋め込んで格納する
// ドキュメント単位でatomicに処理し、部分失敗はFailedで報告する
func (s *Service) Index(ctx context.Context, req *IndexRequest) (*IndexResponse, error) {
	if req.Namespace == "" {
		return nil, ErrNamespaceRequired
	}
	if err := model.ValidateNamespace(req.Namespace); err != nil {
		return nil, err
	}
	if len(req.Documents) == 0 {
		return nil, ErrNoDocuments
	}
	if !s.ModelLoaded() {
		return nil, ErrModelNotReady
	}

	resp := &IndexResponse{}

	for _, doc := range req.Documents {
		if err := doc.Validate(); err != nil {
			resp.Failed = append(resp.Failed, DocumentFailure{ID: doc.ID, Error: err.Error()})
			continue
		}

		// ID省略時はサーバー側で生成
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}

		vector, err := s.embedder.Embed(ctx, doc.Text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			resp.Failed = append(resp.Failed, DocumentFailure{
				ID:    doc.ID,
				Error: fmt.Sprintf("failed to generate embedding: %v", err),
			})
			continue
		}

		if err := s.index.Upsert(ctx, req.Namespace, doc, vector); err != nil {
			resp.Failed = append(resp.Failed, DocumentFailure{
				ID:    doc.ID,
				Error: fmt.Sprintf("failed to store document: %v", err),
			})
			continue
		}

		resp.Count++
	}

	return resp, nil
}

// Search は各namespaceを独立に検索する
func (s *Service) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	if len(req.Namespaces) == 0 {
		return nil, ErrNamespaceRequired
	}
	if req.Query == "" {
		return nil, ErrQueryRequired
	}
	if !s.ModelLoaded() {
		return nil, ErrModelNotReady
	}

	topK := DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	minScore := DefaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	// クエリの埋め込みは1回だけ計算する
	vector, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	resp := &SearchResponse{
		Query:   req.Query,
		Results: make(map[string][]model.SearchResult, len(req.Namespaces)),
	}

	for _, ns := range req.Namespaces {
		if err := model.ValidateNamespace(ns); err != nil {
			return nil, err
		}

		results, err := s.index.Search(ctx, ns, vector, topK, minScore)
		if err != nil {
			return nil, fmt.Errorf("failed to search namespace %s: %w", ns, err)
		}
		resp.Results[ns] = results
	}

	return resp, nil
}

// List はnamespace内の格納済みドキュメントを返す
// クライアントの差分インデックス判定に使用される（モデル不要）
func (s *Service) List(ctx context.Context, namespace string, limit int) ([]model.Document, error) {
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}
	if err := model.ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	docs, err := s.index.List(ctx, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespace %s: %w", namespace, err)
	}
	return docs, nil
}

// Clear はnamespace内の全ドキュメントを削除する
func (s *Service) Clear(ctx context.Context, namespace string) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}
	if err := model.ValidateNamespace(namespace); err != nil {
		return err
	}

	if err := s.index.Clear(ctx, namespace); err != nil {
		return fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
	}

	log.Printf("[SERVICE] cleared namespace: %s", namespace)
	return nil
}

// Count はnamespace内のドキュメント数を返す
func (s *Service) Count(ctx context.Context, namespace string) (int, error) {
	if namespace == "" {
		return 0, ErrNamespaceRequired
	}
	if err := model.ValidateNamespace(namespace); err != nil {
		return 0, err
	}

	return s.index.Count(ctx, namespace)
}
