package embedder

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder は埋め込み結果をキャッシュするEmbedderデコレータ
// ツール説明のように同一テキストを繰り返し埋め込むケースで
// API呼び出し・モデル推論を節約する
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder は新しいCachedEmbedderを作成
func NewCachedEmbedder(inner Embedder, maxBytes int64) (*CachedEmbedder, error) {
	if maxBytes <= 0 {
		maxBytes = 32 << 20 // 32MB
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	return &CachedEmbedder{
		inner: inner,
		cache: cache,
	}, nil
}

// Embed はキャッシュを確認してからテキストを埋め込みベクトルに変換
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// コストはベクトルのバイト数
	e.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

// Dimension は次元を返す
func (e *CachedEmbedder) Dimension() int {
	return e.inner.Dimension()
}

// Close はキャッシュを解放する
func (e *CachedEmbedder) Close() {
	e.cache.Close()
}
