// Package index provides namespace-partitioned vector index implementations.
package index

import (
	"context"
	"errors"
	"math"

	"github.com/charja113/llmchat-memory/internal/model"
)

// Index はベクトルインデックスの抽象インターフェース
// namespaceごとに独立したパーティションを持ち、検索・削除が
// 他のnamespaceへ影響しないことを保証する
type Index interface {
	// Upsert は (namespace, doc.ID) をキーとしてドキュメントを追加/上書きする
	// namespaceは初回書き込み時に暗黙に作成される
	Upsert(ctx context.Context, namespace string, doc model.Document, vector []float32) error

	// Search はnamespace内でk近傍検索を実行する
	// スコア降順、score >= minScore のみ、最大topK件
	// 空のnamespaceや0件ヒットは空スライスを返す（エラーではない）
	Search(ctx context.Context, namespace string, vector []float32, topK int, minScore float64) ([]model.SearchResult, error)

	// List はnamespace内の格納済みドキュメントを返す（スコアなし）
	// limit <= 0 は全件
	List(ctx context.Context, namespace string, limit int) ([]model.Document, error)

	// Clear はnamespace内の全ドキュメントを削除する。namespace不在はno-op
	Clear(ctx context.Context, namespace string) error

	// Count はnamespace内のドキュメント数を返す。namespace不在は0
	Count(ctx context.Context, namespace string) (int, error)

	// Namespaces は存在するnamespace一覧を返す
	Namespaces(ctx context.Context) ([]string, error)

	// Close はインデックスをクローズする
	Close() error
}

// エラー定義
var (
	ErrNotInitialized   = errors.New("index not initialized")
	ErrConnectionFailed = errors.New("failed to connect to index backend")
	ErrStorage          = errors.New("index storage failure")
)

// cosineScore はコサイン類似度を0-1のスコアに正規化して返す
// (similarityは-1〜1なので、distance 0〜2 を 1 - dist/2 で写像)
func cosineScore(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)

	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := dotProduct / (normA * normB)
	distance := 1.0 - similarity

	return 1.0 - distance/2.0
}
