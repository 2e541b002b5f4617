package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultHashDim はHashEmbedderのデフォルト次元数
const DefaultHashDim = 384

// HashEmbedder は外部依存なしの決定的なEmbedder実装
// 単語のハッシュを固定次元に射影する簡易bag-of-wordsで、
// ONNXモデルが利用できない環境でのフォールバックとテストに使用する
// 同一テキストは常に同一ベクトルになる
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder は新しいHashEmbedderを作成
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDim
	}
	return &HashEmbedder{dim: dim}
}

// Embed はテキストを埋め込みベクトルに変換
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)

	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(word))
		sum := h.Sum64()

		// 同一単語が複数の成分に寄与するよう3スロットに分散する
		for i := 0; i < 3; i++ {
			slot := int((sum >> (i * 16)) % uint64(e.dim))
			sign := float32(1)
			if (sum>>(i*16+1))&1 == 1 {
				sign = -1
			}
			vec[slot] += sign
		}
	}

	// L2正規化（全ゼロの場合はそのまま返す）
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}

	return vec, nil
}

// Dimension は次元を返す
func (e *HashEmbedder) Dimension() int {
	return e.dim
}
