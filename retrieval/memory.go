package retrieval

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RelevantMemoriesのデフォルト値
const (
	DefaultMemoryTopK = 5

	// ブースト係数。relevanceは常に[0,1]にクランプされる
	recencyBoostFactor    = 1.2
	recencyBoostWindow    = 24 * time.Hour
	importanceBoostFactor = 1.3
)

// namespaceMinScores はnamespaceごとの検索ノイズ閾値
// 長期記憶ほど高精度の一致を要求する
var namespaceMinScores = map[string]float64{
	NamespaceConversation: 0.15,
	NamespaceLLMMemories:  0.3,
	NamespaceUserInfo:     0.3,
	NamespaceWorldFacts:   0.25,
	NamespaceVolatile:     0.2,
}

// namespaceForMemory はメタデータのtypeから格納先namespaceを決める
func namespaceForMemory(m *MemoryDocument) string {
	switch m.Context.Metadata.Type {
	case "llm_memory":
		return NamespaceLLMMemories
	case "user_info":
		return NamespaceUserInfo
	case "world_fact":
		return NamespaceWorldFacts
	case "volatile":
		return NamespaceVolatile
	default:
		return NamespaceConversation
	}
}

// IndexMemory は記憶を格納する
// 格納先はContext.Metadata.Typeで決まり、Timestampが未設定なら現在時刻を押す
// Ready以外ではno-op
func (c *Client) IndexMemory(ctx context.Context, mem *MemoryDocument) error {
	if err := mem.Validate(); err != nil {
		return err
	}

	if mem.Context.Timestamp.IsZero() {
		mem.Context.Timestamp = time.Now()
	}

	if !c.Ready() {
		log.Printf("[RETRIEVAL] not ready, skipping memory indexing")
		return nil
	}

	contextMap, err := contextToMap(mem.Context)
	if err != nil {
		return err
	}

	namespace := namespaceForMemory(mem)
	err = c.postJSON(ctx, "/index", map[string]any{
		"namespace": namespace,
		"documents": []wireDocument{{
			ID:      mem.ID,
			Text:    mem.Text,
			Context: contextMap,
		}},
	}, nil)
	if err != nil {
		log.Printf("[RETRIEVAL] memory indexing failed: %v", err)
		return nil
	}

	return nil
}

// RelevantMemories はクエリに関連する記憶を全記憶namespaceから収集する
// namespaceごとに並列検索し、recency/importanceブーストを適用した
// relevance降順でtopK件を返す。期限切れの揮発記憶は除外される
// Ready以外では空の結果を返す
func (c *Client) RelevantMemories(ctx context.Context, query string, topK int) ([]ScoredMemory, error) {
	if topK <= 0 {
		topK = DefaultMemoryTopK
	}

	if !c.Ready() {
		return []ScoredMemory{}, nil
	}

	now := time.Now()

	var mu sync.Mutex
	collected := []ScoredMemory{}

	g, gctx := errgroup.WithContext(ctx)
	for _, ns := range memoryNamespaces {
		g.Go(func() error {
			minScore := namespaceMinScores[ns]

			var searchResp struct {
				Results map[string][]wireResult `json:"results"`
			}
			err := c.postJSON(gctx, "/search", map[string]any{
				"query":      query,
				"namespaces": []string{ns},
				"top_k":      topK,
				"min_score":  minScore,
			}, &searchResp)
			if err != nil {
				// 1 namespaceの失敗で全体を落とさない
				log.Printf("[RETRIEVAL] memory search failed for %s: %v", ns, err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, hit := range searchResp.Results[ns] {
				mem := ScoredMemory{
					MemoryDocument: MemoryDocument{
						ID:      hit.ID,
						Text:    hit.Text,
						Context: contextFromMap(hit.Context),
					},
					Namespace: ns,
					Score:     hit.Score,
				}

				if mem.expired(now) {
					continue
				}

				mem.Relevance = boostedRelevance(hit.Score, mem.Context, now)
				collected = append(collected, mem)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return []ScoredMemory{}, nil
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].Relevance > collected[j].Relevance
	})

	if len(collected) > topK {
		collected = collected[:topK]
	}
	return collected, nil
}

// boostedRelevance はスコアに新しさと重要度のブーストを適用する
// 結果は[0,1]にクランプされる
func boostedRelevance(score float64, memCtx MemoryContext, now time.Time) float64 {
	relevance := score

	if !memCtx.Timestamp.IsZero() && now.Sub(memCtx.Timestamp) < recencyBoostWindow {
		relevance *= recencyBoostFactor
	}
	if memCtx.Metadata.Importance == "high" {
		relevance *= importanceBoostFactor
	}

	if relevance > 1.0 {
		return 1.0
	}
	if relevance < 0 {
		return 0
	}
	return relevance
}

// ResetMemories は全記憶namespaceを一括で削除する
// 保護対象namespace（llm_memories）はスキップされ、削除されない
// Ready以外ではno-op
func (c *Client) ResetMemories(ctx context.Context) error {
	for _, ns := range memoryNamespaces {
		if err := c.ClearNamespace(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

// ClearNamespace はnamespaceの全ドキュメントを削除する
// 保護対象namespace（llm_memories）は警告を出して何もしない
// Ready以外ではno-op
func (c *Client) ClearNamespace(ctx context.Context, namespace string) error {
	if protectedNamespaces[namespace] {
		log.Printf("[RETRIEVAL] refusing to clear protected namespace %q", namespace)
		return nil
	}

	if !c.Ready() {
		return nil
	}

	err := c.postJSON(ctx, "/clear", map[string]any{
		"namespace": namespace,
	}, nil)
	if err != nil {
		log.Printf("[RETRIEVAL] clear failed for %s: %v", namespace, err)
		return nil
	}
	return nil
}
