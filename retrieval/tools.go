package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// SearchToolsのデフォルト値
const (
	DefaultToolTopK     = 3
	DefaultToolMinScore = 0.1
)

// wireDocument はサーバーとやり取りするドキュメント表現
type wireDocument struct {
	ID      string         `json:"id,omitempty"`
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

// wireResult はサーバーの検索結果1件
type wireResult struct {
	ID        string         `json:"id"`
	Namespace string         `json:"namespace"`
	Text      string         `json:"text"`
	Score     float64        `json:"score"`
	Context   map[string]any `json:"context,omitempty"`
}

// toolDocument はToolDescriptorをインデックス用ドキュメントに変換する
// 構造化フィールドはcontextに保存し、埋め込み対象テキストは
// 名前・説明・キーワードの連結とする
func toolDocument(t ToolDescriptor) (wireDocument, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return wireDocument{}, err
	}
	var ctx map[string]any
	if err := json.Unmarshal(data, &ctx); err != nil {
		return wireDocument{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", t.Name, t.Description)
	if len(t.Keywords) > 0 {
		fmt.Fprintf(&sb, "\nKeywords: %s", strings.Join(t.Keywords, ", "))
	}
	if t.Category != "" {
		fmt.Fprintf(&sb, "\nCategory: %s", t.Category)
	}

	return wireDocument{
		ID:      t.Name,
		Text:    sb.String(),
		Context: ctx,
	}, nil
}

// descriptorFromContext はcontext mapからToolDescriptorを復元する
func descriptorFromContext(ctx map[string]any) (ToolDescriptor, bool) {
	if ctx == nil {
		return ToolDescriptor{}, false
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return ToolDescriptor{}, false
	}
	var t ToolDescriptor
	if err := json.Unmarshal(data, &t); err != nil || t.Name == "" {
		return ToolDescriptor{}, false
	}
	return t, true
}

// IndexTools はツール記述をインデックスする
// サーバー上の現状と比較し、変更・追加されたツールだけを送る
// （未変更ツールの再埋め込みを避ける）。Ready以外ではno-op
func (c *Client) IndexTools(ctx context.Context, tools []ToolDescriptor) error {
	for i := range tools {
		if err := tools[i].Validate(); err != nil {
			return err
		}
	}

	// キャッシュは接続状態に関わらず更新する（キーワード検索に使う）
	c.toolMu.Lock()
	for _, t := range tools {
		c.toolCache[t.Name] = t
	}
	c.toolMu.Unlock()

	if !c.Ready() {
		log.Printf("[RETRIEVAL] not ready, skipping tool indexing")
		return nil
	}

	// 現在インデックス済みのツールを取得して差分を取る
	indexed := map[string]ToolDescriptor{}
	var listResp struct {
		Documents []wireDocument `json:"documents"`
	}
	err := c.postJSON(ctx, "/list", map[string]any{
		"namespace": NamespaceTools,
	}, &listResp)
	if err != nil {
		log.Printf("[RETRIEVAL] failed to list indexed tools, re-indexing all: %v", err)
	} else {
		for _, doc := range listResp.Documents {
			if t, ok := descriptorFromContext(doc.Context); ok {
				indexed[t.Name] = t
			}
		}
	}

	changed := []wireDocument{}
	for _, t := range tools {
		existing, ok := indexed[t.Name]
		if ok && t.equal(&existing) {
			continue
		}
		doc, err := toolDocument(t)
		if err != nil {
			return err
		}
		changed = append(changed, doc)
	}

	if len(changed) == 0 {
		return nil
	}

	if err := c.postJSON(ctx, "/index", map[string]any{
		"namespace": NamespaceTools,
		"documents": changed,
	}, nil); err != nil {
		log.Printf("[RETRIEVAL] tool indexing failed: %v", err)
		return nil
	}

	log.Printf("[RETRIEVAL] indexed %d changed tools", len(changed))
	return nil
}

// SearchTools はクエリに関連するツールを返す
// セマンティック検索の結果に、キーワードが字句一致するツールを
// 和集合で加える（類似度がmin_scoreに届かない取りこぼし対策）
// Ready以外では空の結果を返す
func (c *Client) SearchTools(ctx context.Context, query string, topK int, minScore float64) (*ToolSearchResult, error) {
	if topK <= 0 {
		topK = DefaultToolTopK
	}
	if minScore <= 0 {
		minScore = DefaultToolMinScore
	}

	matched := []ToolDescriptor{}
	seen := map[string]bool{}

	if c.Ready() {
		var searchResp struct {
			Results map[string][]wireResult `json:"results"`
		}
		err := c.postJSON(ctx, "/search", map[string]any{
			"query":      query,
			"namespaces": []string{NamespaceTools},
			"top_k":      topK,
			"min_score":  minScore,
		}, &searchResp)
		if err != nil {
			log.Printf("[RETRIEVAL] tool search failed: %v", err)
		} else {
			for _, hit := range searchResp.Results[NamespaceTools] {
				t, ok := c.resolveTool(hit)
				if !ok {
					continue
				}
				if !seen[t.Name] {
					seen[t.Name] = true
					matched = append(matched, t)
				}
			}
		}
	}

	// キーワードによる字句一致フォールバック
	for _, t := range c.keywordMatches(query) {
		if !seen[t.Name] {
			seen[t.Name] = true
			matched = append(matched, t)
		}
	}

	result := &ToolSearchResult{Tools: matched}
	for _, t := range matched {
		result.Descriptions = append(result.Descriptions, fmt.Sprintf("%s: %s", t.Name, t.Description))
	}
	result.RawPrompt = buildRawPrompt(matched)
	return result, nil
}

// resolveTool は検索ヒットをToolDescriptorに解決する
// contextの構造化データを優先し、無ければクライアントのキャッシュをIDで引く
func (c *Client) resolveTool(hit wireResult) (ToolDescriptor, bool) {
	if t, ok := descriptorFromContext(hit.Context); ok {
		return t, true
	}

	c.toolMu.RLock()
	defer c.toolMu.RUnlock()
	t, ok := c.toolCache[hit.ID]
	return t, ok
}

// keywordMatches はキーワードがクエリに含まれるツールを返す
func (c *Client) keywordMatches(query string) []ToolDescriptor {
	lowered := strings.ToLower(query)

	c.toolMu.RLock()
	defer c.toolMu.RUnlock()

	var matched []ToolDescriptor
	for _, t := range c.toolCache {
		for _, kw := range t.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(kw)) {
				matched = append(matched, t)
				break
			}
		}
	}
	return matched
}

// buildRawPrompt はマッチしたツール群からLLM向けの使用指示ブロックを組み立てる
func buildRawPrompt(tools []ToolDescriptor) string {
	if len(tools) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("You have access to the following tools:\n\n")

	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		if len(t.Parameters) > 0 {
			params, err := json.Marshal(t.Parameters)
			if err == nil {
				fmt.Fprintf(&sb, "  Parameters: %s\n", params)
			}
		}
	}

	sb.WriteString("\nTo use a tool, respond with exactly one JSON object and nothing else:\n")
	sb.WriteString(`{"tool": "<tool name>", "arguments": {<parameters>}}`)
	sb.WriteString("\nIf no tool is needed, respond normally in plain text.")

	return sb.String()
}
