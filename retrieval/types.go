// Package retrieval はローカル埋め込みサーバーのライフサイクル管理と
// 型付き検索操作（ツール・記憶のインデックスと検索）を提供する
package retrieval

import (
	"encoding/json"
	"fmt"
	"time"
)

// 既知のnamespace
const (
	NamespaceTools        = "tools"
	NamespaceConversation = "conversation_history"
	NamespaceLLMMemories  = "llm_memories"
	NamespaceUserInfo     = "user_info"
	NamespaceWorldFacts   = "world_facts"
	NamespaceVolatile     = "volatile_info"
)

// protectedNamespaces はClearNamespaceで削除を拒否するnamespace
// 学習済みの長期記憶を誤操作から守る
var protectedNamespaces = map[string]bool{
	NamespaceLLMMemories: true,
}

// memoryNamespaces はRelevantMemoriesが横断検索するnamespace
var memoryNamespaces = []string{
	NamespaceConversation,
	NamespaceLLMMemories,
	NamespaceUserInfo,
	NamespaceWorldFacts,
	NamespaceVolatile,
}

// ToolDescriptor は検索対象となるツールの記述
type ToolDescriptor struct {
	Name        string         `json:"name"` // 一意キー、ドキュメントIDを兼ねる
	Description string         `json:"description"`
	Category    string         `json:"category,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema相当
	Keywords    []string       `json:"keywords,omitempty"`
}

// Validate はToolDescriptorのバリデーションを実行する
func (t *ToolDescriptor) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidDocument)
	}
	if t.Description == "" {
		return fmt.Errorf("%w: tool %q has no description", ErrInvalidDocument, t.Name)
	}
	return nil
}

// equal はdiffインデックスの比較。description/parameters/keywordsが
// 全て一致すれば再埋め込み不要
func (t *ToolDescriptor) equal(other *ToolDescriptor) bool {
	if other == nil {
		return false
	}
	if t.Description != other.Description || t.Category != other.Category {
		return false
	}
	if len(t.Keywords) != len(other.Keywords) {
		return false
	}
	for i, k := range t.Keywords {
		if other.Keywords[i] != k {
			return false
		}
	}
	// ParametersはJSON表現で比較する（mapのキー順はMarshalで安定）
	a, err1 := json.Marshal(t.Parameters)
	b, err2 := json.Marshal(other.Parameters)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(a) == string(b)
}

// MemoryMetadata は記憶の分類情報
type MemoryMetadata struct {
	Type       string   `json:"type,omitempty"`       // "llm_memory" | "user_info" | "world_fact" | "volatile" | ""
	Importance string   `json:"importance,omitempty"` // "high" | "normal"
	Tags       []string `json:"tags,omitempty"`
}

// MemoryContext は記憶に付随する構造化メタデータ
// 埋め込み対象のテキストとは別に保存され、読み出し時の
// ブースト計算と揮発判定に使用される
type MemoryContext struct {
	Timestamp        time.Time      `json:"timestamp,omitempty"`
	ConversationID   string         `json:"conversation_id,omitempty"`
	Response         string         `json:"response,omitempty"`
	RelevantMemories []string       `json:"relevant_memories,omitempty"`
	ToolResults      map[string]any `json:"tool_results,omitempty"`
	Metadata         MemoryMetadata `json:"metadata,omitempty"`
	IsVolatile       bool           `json:"is_volatile,omitempty"`
	ExpiresAt        time.Time      `json:"expires_at,omitempty"`
}

// MemoryDocument は会話の1ターンや学習済みの事実を表す
type MemoryDocument struct {
	ID      string        `json:"id,omitempty"` // 空ならサーバー側で生成
	Text    string        `json:"text"`
	Context MemoryContext `json:"context"`
}

// Validate はMemoryDocumentのバリデーションを実行する
// ネットワーク呼び出し前に弾く（fail fast）
func (m *MemoryDocument) Validate() error {
	if m.Text == "" {
		return fmt.Errorf("%w: memory text is required", ErrInvalidDocument)
	}
	if m.Context.IsVolatile && m.Context.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: volatile memory requires expires_at", ErrInvalidDocument)
	}
	return nil
}

// expired は揮発性の記憶が期限切れかを返す
func (m *MemoryDocument) expired(now time.Time) bool {
	return m.Context.IsVolatile && !m.Context.ExpiresAt.IsZero() && m.Context.ExpiresAt.Before(now)
}

// ScoredMemory は検索で得られた記憶とそのスコア
type ScoredMemory struct {
	MemoryDocument
	Namespace string  `json:"namespace"`
	Score     float64 `json:"score"`     // サーバーのcosineスコア
	Relevance float64 `json:"relevance"` // ブースト適用後、[0,1]にクランプ
}

// ToolSearchResult はSearchToolsの結果バンドル
type ToolSearchResult struct {
	Tools        []ToolDescriptor // セマンティック一致 + キーワード一致の和集合
	Descriptions []string         // "name: description" 形式の要約行
	RawPrompt    string           // LLMに渡すツール使用指示ブロック
}

// contextToMap はMemoryContextをワイヤ用のmapに変換する
func contextToMap(c MemoryContext) (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// contextFromMap はワイヤ上のmapからMemoryContextを復元する
func contextFromMap(m map[string]any) MemoryContext {
	if m == nil {
		return MemoryContext{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return MemoryContext{}
	}
	var c MemoryContext
	if err := json.Unmarshal(data, &c); err != nil {
		return MemoryContext{}
	}
	return c
}
