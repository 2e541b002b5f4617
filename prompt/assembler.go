package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charja113/llmchat-memory/retrieval"
)

const (
	// safetyBuffer は見積もり誤差を吸収する予約トークン数
	safetyBuffer = 200
	// memoryFraction は残余予算のうち記憶コンテキストに割く割合
	memoryFraction = 0.3
	// truncationMarker は途中で切ったメッセージに付ける印
	truncationMarker = "\n[... truncated]"

	// メッセージロール
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message はLLMに渡すメッセージの1件
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildRequest はプロンプト組み立ての入力
type BuildRequest struct {
	Query     string                     // 今回のユーザー発話
	MaxTokens int                        // ユーザー設定の上限、0ならプロバイダ上限
	Tools     []retrieval.ToolDescriptor // 検索で選ばれた利用可能ツール
	Memories  []retrieval.ScoredMemory   // 検索済みの関連記憶（省略可）
	History   []Message                  // 過去の会話、古い順
	Now       time.Time                  // ゼロ値なら現在時刻
}

// Assembler はトークン予算内のメッセージリストを組み立てる
type Assembler struct {
	provider  string
	estimator Estimator
}

// NewAssembler はプロバイダ向けのAssemblerを作成する
func NewAssembler(provider string) *Assembler {
	return &Assembler{
		provider:  provider,
		estimator: NewEstimator(provider),
	}
}

// NewAssemblerWithEstimator は見積もり器を差し替えたAssemblerを作成する
func NewAssemblerWithEstimator(provider string, est Estimator) *Assembler {
	return &Assembler{
		provider:  provider,
		estimator: est,
	}
}

// Build はメッセージリストを組み立てる
// 出力の推定合計トークンは常に MaxTokens - safetyBuffer 以下に収まる
//
// メッセージ順は [system, user, 履歴(古い順)...]。ユーザー発話が
// 履歴より前に置かれるのは互換のため維持している観測仕様
func (a *Assembler) Build(req *BuildRequest) []Message {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	maxTokens := MaxTokensFor(a.provider, req.MaxTokens)

	system := a.buildSystemMessage(req.Tools, now)

	// システム + ユーザー発話 + 安全バッファを先取りする
	reserved := a.estimator.Estimate(system) + a.estimator.Estimate(req.Query) + safetyBuffer
	remaining := maxTokens - reserved
	if remaining < 0 {
		remaining = 0
	}

	// 記憶コンテキストは残余の一定割合まで
	memoryBudget := int(float64(remaining) * memoryFraction)
	memorySection, memoryTokens := a.buildMemorySection(req.Memories, memoryBudget, now)
	if memorySection != "" {
		system += "\n\n" + memorySection
	}

	historyBudget := remaining - memoryTokens
	history := a.trimHistory(req.History, historyBudget)

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: system})
	messages = append(messages, Message{Role: RoleUser, Content: req.Query})
	messages = append(messages, history...)
	return messages
}

// buildSystemMessage はツール指示と利用可能ツール一覧を含む
// システムメッセージを組み立てる
func (a *Assembler) buildSystemMessage(tools []retrieval.ToolDescriptor, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("You are a desktop assistant. Current time: ")
	sb.WriteString(now.Format(time.RFC1123))
	sb.WriteString("\n")

	if len(tools) > 0 {
		sb.WriteString("\nAvailable tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
			if len(t.Parameters) > 0 {
				if params, err := json.Marshal(t.Parameters); err == nil {
					fmt.Fprintf(&sb, "  Parameters: %s\n", params)
				}
			}
		}

		sb.WriteString("\nUse a tool only when the request cannot be answered from ")
		sb.WriteString("conversation context alone:\n")
		sb.WriteString("- The user asks to act on windows, workspaces or the system: use the matching tool.\n")
		sb.WriteString("- The user asks about live information you cannot know: use a tool.\n")
		sb.WriteString("- Otherwise answer directly without any tool call.\n")
		sb.WriteString("To call a tool, respond with exactly one JSON object: ")
		sb.WriteString(`{"tool": "<name>", "arguments": {...}}`)
	}

	return sb.String()
}

// memoryGroup は記憶セクション内の意味カテゴリ
type memoryGroup struct {
	header     string
	namespaces []string
}

// 出力順のグループ定義
var memoryGroups = []memoryGroup{
	{"## About the user", []string{retrieval.NamespaceUserInfo}},
	{"## Current context", []string{retrieval.NamespaceVolatile}},
	{"## Known facts", []string{retrieval.NamespaceWorldFacts, retrieval.NamespaceLLMMemories}},
	{"## Earlier conversations", []string{retrieval.NamespaceConversation}},
}

// buildMemorySection は記憶をカテゴリごとにまとめたテキストブロックを返す
// relevance降順で貪欲に詰め、予算を超えるところで打ち切る
// （グループ途中での打ち切りを許す）
func (a *Assembler) buildMemorySection(memories []retrieval.ScoredMemory, budget int, now time.Time) (string, int) {
	if len(memories) == 0 || budget <= 0 {
		return "", 0
	}

	// 期限切れの揮発記憶は読み出し側でも必ず落とす
	valid := make([]retrieval.ScoredMemory, 0, len(memories))
	for _, m := range memories {
		if m.Context.IsVolatile && !m.Context.ExpiresAt.IsZero() && m.Context.ExpiresAt.Before(now) {
			continue
		}
		valid = append(valid, m)
	}
	if len(valid) == 0 {
		return "", 0
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Relevance > valid[j].Relevance
	})

	byNamespace := map[string][]retrieval.ScoredMemory{}
	for _, m := range valid {
		byNamespace[m.Namespace] = append(byNamespace[m.Namespace], m)
	}

	var sb strings.Builder
	used := 0

	appendLine := func(line string) bool {
		cost := a.estimator.Estimate(line + "\n")
		if used+cost > budget {
			return false
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		used += cost
		return true
	}

	for _, group := range memoryGroups {
		var items []retrieval.ScoredMemory
		for _, ns := range group.namespaces {
			items = append(items, byNamespace[ns]...)
		}
		if len(items) == 0 {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Relevance > items[j].Relevance
		})

		if !appendLine(group.header) {
			break
		}
		for _, m := range items {
			if !appendLine("- " + m.Text) {
				return strings.TrimRight(sb.String(), "\n"), used
			}
		}
	}

	return strings.TrimRight(sb.String(), "\n"), used
}

// trimHistory は履歴を新しい方から予算に収まるだけ採用する
// 入りきらない最初のメッセージは、バッファ分を超える余りがある場合のみ
// 切り詰めて採用する。返り値は古い順
func (a *Assembler) trimHistory(history []Message, budget int) []Message {
	if budget <= 0 || len(history) == 0 {
		return []Message{}
	}

	kept := []Message{}
	remaining := budget

	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		cost := a.estimator.Estimate(msg.Content)

		if cost <= remaining {
			kept = append(kept, msg)
			remaining -= cost
			continue
		}

		// 次のメッセージが入らない。十分な余りがあれば切り詰めて採用
		if remaining > safetyBuffer {
			truncated := a.truncateToFit(msg.Content, remaining)
			if truncated != "" {
				kept = append(kept, Message{Role: msg.Role, Content: truncated})
			}
		}
		break
	}

	// 新しい順で集めたので古い順に戻す
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// truncateToFit はテキストを予算内に収まるまで切り詰め、印を付ける
func (a *Assembler) truncateToFit(text string, budget int) string {
	markerCost := a.estimator.Estimate(truncationMarker)
	target := budget - markerCost
	if target <= 0 {
		return ""
	}

	// 見積もり比で切ってから、収まるまで少しずつ詰める
	est := a.estimator.Estimate(text)
	if est <= 0 {
		return ""
	}
	cut := len(text) * target / est
	if cut > len(text) {
		cut = len(text)
	}

	for cut > 0 {
		candidate := text[:cut]
		if a.estimator.Estimate(candidate) <= target {
			return candidate + truncationMarker
		}
		cut = cut * 9 / 10
	}
	return ""
}
