package model

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidNamespace はnamespaceの形式エラー
var ErrInvalidNamespace = errors.New("invalid namespace")

// Document は埋め込み対象のドキュメントを表す（内部データモデル）
// 識別子は (namespace, ID) の組。同じIDへの再インデックスは上書きとなる
type Document struct {
	ID      string         `json:"id"`                // 呼び出し側指定、空ならサーバー側でUUID生成
	Text    string         `json:"text"`              // 必須、埋め込み対象テキスト
	Context map[string]any `json:"context,omitempty"` // 不透明なメタデータ、省略可
}

// SearchResult は検索結果の1件を表す
type SearchResult struct {
	ID        string         `json:"id"`
	Namespace string         `json:"namespace"`
	Text      string         `json:"text"`
	Score     float64        `json:"score"` // コサイン類似度、0-1に正規化
	Context   map[string]any `json:"context,omitempty"`
}

var namespacePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate はDocumentのバリデーションを実行する
// IDは省略可（サーバー側で生成）、Textは必須
func (d *Document) Validate() error {
	if d.Text == "" {
		return fmt.Errorf("Text must not be empty")
	}
	return nil
}

// ValidateNamespace はnamespaceの文字制約を検証する
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidNamespace)
	}

	if !namespacePattern.MatchString(namespace) {
		return fmt.Errorf("%w: must match ^[a-zA-Z0-9_-]+$, got %q", ErrInvalidNamespace, namespace)
	}

	return nil
}
