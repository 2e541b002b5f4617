package service

import "github.com/charja113/llmchat-memory/internal/model"

// IndexRequest はドキュメント登録リクエスト
type IndexRequest struct {
	Namespace string
	Documents []model.Document
}

// DocumentFailure は部分失敗の1件を表す
type DocumentFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// IndexResponse はドキュメント登録レスポンス
// Failedが空でなければ部分失敗（成功分は格納済み）
type IndexResponse struct {
	Count  int               `json:"count"` // 格納に成功した件数
	Failed []DocumentFailure `json:"failed,omitempty"`
}

// SearchRequest は検索リクエスト
// Namespacesは常に配列（1件検索はsingleton list）
type SearchRequest struct {
	Namespaces []string
	Query      string
	TopK       *int     // default 3
	MinScore   *float64 // default 0.1
}

// SearchResponse は検索レスポンス
// namespaceごとに独立した結果セットを返す（スコアの暗黙マージはしない）
type SearchResponse struct {
	Query   string                          `json:"query"`
	Results map[string][]model.SearchResult `json:"results"`
}

// HealthResponse はヘルスチェックレスポンス
type HealthResponse struct {
	Status      string   `json:"status"` // "healthy" | "degraded"
	ModelLoaded bool     `json:"model_loaded"`
	Collections []string `json:"collections"`
}

// StatusResponse は詳細ステータスレスポンス
type StatusResponse struct {
	Status         string         `json:"status"`
	Model          string         `json:"model"`
	ModelLoaded    bool           `json:"model_loaded"`
	DocumentCounts map[string]int `json:"document_counts"`
}

// ヘルスステータス定数
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)
