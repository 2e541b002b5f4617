package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/charja113/llmchat-memory/internal/model"
	"github.com/charja113/llmchat-memory/internal/service"
)

// Service はトランスポートが要求するサービス操作
type Service interface {
	Health(ctx context.Context) *service.HealthResponse
	Status(ctx context.Context) *service.StatusResponse
	Index(ctx context.Context, req *service.IndexRequest) (*service.IndexResponse, error)
	Search(ctx context.Context, req *service.SearchRequest) (*service.SearchResponse, error)
	List(ctx context.Context, namespace string, limit int) ([]model.Document, error)
	Clear(ctx context.Context, namespace string) error
	Count(ctx context.Context, namespace string) (int, error)
}

// ワイヤフォーマット
type indexBody struct {
	Namespace string           `json:"namespace"`
	Documents []model.Document `json:"documents"`
}

type searchBody struct {
	Query      string   `json:"query"`
	Namespaces []string `json:"namespaces"`
	Namespace  string   `json:"namespace"` // 単一namespace指定の後方互換
	TopK       *int     `json:"top_k"`
	MinScore   *float64 `json:"min_score"`
}

type namespaceBody struct {
	Namespace string `json:"namespace"`
	Limit     int    `json:"limit"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// writeJSON はレスポンスをJSONで書き出す
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError はエラーをstatus:"error"形式で書き出す
func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Status: "error", Error: err.Error()})
}

// errorStatusCode はサービスエラーをHTTPステータスに対応づける
func errorStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrModelNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrNamespaceRequired),
		errors.Is(err, service.ErrQueryRequired),
		errors.Is(err, service.ErrNoDocuments),
		errors.Is(err, model.ErrInvalidNamespace):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody はPOSTのJSONボディをデコードする
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "application/json") {
		http.Error(w, "Unsupported Media Type", http.StatusUnsupportedMediaType)
		return false
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.handleCORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, s.service.Health(r.Context()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.handleCORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, s.service.Status(r.Context()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.handleCORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body indexBody
	if !decodeBody(w, r, &body) {
		return
	}

	resp, err := s.service.Index(r.Context(), &service.IndexRequest{
		Namespace: body.Namespace,
		Documents: body.Documents,
	})
	if err != nil {
		writeError(w, errorStatusCode(err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		*service.IndexResponse
	}{Status: "success", IndexResponse: resp})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.handleCORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body searchBody
	if !decodeBody(w, r, &body) {
		return
	}

	namespaces := body.Namespaces
	if len(namespaces) == 0 && body.Namespace != "" {
		namespaces = []string{body.Namespace}
	}

	resp, err := s.service.Search(r.Context(), &service.SearchRequest{
		Namespaces: namespaces,
		Query:      body.Query,
		TopK:       body.TopK,
		MinScore:   body.MinScore,
	})
	if err != nil {
		writeError(w, errorStatusCode(err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		*service.SearchResponse
	}{Status: "success", SearchResponse: resp})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.handleCORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body namespaceBody
	if !decodeBody(w, r, &body) {
		return
	}

	docs, err := s.service.List(r.Context(), body.Namespace, body.Limit)
	if err != nil {
		writeError(w, errorStatusCode(err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status    string           `json:"status"`
		Namespace string           `json:"namespace"`
		Documents []model.Document `json:"documents"`
	}{Status: "success", Namespace: body.Namespace, Documents: docs})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.handleCORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body namespaceBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.service.Clear(r.Context(), body.Namespace); err != nil {
		writeError(w, errorStatusCode(err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status    string `json:"status"`
		Namespace string `json:"namespace"`
	}{Status: "success", Namespace: body.Namespace})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if s.handleCORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body namespaceBody
	if !decodeBody(w, r, &body) {
		return
	}

	count, err := s.service.Count(r.Context(), body.Namespace)
	if err != nil {
		writeError(w, errorStatusCode(err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status    string `json:"status"`
		Namespace string `json:"namespace"`
		Count     int    `json:"count"`
	}{Status: "success", Namespace: body.Namespace, Count: count})
}
