package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charja113/llmchat-memory/internal/embedder"
	"github.com/charja113/llmchat-memory/internal/index"
	"github.com/charja113/llmchat-memory/internal/service"
)

// newTestServer はウォームアップ済みサービスを載せたServerを生成
func newTestServer(t *testing.T) *Server {
	t.Helper()

	svc := service.New(embedder.NewHashEmbedder(16), index.NewMemoryIndex(), "test-model")

	ready := make(chan error, 1)
	svc.Start(context.Background(), func(err error) { ready <- err })
	select {
	case err := <-ready:
		if err != nil {
			t.Fatalf("warmup failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for warmup")
	}

	return New(svc, Config{Addr: "127.0.0.1:0"})
}

// newColdServer はウォームアップしていないサービスを載せたServerを生成
func newColdServer(t *testing.T) *Server {
	t.Helper()
	svc := service.New(embedder.NewHashEmbedder(16), index.NewMemoryIndex(), "test-model")
	return New(svc, Config{Addr: "127.0.0.1:0"})
}

// doJSON はハンドラーを直接呼び、JSONレスポンスをデコードする
func doJSON(t *testing.T, handler http.HandlerFunc, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	handler(w, req)

	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w
}

// TestServer_Health はヘルスチェックをテスト
func TestServer_Health(t *testing.T) {
	server := newTestServer(t)

	var resp service.HealthResponse
	w := doJSON(t, server.handleHealth, "GET", "/health", "", &resp)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if resp.Status != service.StatusHealthy {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
	if !resp.ModelLoaded {
		t.Error("expected model_loaded=true")
	}
}

// TestServer_IndexAndSearch はindex→searchの往復をテスト
func TestServer_IndexAndSearch(t *testing.T) {
	server := newTestServer(t)

	indexBody := `{
		"namespace": "tools",
		"documents": [
			{"id": "get_time", "text": "get_time: returns the current time", "context": {"name": "get_time"}}
		]
	}`
	var indexResp struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}
	w := doJSON(t, server.handleIndex, "POST", "/index", indexBody, &indexResp)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if indexResp.Status != "success" {
		t.Errorf("expected status success, got %s", indexResp.Status)
	}
	if indexResp.Count != 1 {
		t.Errorf("expected count 1, got %d", indexResp.Count)
	}

	searchBody := `{"query": "returns the current time", "namespaces": ["tools"], "min_score": 0}`
	var searchResp struct {
		Status  string `json:"status"`
		Results map[string][]struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"results"`
	}
	w = doJSON(t, server.handleSearch, "POST", "/search", searchBody, &searchResp)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(searchResp.Results["tools"]) == 0 {
		t.Fatal("expected at least one hit")
	}
	if searchResp.Results["tools"][0].ID != "get_time" {
		t.Errorf("expected get_time, got %s", searchResp.Results["tools"][0].ID)
	}
}

// TestServer_ModelNotReady はウォームアップ前のindexが503になることをテスト
func TestServer_ModelNotReady(t *testing.T) {
	server := newColdServer(t)

	body := `{"namespace": "ns", "documents": [{"text": "hello"}]}`
	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	w := doJSON(t, server.handleIndex, "POST", "/index", body, &resp)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if resp.Status != "error" {
		t.Errorf("expected error discriminator, got %s", resp.Status)
	}
}

// TestServer_ValidationError はバリデーションエラーが400になることをテスト
func TestServer_ValidationError(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing namespace", `{"documents": [{"text": "x"}]}`},
		{"invalid namespace", `{"namespace": "bad ns!", "documents": [{"text": "x"}]}`},
		{"no documents", `{"namespace": "ns", "documents": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp struct {
				Status string `json:"status"`
			}
			w := doJSON(t, server.handleIndex, "POST", "/index", tt.body, &resp)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}
			if resp.Status != "error" {
				t.Errorf("expected error discriminator, got %s", resp.Status)
			}
		})
	}
}

// TestServer_InvalidJSON は壊れたJSONボディをテスト
func TestServer_InvalidJSON(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server.handleIndex, "POST", "/index", `{invalid json}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

// TestServer_MethodNotAllowed は不正なHTTPメソッドをテスト
func TestServer_MethodNotAllowed(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server.handleIndex, "GET", "/index", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405 for GET /index, got %d", w.Code)
	}

	w = doJSON(t, server.handleHealth, "POST", "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405 for POST /health, got %d", w.Code)
	}
}

// TestServer_InvalidContentType は不正なContent-Typeをテスト
func TestServer_InvalidContentType(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("POST", "/index", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	server.handleIndex(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected status 415, got %d", w.Code)
	}
}

// TestServer_ClearAndCount はclear/countの往復をテスト
func TestServer_ClearAndCount(t *testing.T) {
	server := newTestServer(t)

	indexBody := `{"namespace": "ns", "documents": [{"id": "a", "text": "hello"}]}`
	doJSON(t, server.handleIndex, "POST", "/index", indexBody, nil)

	var countResp struct {
		Count int `json:"count"`
	}
	doJSON(t, server.handleCount, "POST", "/count", `{"namespace": "ns"}`, &countResp)
	if countResp.Count != 1 {
		t.Errorf("expected count 1, got %d", countResp.Count)
	}

	var clearResp struct {
		Status string `json:"status"`
	}
	w := doJSON(t, server.handleClear, "POST", "/clear", `{"namespace": "ns"}`, &clearResp)
	if w.Code != http.StatusOK || clearResp.Status != "success" {
		t.Errorf("expected clear success, got %d %s", w.Code, clearResp.Status)
	}

	doJSON(t, server.handleCount, "POST", "/count", `{"namespace": "ns"}`, &countResp)
	if countResp.Count != 0 {
		t.Errorf("expected count 0 after clear, got %d", countResp.Count)
	}
}

// TestServer_List はlist操作をテスト
func TestServer_List(t *testing.T) {
	server := newTestServer(t)

	indexBody := `{"namespace": "ns", "documents": [{"id": "a", "text": "hello", "context": {"k": "v"}}]}`
	doJSON(t, server.handleIndex, "POST", "/index", indexBody, nil)

	var listResp struct {
		Status    string `json:"status"`
		Documents []struct {
			ID      string         `json:"id"`
			Text    string         `json:"text"`
			Context map[string]any `json:"context"`
		} `json:"documents"`
	}
	w := doJSON(t, server.handleList, "POST", "/list", `{"namespace": "ns"}`, &listResp)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if len(listResp.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(listResp.Documents))
	}
	if listResp.Documents[0].Context["k"] != "v" {
		t.Errorf("expected context round-trip, got %v", listResp.Documents[0].Context)
	}
}

// TestServer_ListenAddr はポート0での自動割当とAddrをテスト
func TestServer_ListenAddr(t *testing.T) {
	server := newTestServer(t)

	if server.Addr() != "" {
		t.Errorf("expected empty addr before Listen, got %s", server.Addr())
	}

	if err := server.Listen(); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer server.listener.Close()

	addr := server.Addr()
	if addr == "" || strings.HasSuffix(addr, ":0") {
		t.Errorf("expected a bound port, got %q", addr)
	}
}

// TestServer_GracefulShutdown はGraceful Shutdownをテスト
func TestServer_GracefulShutdown(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx)
	}()

	// サーバーが起動するまで待機
	time.Sleep(100 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			t.Errorf("expected nil, got http.ErrServerClosed")
		}
		if err != nil && err != context.Canceled {
			t.Errorf("expected nil or context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for server to stop")
	}
}
