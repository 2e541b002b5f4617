package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "nomic-embed-text"
)

// OllamaEmbedder はOllama APIを使用するEmbedder実装
type OllamaEmbedder struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dim        int
	dimOnce    sync.Once
}

// NewOllamaEmbedder は新しいOllamaEmbedderを作成
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaEmbedder{
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		model:      model,
	}
}

// ollamaRequest はOllama APIリクエストの構造
type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ollamaResponse はOllama APIレスポンスの構造
type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed はテキストを埋め込みベクトルに変換
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqJSON, err := json.Marshal(ollamaRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	url := e.baseURL + "/api/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrAPIRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrAPIRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	var embResp ollamaResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	if e.dim == 0 {
		e.dimOnce.Do(func() {
			e.dim = len(embResp.Embedding)
		})
	}

	return embResp.Embedding, nil
}

// Dimension は次元を返す
func (e *OllamaEmbedder) Dimension() int {
	return e.dim
}
