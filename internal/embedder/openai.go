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
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"

	// エラーレスポンス本文の読み取り上限
	maxErrorBodyBytes = 4 << 10
)

// OpenAIEmbedder はOpenAI互換の/embeddings APIを使用するEmbedder実装
//
// 次元はWithDimで事前指定するか、初回のEmbed結果から確定する。
// 事前指定した場合はリクエストのdimensionsパラメータとして送られ、
// text-embedding-3系ではサーバー側でベクトルが切り詰められる
type OpenAIEmbedder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string

	mu  sync.Mutex
	dim int
}

// OpenAIOption はOpenAIEmbedderのオプション
type OpenAIOption func(*OpenAIEmbedder)

// WithBaseURL はベースURLを設定
func WithBaseURL(url string) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.baseURL = url
	}
}

// WithModel はモデルを設定
func WithModel(model string) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.model = model
	}
}

// WithDim は既知の次元を設定
func WithDim(dim int) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.dim = dim
	}
}

// WithHTTPClient はHTTPクライアントを設定
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.httpClient = client
	}
}

// NewOpenAIEmbedder は新しいOpenAIEmbedderを作成
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	e := &OpenAIEmbedder{
		httpClient: http.DefaultClient,
		baseURL:    DefaultOpenAIBaseURL,
		apiKey:     apiKey,
		model:      DefaultOpenAIModel,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// embeddingRequest は/embeddingsリクエストのワイヤフォーマット
type embeddingRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	EncodingFormat string `json:"encoding_format"`
	Dimensions     *int   `json:"dimensions,omitempty"`
}

// embeddingResponse は/embeddingsレスポンスのワイヤフォーマット
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// newRequest は認証ヘッダ付きのHTTPリクエストを組み立てる
func (e *OpenAIEmbedder) newRequest(ctx context.Context, text string) (*http.Request, error) {
	payload := embeddingRequest{
		Model:          e.model,
		Input:          text,
		EncodingFormat: "float",
	}
	if dim := e.Dimension(); dim > 0 {
		payload.Dimensions = &dim
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	return req, nil
}

// Embed はテキストを埋め込みベクトルに変換
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req, err := e.newRequest(ctx, text)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// キャンセルとタイムアウトはcontextのエラーをそのまま返す
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrAPIRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(msg),
		}
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if len(embResp.Data) == 0 || len(embResp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	embedding := embResp.Data[0].Embedding

	e.mu.Lock()
	if e.dim == 0 {
		e.dim = len(embedding)
	}
	e.mu.Unlock()

	return embedding, nil
}

// Dimension は次元を返す。未確定なら0
func (e *OpenAIEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}
