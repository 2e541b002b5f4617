package embedder

import (
	"log"
	"path/filepath"

	"github.com/charja113/llmchat-memory/internal/model"
)

// New はEmbedderConfigからEmbedderを作成
// onnx/localプロバイダはモデルが利用できない場合HashEmbedderにフォールバックする
// （検索機能が外部API無しでも動作するように）
func New(cfg *model.EmbedderConfig, envAPIKey string, dataDir string) (Embedder, error) {
	emb, err := newProvider(cfg, envAPIKey, dataDir)
	if err != nil {
		return nil, err
	}

	if cfg.Cache {
		cached, err := NewCachedEmbedder(emb, 0)
		if err != nil {
			log.Printf("[WARN] embedding cache unavailable, continuing without: %v", err)
			return emb, nil
		}
		return cached, nil
	}

	return emb, nil
}

func newProvider(cfg *model.EmbedderConfig, envAPIKey string, dataDir string) (Embedder, error) {
	switch cfg.Provider {
	case model.ProviderOpenAI:
		// APIKey解決: cfg.APIKey > envAPIKey
		apiKey := envAPIKey
		if cfg.APIKey != nil && *cfg.APIKey != "" {
			apiKey = *cfg.APIKey
		}

		opts := []OpenAIOption{}
		if cfg.BaseURL != nil && *cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(*cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		if cfg.Dim > 0 {
			opts = append(opts, WithDim(cfg.Dim))
		}

		return NewOpenAIEmbedder(apiKey, opts...)

	case model.ProviderOllama:
		baseURL := DefaultOllamaBaseURL
		if cfg.BaseURL != nil && *cfg.BaseURL != "" {
			baseURL = *cfg.BaseURL
		}
		return NewOllamaEmbedder(baseURL, cfg.Model), nil

	case model.ProviderONNX:
		emb, err := NewONNXEmbedder(ONNXConfig{
			ModelPath: filepath.Join(dataDir, "models", "model.onnx"),
			VocabPath: filepath.Join(dataDir, "models", "vocab.txt"),
			Dim:       cfg.Dim,
		})
		if err != nil {
			log.Printf("[WARN] onnx model unavailable, falling back to hash embedder: %v", err)
			return NewHashEmbedder(cfg.Dim), nil
		}
		return emb, nil

	case model.ProviderLocal:
		return NewHashEmbedder(cfg.Dim), nil

	default:
		return nil, ErrUnknownProvider
	}
}
