package model

// Config はサーバー全体の設定を表す
type Config struct {
	Server   ServerConfig   `json:"server"`
	Embedder EmbedderConfig `json:"embedder"`
	Store    StoreConfig    `json:"store"`
	Paths    PathsConfig    `json:"paths"`
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Host string `json:"host"` // デフォルト: 127.0.0.1
	Port int    `json:"port"` // 0なら空きポートを自動割当
}

// EmbedderConfig はembedder設定
type EmbedderConfig struct {
	Provider string  `json:"provider"`          // "openai" | "ollama" | "local" | "onnx"
	Model    string  `json:"model"`             // モデル名
	Dim      int     `json:"dim"`               // ベクトル次元（0は未設定）
	BaseURL  *string `json:"baseUrl,omitempty"` // nullable、省略可
	APIKey   *string `json:"apiKey,omitempty"`  // nullable、省略可（セキュリティ注意）
	Cache    bool    `json:"cache"`             // 埋め込みキャッシュの有効化
}

// StoreConfig はvector index設定
type StoreConfig struct {
	Type string  `json:"type"`           // "memory" | "sqlite" | "qdrant" | "chromem"
	Path *string `json:"path,omitempty"` // nullable（SQLite/Chromem用）
	URL  *string `json:"url,omitempty"`  // nullable（Qdrant用）
}

// PathsConfig はファイルパス設定
type PathsConfig struct {
	ConfigPath string `json:"configPath"` // 設定ファイルパス
	DataDir    string `json:"dataDir"`    // データディレクトリ
}

// Embedder Provider定数
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"
	ProviderONNX   = "onnx"
)

// Index Type定数
const (
	IndexTypeMemory  = "memory"
	IndexTypeSQLite  = "sqlite"
	IndexTypeQdrant  = "qdrant"
	IndexTypeChromem = "chromem"
)
