//go:build !onnx

package embedder

import "fmt"

// ONNXConfig はONNXEmbedderの設定
type ONNXConfig struct {
	ModelPath   string
	VocabPath   string
	LibraryPath string
	Dim         int
}

// NewONNXEmbedder はonnxビルドタグなしでは常にエラーを返す
// onnxruntimeの共有ライブラリを要求するため、ローカル推論はopt-in
func NewONNXEmbedder(cfg ONNXConfig) (Embedder, error) {
	return nil, fmt.Errorf("%w: built without onnx tag", ErrModelUnavailable)
}
