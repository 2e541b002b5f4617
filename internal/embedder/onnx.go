//go:build onnx

package embedder

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	onnxMaxSeqLen  = 128
	onnxDefaultDim = 384 // all-MiniLM-L6-v2
)

// ONNXConfig はONNXEmbedderの設定
type ONNXConfig struct {
	ModelPath   string // ONNXモデルファイルのパス
	VocabPath   string // vocab.txt（WordPiece語彙）のパス
	LibraryPath string // libonnxruntime共有ライブラリのパス
	Dim         int    // 埋め込み次元（0ならall-MiniLM-L6-v2の384）
}

// ONNXEmbedder はONNX Runtimeでローカル推論するEmbedder実装
// all-MiniLM-L6-v2系のBERTモデルを想定し、mean poolingで文ベクトルを得る
type ONNXEmbedder struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	vocab   map[string]int64
	dim     int
}

// NewONNXEmbedder は新しいONNXEmbedderを作成
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: ModelPath is required", ErrModelUnavailable)
	}
	if cfg.Dim == 0 {
		cfg.Dim = onnxDefaultDim
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize ONNX runtime: %v", ErrModelUnavailable, err)
	}

	vocab, err := loadVocab(cfg.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load vocab: %v", ErrModelUnavailable, err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ONNX session: %v", ErrModelUnavailable, err)
	}

	return &ONNXEmbedder{
		session: session,
		vocab:   vocab,
		dim:     cfg.Dim,
	}, nil
}

// Embed はテキストを埋め込みベクトルに変換
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	// onnxruntimeセッションはスレッドセーフではない
	e.mu.Lock()
	defer e.mu.Unlock()

	inputIDs, attentionMask := e.tokenize(text)

	shape := ort.NewShape(1, onnxMaxSeqLen)
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, make([]int64, onnxMaxSeqLen))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	err = e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs)
	if err != nil {
		return nil, fmt.Errorf("%w: inference failed: %v", ErrModelUnavailable, err)
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output tensor type", ErrModelUnavailable)
	}

	return meanPool(hidden.GetData(), attentionMask, e.dim), nil
}

// Dimension は次元を返す
func (e *ONNXEmbedder) Dimension() int {
	return e.dim
}

// Close はセッションを解放する
func (e *ONNXEmbedder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
}

// tokenize は簡易WordPieceトークナイズを実行する
// [CLS] tokens... [SEP] の形式でmaxSeqLenに切り詰める
func (e *ONNXEmbedder) tokenize(text string) (inputIDs, attentionMask []int64) {
	cls := e.vocab["[CLS]"]
	sep := e.vocab["[SEP]"]
	unk := e.vocab["[UNK]"]

	ids := []int64{cls}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if len(ids) >= onnxMaxSeqLen-1 {
			break
		}
		ids = append(ids, e.wordPiece(word, unk)...)
	}
	if len(ids) > onnxMaxSeqLen-1 {
		ids = ids[:onnxMaxSeqLen-1]
	}
	ids = append(ids, sep)

	inputIDs = make([]int64, onnxMaxSeqLen)
	attentionMask = make([]int64, onnxMaxSeqLen)
	for i, id := range ids {
		inputIDs[i] = id
		attentionMask[i] = 1
	}
	return inputIDs, attentionMask
}

// wordPiece は単語をsubwordに分割する（greedy longest-match-first）
func (e *ONNXEmbedder) wordPiece(word string, unk int64) []int64 {
	var pieces []int64
	start := 0
	for start < len(word) {
		end := len(word)
		var id int64 = -1
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if v, ok := e.vocab[sub]; ok {
				id = v
				break
			}
			end--
		}
		if id < 0 {
			return []int64{unk}
		}
		pieces = append(pieces, id)
		start = end
	}
	return pieces
}

// meanPool はattention maskで重み付けした平均プーリングを行い、L2正規化する
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	vec := make([]float32, dim)
	var count float32
	for i, m := range mask {
		if m == 0 {
			continue
		}
		count++
		for j := 0; j < dim; j++ {
			vec[j] += hidden[i*dim+j]
		}
	}
	if count > 0 {
		for j := range vec {
			vec[j] /= count
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for j := range vec {
			vec[j] /= n
		}
	}
	return vec
}

// loadVocab はvocab.txtを読み込む（1行1トークン、行番号がID）
func loadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		vocab[strings.TrimSpace(scanner.Text())] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vocab, nil
}
