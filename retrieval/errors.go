package retrieval

import (
	"errors"
	"fmt"
)

// エラー定義
// 初期化を致命的に失敗させるのは ErrBinaryNotFound / ErrSpawnFailed /
// ErrStartupTimeout のみで、それ以外は空結果への縮退で吸収する
var (
	ErrBinaryNotFound  = errors.New("server binary not found")
	ErrSpawnFailed     = errors.New("failed to spawn server process")
	ErrStartupTimeout  = errors.New("server startup timed out")
	ErrNotReady        = errors.New("retrieval client not ready")
	ErrClosed          = errors.New("retrieval client closed")
	ErrInvalidDocument = errors.New("invalid document")
)

// ServerCrashedError はサーバープロセスの予期しない終了を表す
type ServerCrashedError struct {
	ExitCode int
}

func (e *ServerCrashedError) Error() string {
	return fmt.Sprintf("server process exited unexpectedly with code %d", e.ExitCode)
}

// RequestError はHTTPリクエストの失敗を表す
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Is はRequestError同士のステータスコード比較を可能にする
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*RequestError)
	if !ok {
		return false
	}
	return t.StatusCode == 0 || t.StatusCode == e.StatusCode
}
