package retrieval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// stdout通知の行頭マーカー（サーバー側と同一の契約）
const (
	announceListening  = "LLMCHAT_MEMORY_LISTENING"
	announceModelReady = "LLMCHAT_MEMORY_MODEL_READY"
)

const (
	defaultBinaryName = "llmchat-memory"
	// verifyTimeout は version 実行の上限
	verifyTimeout = 5 * time.Second
	// listenTimeout はspawnからLISTENING通知までの上限
	listenTimeout = 10 * time.Second
)

// ServerHandle は起動済みサーバープロセスへの参照
type ServerHandle struct {
	URL        string          // LISTENING通知で得たベースURL
	ModelReady <-chan struct{} // MODEL_READY通知でクローズされる
	Done       <-chan int      // プロセス終了時にexit codeが送られる

	stop func()
}

// Stop はサーバープロセスを終了させる
func (h *ServerHandle) Stop() {
	if h.stop != nil {
		h.stop()
	}
}

// Launcher はサーバープロセスを起動できる
type Launcher interface {
	Launch(ctx context.Context) (*ServerHandle, error)
}

// ProcessLauncher はサーバーバイナリを探して子プロセスとして起動する
type ProcessLauncher struct {
	BinaryPath string   // 明示指定、空ならPATHから探索
	ConfigPath string   // サーバーに渡す設定ファイルパス
	ModelDir   string   // ONNXモデルアセットの期待ディレクトリ（検証は警告のみ）
	ExtraEnv   []string // 追加環境変数
}

// Launch はサーバーを起動しhandleを返す
// 手順: バイナリ探索 → version検証（必須） → モデルアセット確認（警告のみ）
// → spawn → stdoutからURL通知を待機
func (l *ProcessLauncher) Launch(ctx context.Context) (*ServerHandle, error) {
	binPath, err := l.locateBinary()
	if err != nil {
		return nil, err
	}

	if err := l.verifyBinary(ctx, binPath); err != nil {
		return nil, err
	}

	// モデルアセットが無くてもサーバーはハッシュ埋め込みに縮退して動く
	l.checkModelAssets()

	args := []string{"serve"}
	if l.ConfigPath != "" {
		args = append(args, "-c", l.ConfigPath)
	}

	cmd := exec.Command(binPath, args...)
	cmd.Env = append(os.Environ(), l.ExtraEnv...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	urlCh := make(chan string, 1)
	readyCh := make(chan struct{})
	doneCh := make(chan int, 1)

	// stdoutを行単位で読み、通知行を検出する
	go func() {
		scanner := bufio.NewScanner(stdout)
		readyClosed := false
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case strings.HasPrefix(line, announceListening):
				url := strings.TrimSpace(strings.TrimPrefix(line, announceListening))
				select {
				case urlCh <- url:
				default:
				}
			case line == announceModelReady:
				if !readyClosed {
					close(readyCh)
					readyClosed = true
				}
			}
		}
	}()

	// stderrはログに中継する
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("[SERVER] %s", scanner.Text())
		}
	}()

	// プロセス終了の監視
	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		doneCh <- code
	}()

	// URL通知を待つ。来ないまま時間切れ/終了ならspawn失敗扱い
	select {
	case url := <-urlCh:
		return &ServerHandle{
			URL:        url,
			ModelReady: readyCh,
			Done:       doneCh,
			stop: func() {
				if cmd.Process != nil {
					cmd.Process.Kill()
				}
			},
		}, nil
	case code := <-doneCh:
		return nil, fmt.Errorf("%w: process exited with code %d before announcing its address", ErrSpawnFailed, code)
	case <-time.After(listenTimeout):
		cmd.Process.Kill()
		return nil, fmt.Errorf("%w: no listening announcement within %s", ErrStartupTimeout, listenTimeout)
	case <-ctx.Done():
		cmd.Process.Kill()
		return nil, ctx.Err()
	}
}

// locateBinary はサーバーバイナリを探す
// 明示パス → 実行ファイルと同じディレクトリ → PATH の順
func (l *ProcessLauncher) locateBinary() (string, error) {
	if l.BinaryPath != "" {
		if _, err := os.Stat(l.BinaryPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, l.BinaryPath)
		}
		return l.BinaryPath, nil
	}

	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), defaultBinaryName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}

	if path, err := exec.LookPath(defaultBinaryName); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w: %s not in PATH", ErrBinaryNotFound, defaultBinaryName)
}

// verifyBinary はバイナリが本当にサーバーであることをversion出力で確認する
func (l *ProcessLauncher) verifyBinary(ctx context.Context, binPath string) error {
	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	out, err := exec.CommandContext(vctx, binPath, "version").Output()
	if err != nil {
		return fmt.Errorf("%w: version check failed for %s: %v", ErrBinaryNotFound, binPath, err)
	}
	if !bytes.Contains(out, []byte(defaultBinaryName)) {
		return fmt.Errorf("%w: %s is not a %s binary", ErrBinaryNotFound, binPath, defaultBinaryName)
	}
	return nil
}

// checkModelAssets はONNXモデルアセットの有無を確認する（警告のみ）
func (l *ProcessLauncher) checkModelAssets() {
	if l.ModelDir == "" {
		return
	}
	modelPath := filepath.Join(l.ModelDir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		log.Printf("[LAUNCHER] model assets not found at %s, server will use hash embeddings", l.ModelDir)
	}
}
