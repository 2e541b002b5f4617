package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State はクライアントの状態
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateClosed
)

// String はStateの文字列表現を返す
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultStartupTimeout = 30 * time.Second
	defaultPollInterval   = 1 * time.Second
	defaultRequestTimeout = 15 * time.Second
)

// Client は埋め込みサーバーのライフサイクルを所有し、
// 型付きの検索操作を提供する
//
// 1プロセスにつきサーバーは最多1つ。並行するInitializeは
// singleflightで同一の試行に収束し、重複spawnは起きない。
// Ready以外の状態での検索系操作は空結果を返す（UIを壊さない方針）
type Client struct {
	launcher       Launcher
	httpClient     *http.Client
	startupTimeout time.Duration
	pollInterval   time.Duration
	onStateChange  func(state State, err error)

	group singleflight.Group

	mu      sync.RWMutex
	state   State
	lastErr error
	handle  *ServerHandle
	baseURL string
	// epoch はInitialize試行ごとに増える。古いwatcherの誤発火防止
	epoch int

	toolMu    sync.RWMutex
	toolCache map[string]ToolDescriptor
}

// ClientOption はClientのオプション
type ClientOption func(*Client)

// WithLauncher はサーバー起動方法を差し替える
func WithLauncher(l Launcher) ClientOption {
	return func(c *Client) {
		c.launcher = l
	}
}

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithStartupTimeout は起動待ちの上限を変更する
func WithStartupTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.startupTimeout = d
	}
}

// WithPollInterval はヘルスチェック間隔を変更する
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithStateListener は状態遷移の通知先を設定する
// Failed遷移時はerrに原因（ServerCrashedError等）が入る
func WithStateListener(fn func(state State, err error)) ClientOption {
	return func(c *Client) {
		c.onStateChange = fn
	}
}

// NewClient はClientを作成する
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		launcher:       &ProcessLauncher{},
		httpClient:     &http.Client{Timeout: defaultRequestTimeout},
		startupTimeout: defaultStartupTimeout,
		pollInterval:   defaultPollInterval,
		state:          StateUninitialized,
		toolCache:      make(map[string]ToolDescriptor),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State は現在の状態を返す
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError は直近の失敗原因を返す
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Ready はReady状態かを返す
func (c *Client) Ready() bool {
	return c.State() == StateReady
}

// Initialize はサーバーを起動しReadyになるまで待つ
// 並行呼び出しは同一の試行を共有する。Failed後の再呼び出しは再試行となる
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateReady:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, _ := c.group.Do("initialize", func() (any, error) {
		return nil, c.initialize(ctx)
	})
	return err
}

func (c *Client) initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		return nil
	}
	c.state = StateInitializing
	c.lastErr = nil
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()
	c.notify(StateInitializing, nil)

	handle, err := c.launcher.Launch(ctx)
	if err != nil {
		return c.fail(epoch, err)
	}

	// モデル準備完了までhealthをポーリング
	if err := c.awaitModelReady(ctx, handle); err != nil {
		handle.Stop()
		return c.fail(epoch, err)
	}

	c.mu.Lock()
	// 待機中にCloseや新しい試行が割り込んだ場合、このhandleは孤児になる。
	// Readyへ遷移させず、プロセスを止めて終わる
	if c.epoch != epoch || c.state == StateClosed {
		c.mu.Unlock()
		handle.Stop()
		return ErrClosed
	}
	c.handle = handle
	c.baseURL = handle.URL
	c.state = StateReady
	c.mu.Unlock()
	c.notify(StateReady, nil)

	go c.watchProcess(epoch, handle)

	log.Printf("[RETRIEVAL] server ready at %s", handle.URL)
	return nil
}

// awaitModelReady はhealthエンドポイントをポーリングしmodel_loadedを待つ
func (c *Client) awaitModelReady(ctx context.Context, handle *ServerHandle) error {
	deadline := time.Now().Add(c.startupTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	// クローズ済みチャネルは常に受信可能なので、一度受けたらnilにして
	// 以降はティッカーだけで待つ
	modelReady := handle.ModelReady

	for {
		var health struct {
			Status      string `json:"status"`
			ModelLoaded bool   `json:"model_loaded"`
		}
		if err := c.getJSON(ctx, handle.URL, "/health", &health); err == nil && health.ModelLoaded {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: model not loaded within %s", ErrStartupTimeout, c.startupTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case code := <-handle.Done:
			return &ServerCrashedError{ExitCode: code}
		case <-modelReady:
			// stdout通知が来たら次のポーリングを待たず確認に進む
			modelReady = nil
			continue
		case <-ticker.C:
		}
	}
}

// watchProcess はReady後のプロセス終了を監視する
func (c *Client) watchProcess(epoch int, handle *ServerHandle) {
	code := <-handle.Done

	c.mu.Lock()
	// 古い世代の通知、または意図的なClose後なら無視
	if c.epoch != epoch || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	crashErr := &ServerCrashedError{ExitCode: code}
	c.state = StateFailed
	c.lastErr = crashErr
	c.handle = nil
	c.baseURL = ""
	c.mu.Unlock()

	log.Printf("[RETRIEVAL] %v", crashErr)
	c.notify(StateFailed, crashErr)
}

// fail はInitializing中の失敗を記録する
// 古い世代の試行やClose後の失敗は状態にもリスナーにも反映しない
func (c *Client) fail(epoch int, err error) error {
	c.mu.Lock()
	stale := c.epoch != epoch || c.state == StateClosed
	if !stale {
		c.state = StateFailed
		c.lastErr = err
	}
	c.mu.Unlock()

	if !stale {
		c.notify(StateFailed, err)
	}
	return err
}

func (c *Client) notify(state State, err error) {
	if c.onStateChange != nil {
		c.onStateChange(state, err)
	}
}

// Close はサーバープロセスを終了しクライアントを閉じる
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	handle := c.handle
	c.handle = nil
	c.baseURL = ""
	c.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	return nil
}

// serverURL はReady時のベースURLを返す。Ready以外は空文字列
func (c *Client) serverURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady {
		return ""
	}
	return c.baseURL
}

// getJSON はGETしてJSONをデコードする
func (c *Client) getJSON(ctx context.Context, baseURL, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &RequestError{StatusCode: resp.StatusCode}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON はPOSTしてJSONレスポンスをデコードする
// レスポンスボディのstatusディスクリミネータも確認し、
// 空結果とリクエスト失敗を区別できるようにする
func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	baseURL := c.serverURL()
	if baseURL == "" {
		return ErrNotReady
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var status struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return &RequestError{StatusCode: resp.StatusCode, Message: "malformed response"}
	}

	if resp.StatusCode != http.StatusOK || status.Status != "success" {
		return &RequestError{StatusCode: resp.StatusCode, Message: status.Error}
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
