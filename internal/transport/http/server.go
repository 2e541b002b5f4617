// Package http implements the HTTP transport for llmchat-memory.
package http

import (
	"context"
	"net"
	"net/http"
)

// Config はHTTPサーバー設定
type Config struct {
	Addr        string   // listen address (例: "127.0.0.1:8710"、ポート0で自動割当)
	CORSOrigins []string // 許可するオリジンリスト、空ならCORS無効
}

// Server はHTTP APIサーバー
type Server struct {
	service  Service
	config   Config
	srv      *http.Server
	listener net.Listener
}

// New は新しいServerを生成
func New(svc Service, config Config) *Server {
	s := &Server{
		service: svc,
		config:  config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/index", s.handleIndex)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/list", s.handleList)
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/count", s.handleCount)

	s.srv = &http.Server{
		Handler: mux,
	}

	return s
}

// Listen はアドレスにバインドする
// ポート0を指定した場合、実際のポートはAddr()で取得できる
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr はバインド済みのアドレスを返す。Listen前は空文字列
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run はサーバーを起動し、contextがキャンセルされるまで実行
// Listenが未呼び出しなら先にバインドする
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	// contextキャンセル時にShutdownを呼ぶ
	go func() {
		<-ctx.Done()
		s.srv.Shutdown(context.Background())
	}()

	err := s.srv.Serve(s.listener)
	if err == http.ErrServerClosed {
		// Graceful shutdownはエラーではない
		return nil
	}
	return err
}

// handleCORS はCORSヘッダーを設定し、preflightならtrueを返す
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) bool {
	if len(s.config.CORSOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := false
			for _, allowedOrigin := range s.config.CORSOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Vary", "Origin")
			}
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}
