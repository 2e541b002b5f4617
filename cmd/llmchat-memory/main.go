package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/charja113/llmchat-memory/internal/bootstrap"
	"github.com/charja113/llmchat-memory/internal/config"
	"github.com/charja113/llmchat-memory/internal/transport/http"
)

// ビルド時変数（-ldflags で変更可能）
var version = "dev"

// 起動通知の行頭マーカー
// クライアントはstdoutのこの2行でポートとモデル準備を検出する
const (
	announceListening  = "LLMCHAT_MEMORY_LISTENING"
	announceModelReady = "LLMCHAT_MEMORY_MODEL_READY"
)

// Options はCLI引数オプション
type Options struct {
	Host       string
	Port       int
	ConfigPath string
}

func main() {
	var err error

	// 引数なしの場合はserveをデフォルト実行
	if len(os.Args) < 2 {
		err = run([]string{})
	} else {
		switch os.Args[1] {
		case "serve":
			err = run(os.Args[1:])
		case "search":
			err = runSearchCmd(os.Args[2:])
		case "version", "-v", "--version":
			printVersion()
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
			printUsage()
			os.Exit(1)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// printUsage prints the usage information
func printUsage() {
	fmt.Println(`llmchat-memory - Local embedding and vector search server

Usage:
  llmchat-memory <command> [options]

Commands:
  serve     Start the HTTP server
  search    Search a namespace (oneshot command)
  version   Print version information
  help      Print this help message

Serve Options:
  --host string            HTTP host (default: 127.0.0.1)
  -p, --port int           HTTP port, 0 picks a free port (default: 0)
  -c, --config string      Config file path

Search Options:
  -n, --namespace string   Namespace to search (required)
  -k, --top-k int          Number of results (default: 3)
  -s, --min-score float    Minimum score (default: 0.1)
  -f, --format string      Output format: text, json (default: text)
  -c, --config string      Config file path
  --stdin                  Read query from stdin

Examples:
  llmchat-memory serve
  llmchat-memory serve -p 8710
  llmchat-memory search -n llm_memories "user prefers dark mode"
  echo "query" | llmchat-memory search -n tools --stdin`)
}

// printVersion prints the version information
func printVersion() {
	fmt.Printf("llmchat-memory version %s\n", version)
}

// run は実際の処理を行う（テスト容易性のため分離）
func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	return runServe(ctx, opts, os.Stdout)
}

// parseFlags は引数をパースしてOptionsを返す
func parseFlags(args []string) (*Options, error) {
	fs := flag.NewFlagSet("llmchat-memory", flag.ContinueOnError)

	opts := &Options{}
	fs.StringVar(&opts.Host, "host", "", "HTTP host")
	fs.IntVar(&opts.Port, "port", -1, "HTTP port (0 picks a free port)")
	fs.IntVar(&opts.Port, "p", -1, "HTTP port (shorthand)")
	fs.StringVar(&opts.ConfigPath, "config", "", "Config file path")
	fs.StringVar(&opts.ConfigPath, "c", "", "Config file path (shorthand)")

	var flagArgs []string
	if len(args) == 0 {
		// 引数なし: デフォルトでserve
		flagArgs = []string{}
	} else if args[0] == "serve" {
		flagArgs = args[1:]
	} else {
		return nil, fmt.Errorf("usage: llmchat-memory serve [options]")
	}

	if err := fs.Parse(flagArgs); err != nil {
		return nil, err
	}

	if opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d (must be 0-65535)", opts.Port)
	}

	return opts, nil
}

// setupSignalHandler はSIGINT/SIGTERMを受けてcontextをキャンセルする
func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

// runServe はserveコマンドを実行
// stdoutへの通知はサーバーのログと混ざらないよう専用のwriterに書く
func runServe(ctx context.Context, opts *Options, announce *os.File) error {
	services, cleanup, err := bootstrap.Initialize(opts.ConfigPath)
	if err != nil {
		return err
	}
	defer cleanup()

	// フラグ > 設定ファイル の優先順位
	host := services.Config.Server.Host
	if opts.Host != "" {
		host = opts.Host
	}
	port := services.Config.Server.Port
	if opts.Port >= 0 {
		port = opts.Port
	}

	server := http.New(services.Service, http.Config{
		Addr: fmt.Sprintf("%s:%d", host, port),
	})

	// 先にバインドしてから実ポートを通知する
	if err := server.Listen(); err != nil {
		return fmt.Errorf("failed to bind %s:%d: %w", host, port, err)
	}

	fmt.Fprintf(announce, "%s http://%s\n", announceListening, server.Addr())

	// モデルのウォームアップはリクエスト処理と並行して進める
	services.Service.Start(ctx, func(err error) {
		if err == nil {
			fmt.Fprintln(announce, announceModelReady)
		}
	})

	if config.VerboseLogging() {
		log.Printf("[SERVE] listening on %s (version %s)", server.Addr(), version)
	}

	return server.Run(ctx)
}
