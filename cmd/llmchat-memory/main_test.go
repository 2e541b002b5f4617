package main

import (
	"testing"
)

// TestParseFlags はserveコマンドの引数パースをテスト
func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{
			name:     "no args defaults to serve",
			args:     []string{},
			wantHost: "",
			wantPort: -1,
		},
		{
			name:     "serve without options",
			args:     []string{"serve"},
			wantHost: "",
			wantPort: -1,
		},
		{
			name:     "serve with port",
			args:     []string{"serve", "-p", "8710"},
			wantPort: 8710,
		},
		{
			name:     "serve with long flags",
			args:     []string{"serve", "--host", "0.0.0.0", "--port", "9000"},
			wantHost: "0.0.0.0",
			wantPort: 9000,
		},
		{
			name:     "serve with port 0",
			args:     []string{"serve", "-p", "0"},
			wantPort: 0,
		},
		{
			name:    "port out of range",
			args:    []string{"serve", "-p", "70000"},
			wantErr: true,
		},
		{
			name:    "unknown subcommand",
			args:    []string{"bogus"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags failed: %v", err)
			}
			if opts.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", opts.Host, tt.wantHost)
			}
			if opts.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", opts.Port, tt.wantPort)
			}
		})
	}
}

// TestParseFlags_ConfigPath は設定ファイルパスの受け取りをテスト
func TestParseFlags_ConfigPath(t *testing.T) {
	opts, err := parseFlags([]string{"serve", "-c", "/tmp/custom.json"})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if opts.ConfigPath != "/tmp/custom.json" {
		t.Errorf("ConfigPath = %q, want /tmp/custom.json", opts.ConfigPath)
	}
}
