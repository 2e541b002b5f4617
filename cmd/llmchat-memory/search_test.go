package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/charja113/llmchat-memory/internal/model"
	"github.com/charja113/llmchat-memory/internal/service"
)

// TestParseSearchFlags はsearchコマンドの引数パースをテスト
func TestParseSearchFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    SearchOptions
		wantErr bool
	}{
		{
			name: "basic query",
			args: []string{"-n", "tools", "what", "time", "is", "it"},
			want: SearchOptions{
				Namespace: "tools",
				TopK:      service.DefaultTopK,
				MinScore:  service.DefaultMinScore,
				Format:    "text",
				Query:     "what time is it",
			},
		},
		{
			name: "long flags",
			args: []string{"--namespace", "llm_memories", "--top-k", "10", "--min-score", "0.5", "--format", "json", "query"},
			want: SearchOptions{
				Namespace: "llm_memories",
				TopK:      10,
				MinScore:  0.5,
				Format:    "json",
				Query:     "query",
			},
		},
		{
			name: "stdin mode without query",
			args: []string{"-n", "tools", "--stdin"},
			want: SearchOptions{
				Namespace: "tools",
				TopK:      service.DefaultTopK,
				MinScore:  service.DefaultMinScore,
				Format:    "text",
				UseStdin:  true,
			},
		},
		{
			name:    "missing namespace",
			args:    []string{"query"},
			wantErr: true,
		},
		{
			name:    "missing query without stdin",
			args:    []string{"-n", "tools"},
			wantErr: true,
		},
		{
			name:    "invalid top-k",
			args:    []string{"-n", "tools", "-k", "0", "query"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			args:    []string{"-n", "tools", "-f", "yaml", "query"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseSearchFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSearchFlags failed: %v", err)
			}
			if opts.Namespace != tt.want.Namespace {
				t.Errorf("Namespace = %q, want %q", opts.Namespace, tt.want.Namespace)
			}
			if opts.TopK != tt.want.TopK {
				t.Errorf("TopK = %d, want %d", opts.TopK, tt.want.TopK)
			}
			if opts.MinScore != tt.want.MinScore {
				t.Errorf("MinScore = %f, want %f", opts.MinScore, tt.want.MinScore)
			}
			if opts.Format != tt.want.Format {
				t.Errorf("Format = %q, want %q", opts.Format, tt.want.Format)
			}
			if opts.UseStdin != tt.want.UseStdin {
				t.Errorf("UseStdin = %v, want %v", opts.UseStdin, tt.want.UseStdin)
			}
			if opts.Query != tt.want.Query {
				t.Errorf("Query = %q, want %q", opts.Query, tt.want.Query)
			}
		})
	}
}

// TestFormatTextOutput はテキスト出力をテスト
func TestFormatTextOutput(t *testing.T) {
	var buf bytes.Buffer
	formatTextOutput(&buf, []model.SearchResult{
		{ID: "doc1", Namespace: "tools", Text: "get_time: returns the current time", Score: 0.92},
	})

	out := buf.String()
	if !strings.Contains(out, "doc1") {
		t.Errorf("expected id in output, got %q", out)
	}
	if !strings.Contains(out, "0.92") {
		t.Errorf("expected score in output, got %q", out)
	}
}

// TestFormatTextOutput_Empty は結果なしの出力をテスト
func TestFormatTextOutput_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatTextOutput(&buf, nil)

	if !strings.Contains(buf.String(), "No results found.") {
		t.Errorf("expected empty message, got %q", buf.String())
	}
}

// TestFormatJSONOutput はJSON出力をテスト
func TestFormatJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	err := formatJSONOutput(&buf, "my query", []model.SearchResult{
		{ID: "doc1", Namespace: "tools", Text: "hello", Score: 0.8, Context: map[string]any{"k": "v"}},
	})
	if err != nil {
		t.Fatalf("formatJSONOutput failed: %v", err)
	}

	var out JSONOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if out.Query != "my query" {
		t.Errorf("Query = %q, want my query", out.Query)
	}
	if len(out.Results) != 1 || out.Results[0].ID != "doc1" {
		t.Errorf("unexpected results: %+v", out.Results)
	}
	if out.Results[0].Context["k"] != "v" {
		t.Errorf("expected context round-trip, got %v", out.Results[0].Context)
	}
}

// TestTruncateText は切り詰めをテスト
func TestTruncateText(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"truncated", "hello world", 5, "hello ..."},
		{"empty", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateText(tt.text, tt.maxLen); got != tt.want {
				t.Errorf("truncateText(%q, %d) = %q, want %q", tt.text, tt.maxLen, got, tt.want)
			}
		})
	}
}
