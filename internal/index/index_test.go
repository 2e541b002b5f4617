package index

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/charja113/llmchat-memory/internal/model"
)

// newTestBackends はテスト可能な全バックエンドを生成する
// qdrantは外部プロセスが必要なためここでは対象外（e2e相当）
func newTestBackends(t *testing.T) map[string]Index {
	t.Helper()

	sqlite, err := NewSQLiteIndex(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create sqlite index: %v", err)
	}

	chromem, err := NewChromemIndex("")
	if err != nil {
		t.Fatalf("failed to create chromem index: %v", err)
	}

	return map[string]Index{
		"memory":  NewMemoryIndex(),
		"sqlite":  sqlite,
		"chromem": chromem,
	}
}

// newTestDocument はテスト用Documentを生成
func newTestDocument(id, text string) model.Document {
	return model.Document{
		ID:   id,
		Text: text,
		Context: map[string]any{
			"source": "test",
		},
	}
}

// unitVector は指定成分だけ1の単位ベクトルを生成
func unitVector(dim, hot int) []float32 {
	vec := make([]float32, dim)
	vec[hot] = 1
	return vec
}

// TestIndex_NamespaceIsolation はnamespace間の隔離をテスト
// namespace Aに入れたドキュメントはnamespace Bの検索に決して現れない
func TestIndex_NamespaceIsolation(t *testing.T) {
	for name, idx := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer idx.Close()
			ctx := context.Background()

			if err := idx.Upsert(ctx, "ns-a", newTestDocument("doc1", "hello"), unitVector(4, 0)); err != nil {
				t.Fatalf("upsert failed: %v", err)
			}

			// 同一ベクトルで別namespaceを検索
			results, err := idx.Search(ctx, "ns-b", unitVector(4, 0), 10, 0)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if len(results) != 0 {
				t.Errorf("expected no results from ns-b, got %d", len(results))
			}

			// Countも隔離されること
			count, err := idx.Count(ctx, "ns-b")
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != 0 {
				t.Errorf("expected ns-b count 0, got %d", count)
			}
		})
	}
}

// TestIndex_IdempotentUpsert は同一IDの再インデックスが上書きになることをテスト
func TestIndex_IdempotentUpsert(t *testing.T) {
	for name, idx := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer idx.Close()
			ctx := context.Background()

			if err := idx.Upsert(ctx, "ns", newTestDocument("doc1", "first"), unitVector(4, 0)); err != nil {
				t.Fatalf("first upsert failed: %v", err)
			}
			if err := idx.Upsert(ctx, "ns", newTestDocument("doc1", "second"), unitVector(4, 1)); err != nil {
				t.Fatalf("second upsert failed: %v", err)
			}

			count, err := idx.Count(ctx, "ns")
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != 1 {
				t.Errorf("expected count 1 after overwrite, got %d", count)
			}

			results, err := idx.Search(ctx, "ns", unitVector(4, 1), 10, 0)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if len(results) != 1 {
				t.Fatalf("expected 1 result, got %d", len(results))
			}
			if results[0].Text != "second" {
				t.Errorf("expected overwritten text %q, got %q", "second", results[0].Text)
			}
		})
	}
}

// TestIndex_ScoreFilterAndOrder はmin_scoreフィルタとスコア降順をテスト
func TestIndex_ScoreFilterAndOrder(t *testing.T) {
	for name, idx := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer idx.Close()
			ctx := context.Background()

			// doc1は完全一致（score 1.0）、doc2は直交（score 0.5）
			if err := idx.Upsert(ctx, "ns", newTestDocument("doc1", "match"), unitVector(4, 0)); err != nil {
				t.Fatalf("upsert failed: %v", err)
			}
			if err := idx.Upsert(ctx, "ns", newTestDocument("doc2", "other"), unitVector(4, 1)); err != nil {
				t.Fatalf("upsert failed: %v", err)
			}

			// min_score 0.8でdoc2が落ちること
			results, err := idx.Search(ctx, "ns", unitVector(4, 0), 10, 0.8)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if len(results) != 1 {
				t.Fatalf("expected 1 result above min_score, got %d", len(results))
			}
			if results[0].ID != "doc1" {
				t.Errorf("expected doc1, got %s", results[0].ID)
			}

			// min_score 0で両方返り、降順であること
			results, err = idx.Search(ctx, "ns", unitVector(4, 0), 10, 0)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if len(results) != 2 {
				t.Fatalf("expected 2 results, got %d", len(results))
			}
			for i := 1; i < len(results); i++ {
				if results[i].Score > results[i-1].Score {
					t.Errorf("results not ordered by score: [%d]=%f > [%d]=%f",
						i, results[i].Score, i-1, results[i-1].Score)
				}
			}

			// topK=1で1件に制限されること
			results, err = idx.Search(ctx, "ns", unitVector(4, 0), 1, 0)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if len(results) != 1 {
				t.Errorf("expected topK to limit results to 1, got %d", len(results))
			}
		})
	}
}

// TestIndex_SearchEmptyNamespace は存在しないnamespaceの検索が空を返すことをテスト
func TestIndex_SearchEmptyNamespace(t *testing.T) {
	for name, idx := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer idx.Close()

			results, err := idx.Search(context.Background(), "missing", unitVector(4, 0), 10, 0)
			if err != nil {
				t.Fatalf("search of missing namespace must not error: %v", err)
			}
			if len(results) != 0 {
				t.Errorf("expected empty results, got %d", len(results))
			}
		})
	}
}

// TestIndex_ClearAndCount はClearとCountをテスト
func TestIndex_ClearAndCount(t *testing.T) {
	for name, idx := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer idx.Close()
			ctx := context.Background()

			for i, id := range []string{"a", "b", "c"} {
				if err := idx.Upsert(ctx, "ns", newTestDocument(id, "text "+id), unitVector(4, i)); err != nil {
					t.Fatalf("upsert failed: %v", err)
				}
			}
			// 別namespaceにも1件
			if err := idx.Upsert(ctx, "other", newTestDocument("d", "text d"), unitVector(4, 3)); err != nil {
				t.Fatalf("upsert failed: %v", err)
			}

			count, err := idx.Count(ctx, "ns")
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != 3 {
				t.Errorf("expected count 3, got %d", count)
			}

			if err := idx.Clear(ctx, "ns"); err != nil {
				t.Fatalf("clear failed: %v", err)
			}

			count, err = idx.Count(ctx, "ns")
			if err != nil {
				t.Fatalf("count after clear failed: %v", err)
			}
			if count != 0 {
				t.Errorf("expected count 0 after clear, got %d", count)
			}

			// 他のnamespaceは影響を受けない
			count, err = idx.Count(ctx, "other")
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != 1 {
				t.Errorf("expected other namespace untouched, got count %d", count)
			}
		})
	}
}

// TestIndex_ClearMissingNamespace は存在しないnamespaceのClearがno-opであることをテスト
func TestIndex_ClearMissingNamespace(t *testing.T) {
	for name, idx := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer idx.Close()

			if err := idx.Clear(context.Background(), "missing"); err != nil {
				t.Errorf("clear of missing namespace must be a no-op, got %v", err)
			}
		})
	}
}

// TestIndex_List はList操作をテスト
func TestIndex_List(t *testing.T) {
	for name, idx := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer idx.Close()
			ctx := context.Background()

			for i, id := range []string{"a", "b", "c"} {
				if err := idx.Upsert(ctx, "ns", newTestDocument(id, "text "+id), unitVector(4, i)); err != nil {
					t.Fatalf("upsert failed: %v", err)
				}
			}

			docs, err := idx.List(ctx, "ns", 0)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(docs) != 3 {
				t.Errorf("expected 3 documents, got %d", len(docs))
			}
			for _, doc := range docs {
				if doc.Context == nil || doc.Context["source"] != "test" {
					t.Errorf("expected context round-trip for %s, got %v", doc.ID, doc.Context)
				}
			}

			// limit付き
			docs, err = idx.List(ctx, "ns", 2)
			if err != nil {
				t.Fatalf("list with limit failed: %v", err)
			}
			if len(docs) != 2 {
				t.Errorf("expected limit to cap at 2, got %d", len(docs))
			}

			// 存在しないnamespace
			docs, err = idx.List(ctx, "missing", 0)
			if err != nil {
				t.Fatalf("list of missing namespace must not error: %v", err)
			}
			if len(docs) != 0 {
				t.Errorf("expected empty list, got %d", len(docs))
			}
		})
	}
}

// TestIndex_Namespaces はnamespace一覧をテスト
func TestIndex_Namespaces(t *testing.T) {
	for name, idx := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer idx.Close()
			ctx := context.Background()

			for _, ns := range []string{"beta", "alpha"} {
				if err := idx.Upsert(ctx, ns, newTestDocument("doc", "text"), unitVector(4, 0)); err != nil {
					t.Fatalf("upsert failed: %v", err)
				}
			}

			names, err := idx.Namespaces(ctx)
			if err != nil {
				t.Fatalf("namespaces failed: %v", err)
			}
			if len(names) != 2 {
				t.Fatalf("expected 2 namespaces, got %v", names)
			}
			if names[0] != "alpha" || names[1] != "beta" {
				t.Errorf("expected sorted [alpha beta], got %v", names)
			}
		})
	}
}

// TestCosineScore はスコア正規化をテスト
func TestCosineScore(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.5},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineScore(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("cosineScore(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
