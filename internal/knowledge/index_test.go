package knowledge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"policyqa/internal/domain"
	"policyqa/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func forEachIndex(t *testing.T, fn func(t *testing.T, idx domain.KnowledgeIndex)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryIndex()) })
	t.Run("sqlite", func(t *testing.T) {
		s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "idx.db"), testLogger())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, NewSQLiteIndex(s.DB()))
	})
}

func seed(t *testing.T, idx domain.KnowledgeIndex) {
	t.Helper()
	c := NewChunker(200, 20)
	ctx := context.Background()
	home := c.Split("home", "home.pdf", []Page{
		{Number: 1, Text: "Flood damage is excluded unless the flood rider is purchased."},
		{Number: 2, Text: "Fire damage to the dwelling is covered up to the policy limit."},
	})
	auto := c.Split("auto", "auto.txt", []Page{
		{Text: "Collision coverage pays for damage to your car after an accident."},
	})
	if err := idx.AddChunks(ctx, "home", home); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddChunks(ctx, "auto", auto); err != nil {
		t.Fatal(err)
	}
}

func TestIndex_SearchRanksRelevantChunk(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx domain.KnowledgeIndex) {
		seed(t, idx)
		results, err := idx.Search(context.Background(), "Is flood damage covered?", 5, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) == 0 {
			t.Fatal("expected results")
		}
		top := results[0].Chunk
		if top.DocumentID != "home" || top.Page != 1 {
			t.Fatalf("unexpected top chunk %+v", top)
		}
		for i := 1; i < len(results); i++ {
			if results[i].Score > results[i-1].Score {
				t.Fatalf("results not sorted by score: %v", results)
			}
		}
	})
}

func TestIndex_TopKAndFilter(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx domain.KnowledgeIndex) {
		seed(t, idx)
		ctx := context.Background()

		results, _ := idx.Search(ctx, "damage", 1, nil)
		if len(results) != 1 {
			t.Fatalf("expected topK=1, got %d", len(results))
		}

		results, _ = idx.Search(ctx, "damage", 5, []string{"auto"})
		if len(results) != 1 || results[0].Chunk.DocumentID != "auto" {
			t.Fatalf("filter ignored: %+v", results)
		}
	})
}

func TestIndex_DeleteDocument(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx domain.KnowledgeIndex) {
		seed(t, idx)
		ctx := context.Background()

		if err := idx.DeleteDocument(ctx, "home"); err != nil {
			t.Fatal(err)
		}
		if err := idx.DeleteDocument(ctx, "home"); err != nil {
			t.Fatalf("second delete: %v", err)
		}
		n, _ := idx.Count(ctx)
		if n != 1 {
			t.Fatalf("expected 1 chunk left, got %d", n)
		}
		results, _ := idx.Search(ctx, "flood", 5, nil)
		if len(results) != 0 {
			t.Fatalf("deleted chunks still searchable: %+v", results)
		}
	})
}

func TestIndex_AddReplacesExisting(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx domain.KnowledgeIndex) {
		seed(t, idx)
		ctx := context.Background()
		replacement := NewChunker(200, 20).Split("home", "home.pdf", []Page{{Number: 1, Text: "Earthquake coverage only."}})
		if err := idx.AddChunks(ctx, "home", replacement); err != nil {
			t.Fatal(err)
		}
		n, _ := idx.Count(ctx)
		if n != 2 {
			t.Fatalf("expected 2 chunks, got %d", n)
		}
		if results, _ := idx.Search(ctx, "flood", 5, nil); len(results) != 0 {
			t.Fatalf("old chunks survived replace: %+v", results)
		}
	})
}

func TestIndex_SyntaxSafeQuery(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx domain.KnowledgeIndex) {
		seed(t, idx)
		if _, err := idx.Search(context.Background(), `fire" OR NEAR(* "damage`, 5, nil); err != nil {
			t.Fatalf("query with FTS syntax failed: %v", err)
		}
		results, err := idx.Search(context.Background(), "?!", 5, nil)
		if err != nil || len(results) != 0 {
			t.Fatalf("punctuation-only query: %v %v", results, err)
		}
	})
}

func TestTokenize(t *testing.T) {
	got := Tokenize("What's the deductible? A $500 fee.")
	want := []string{"what", "the", "deductible", "500", "fee"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
