package knowledge

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunker_RespectsSizeAndOverlap(t *testing.T) {
	words := make([]string, 0, 600)
	for i := 0; i < 600; i++ {
		words = append(words, fmt.Sprintf("clause%03d", i))
	}
	text := strings.Join(words, " ")

	c := NewChunker(1000, 200)
	chunks := c.Split("doc-1", "policy.pdf", []Page{{Number: 1, Text: text}})
	if len(chunks) < 5 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.CharCount > 1000 {
			t.Errorf("chunk %d has %d chars", i, ch.CharCount)
		}
		if ch.ID != "policy.pdf_"+strconv.Itoa(i) || ch.Index != i {
			t.Errorf("chunk %d: id=%s index=%d", i, ch.ID, ch.Index)
		}
		if ch.DocumentID != "doc-1" || ch.Page != 1 {
			t.Errorf("chunk %d metadata: %+v", i, ch)
		}
	}

	// Consecutive chunks share a tail of at most 200 characters.
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1].Content)
		head := strings.Fields(chunks[i].Content)[0]
		shared := ""
		for j, w := range prev {
			if w == head {
				shared = strings.Join(prev[j:], " ")
			}
		}
		if shared == "" || len(shared) > 200 {
			t.Errorf("chunk %d: expected overlap in (0, 200] chars, got %q", i, shared)
		}
	}
}

func TestChunker_PagesAreKeptApart(t *testing.T) {
	c := NewChunker(50, 10)
	chunks := c.Split("d", "terms.pdf", []Page{
		{Number: 1, Text: "Section one covers fire damage."},
		{Number: 2, Text: ""},
		{Number: 3, Text: "Section three covers theft."},
	})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Page != 1 || chunks[1].Page != 3 {
		t.Errorf("pages = %d, %d", chunks[0].Page, chunks[1].Page)
	}
	if chunks[1].ID != "terms.pdf_1" {
		t.Errorf("ids must count across pages: %s", chunks[1].ID)
	}
}

func TestChunker_LongWordBecomesOwnChunk(t *testing.T) {
	c := NewChunker(10, 2)
	long := strings.Repeat("x", 25)
	chunks := c.Split("d", "a.txt", []Page{{Text: "ab " + long + " cd"}})
	found := false
	for _, ch := range chunks {
		if ch.Content == long {
			found = true
		}
	}
	if !found {
		t.Fatalf("long word not isolated: %+v", chunks)
	}
}

func TestChunker_EmptyInput(t *testing.T) {
	if got := NewChunker(100, 10).Split("d", "a.txt", []Page{{Text: "  \n\t "}}); len(got) != 0 {
		t.Fatalf("expected no chunks, got %d", len(got))
	}
}

func TestChunker_CountsRunes(t *testing.T) {
	c := NewChunker(1000, 200)
	chunks := c.Split("d", "a.txt", []Page{{Text: "Prämie fällig"}})
	if chunks[0].CharCount != utf8.RuneCountInString("Prämie fällig") {
		t.Errorf("char count = %d", chunks[0].CharCount)
	}
	if chunks[0].WordCount != 2 {
		t.Errorf("word count = %d", chunks[0].WordCount)
	}
}
