// Package knowledge splits document text into chunks and ranks them for retrieval.
package knowledge

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"policyqa/internal/domain"
)

// Page is the extracted text of one page; Number is 1-based, 0 when the
// source has no page structure.
type Page struct {
	Number int
	Text   string
}

// Chunker splits text into overlapping windows of whole words measured in
// characters.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks each page independently so every chunk maps to one page.
// Chunk ids are "<filename>_<n>" with n counting across the whole document.
func (c *Chunker) Split(documentID, filename string, pages []Page) []domain.Chunk {
	var chunks []domain.Chunk
	for _, p := range pages {
		for _, text := range c.window(strings.Fields(p.Text)) {
			n := len(chunks)
			chunks = append(chunks, domain.Chunk{
				ID:         fmt.Sprintf("%s_%d", filename, n),
				DocumentID: documentID,
				Filename:   filename,
				Index:      n,
				Page:       p.Number,
				Content:    text,
				WordCount:  len(strings.Fields(text)),
				CharCount:  utf8.RuneCountInString(text),
			})
		}
	}
	return chunks
}

// window groups words into chunks of at most c.size characters. Each new
// chunk restarts at the earliest word that keeps the carried-over tail
// within c.overlap characters. A single word longer than c.size becomes its
// own chunk.
func (c *Chunker) window(words []string) []string {
	if len(words) == 0 {
		return nil
	}

	var out []string
	start := 0
	for start < len(words) {
		end := start
		length := 0
		for end < len(words) {
			add := utf8.RuneCountInString(words[end])
			if end > start {
				add++ // joining space
			}
			if length+add > c.size && end > start {
				break
			}
			length += add
			end++
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}

		next := end
		tail := 0
		for next > start+1 {
			w := utf8.RuneCountInString(words[next-1]) + 1
			if tail+w > c.overlap {
				break
			}
			tail += w
			next--
		}
		start = next
	}
	return out
}
