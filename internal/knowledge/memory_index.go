package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"policyqa/internal/domain"
)

// Tokenize lowercases text and splits it on spaces and punctuation,
// dropping single-character tokens.
func Tokenize(text string) []string {
	var tokens []string
	f := func(c rune) bool {
		return unicode.IsSpace(c) || unicode.IsPunct(c) || unicode.IsSymbol(c)
	}
	for _, token := range strings.FieldsFunc(text, f) {
		t := strings.ToLower(token)
		if len([]rune(t)) >= 2 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// MemoryIndex is an in-process TF-IDF index over chunks.
type MemoryIndex struct {
	mu sync.RWMutex

	entries map[string]map[int]int // term -> chunk key -> count
	docLen  map[int]int            // chunk key -> token count
	chunks  map[int]domain.Chunk
	byDoc   map[string][]int // document id -> chunk keys
	nextKey int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[string]map[int]int),
		docLen:  make(map[int]int),
		chunks:  make(map[int]domain.Chunk),
		byDoc:   make(map[string][]int),
	}
}

func (i *MemoryIndex) AddChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.removeLocked(documentID)
	for _, c := range chunks {
		key := i.nextKey
		i.nextKey++
		c.DocumentID = documentID
		i.chunks[key] = c
		i.byDoc[documentID] = append(i.byDoc[documentID], key)

		terms := Tokenize(c.Content)
		i.docLen[key] = len(terms)
		for _, term := range terms {
			if _, ok := i.entries[term]; !ok {
				i.entries[term] = make(map[int]int)
			}
			i.entries[term][key]++
		}
	}
	return nil
}

func (i *MemoryIndex) removeLocked(documentID string) {
	for _, key := range i.byDoc[documentID] {
		for _, term := range Tokenize(i.chunks[key].Content) {
			if postings, ok := i.entries[term]; ok {
				delete(postings, key)
				if len(postings) == 0 {
					delete(i.entries, term)
				}
			}
		}
		delete(i.docLen, key)
		delete(i.chunks, key)
	}
	delete(i.byDoc, documentID)
}

func (i *MemoryIndex) DeleteDocument(_ context.Context, documentID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.removeLocked(documentID)
	return nil
}

func (i *MemoryIndex) Count(context.Context) (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.chunks), nil
}

func (i *MemoryIndex) Search(_ context.Context, query string, topK int, documentIDs []string) ([]domain.SearchResult, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if topK <= 0 {
		topK = 5
	}
	terms := Tokenize(query)
	if len(terms) == 0 || len(i.chunks) == 0 {
		return nil, nil
	}

	var allowed map[string]bool
	if len(documentIDs) > 0 {
		allowed = make(map[string]bool, len(documentIDs))
		for _, id := range documentIDs {
			allowed[id] = true
		}
	}

	scores := map[int]float64{}
	n := float64(len(i.chunks))
	for _, term := range terms {
		postings := i.entries[term]
		if len(postings) == 0 {
			continue
		}
		idf := math.Log((n+1)/(float64(len(postings))+1)) + 1
		for key, count := range postings {
			if allowed != nil && !allowed[i.chunks[key].DocumentID] {
				continue
			}
			dl := i.docLen[key]
			if dl == 0 {
				continue
			}
			scores[key] += float64(count) / float64(dl) * idf
		}
	}

	keys := make([]int, 0, len(scores))
	for key := range scores {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(a, b int) bool {
		if scores[keys[a]] == scores[keys[b]] {
			return keys[a] < keys[b]
		}
		return scores[keys[a]] > scores[keys[b]]
	})
	if len(keys) > topK {
		keys = keys[:topK]
	}

	results := make([]domain.SearchResult, 0, len(keys))
	for _, key := range keys {
		results = append(results, domain.SearchResult{Chunk: i.chunks[key], Score: scores[key]})
	}
	return results, nil
}
