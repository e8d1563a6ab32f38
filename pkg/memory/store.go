// Package memory is a small in-process memory store used as the
// pipeline's retriever. Entries are scored against the query by keyword
// overlap; it is deliberately simple and holds the assistant's seeded
// identity facts plus anything added at runtime.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pandalabs/go-panda/pkg/pipeline"
)

// Entry is one stored memory fragment.
type Entry struct {
	Text   string
	Source string
}

// Store holds memory entries and serves similarity searches.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Seeded creates a Store preloaded with the assistant's identity facts.
func Seeded() *Store {
	s := NewStore()
	for _, text := range []string{
		"Your name is PANDA, a voice assistant.",
		"You run locally and route questions to specialist agents when it helps.",
		"scott handles news, penny handles finance, sensei handles learning sessions.",
	} {
		s.Add(text, "identity")
	}
	return s
}

// Add stores a new entry.
func (s *Store) Add(text, source string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	s.entries = append(s.entries, Entry{Text: text, Source: source})
	s.mu.Unlock()
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Search returns up to limit entries scored by keyword overlap with the
// query, best first. Entries with no overlap are omitted.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]pipeline.Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []pipeline.Snippet
	for _, e := range s.entries {
		score := overlap(terms, tokenize(e.Text))
		if score > 0 {
			hits = append(hits, pipeline.Snippet{Text: e.Text, Score: score, Source: e.Source})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "or": true,
	"you": true, "your": true, "my": true, "me": true, "i": true,
	"what": true, "who": true, "how": true, "do": true, "does": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// overlap is the fraction of query terms present in the entry.
func overlap(query, entry []string) float64 {
	if len(query) == 0 {
		return 0
	}

	set := make(map[string]bool, len(entry))
	for _, t := range entry {
		set[t] = true
	}

	matched := 0
	for _, t := range query {
		if set[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
