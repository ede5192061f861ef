// Package stats holds the running aggregates shared by pipeline workers:
// per-language finding counts and the set of containers already seen.
package stats

import (
	"sort"
	"sync"

	"github.com/FranksOps/keyhound/internal/storage"
)

// Store is safe for concurrent use. Counts only grow and containers are
// never removed from the seen set.
type Store struct {
	mu        sync.Mutex
	languages map[string]int64
	seen      map[string]struct{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		languages: make(map[string]int64),
		seen:      make(map[string]struct{}),
	}
}

// MarkSeen inserts container into the seen set and reports whether it was
// absent before. Check and insert happen under one lock, so among concurrent
// callers for the same container exactly one gets true.
func (s *Store) MarkSeen(container string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[container]; ok {
		return false
	}
	s.seen[container] = struct{}{}
	return true
}

// Seen reports whether container was marked before.
func (s *Store) Seen(container string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[container]
	return ok
}

// SeenCount returns the number of distinct containers seen.
func (s *Store) SeenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// IncrementLanguage adds one occurrence of language.
func (s *Store) IncrementLanguage(language string) {
	s.mu.Lock()
	s.languages[language]++
	s.mu.Unlock()
}

// LanguageCount returns the current count for language.
func (s *Store) LanguageCount(language string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.languages[language]
}

// TopLanguages returns a snapshot of the n most frequent languages, highest
// count first, ties broken by name. n <= 0 returns every language.
func (s *Store) TopLanguages(n int) []storage.LanguageStat {
	s.mu.Lock()
	out := make([]storage.LanguageStat, 0, len(s.languages))
	for lang, count := range s.languages {
		out = append(out, storage.LanguageStat{Language: lang, Count: count})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Language < out[j].Language
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Restore replays previously stored findings so that containers found in
// an earlier run are not reported as new again and language counts carry on
// from where they stopped.
func (s *Store) Restore(findings []*storage.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range findings {
		if f == nil {
			continue
		}
		s.seen[f.Container] = struct{}{}
		s.languages[f.Language]++
	}
}
