package stats

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/FranksOps/keyhound/internal/storage"
)

func TestStore_MarkSeenSequential(t *testing.T) {
	s := NewStore()

	if !s.MarkSeen("octo/repo") {
		t.Fatal("expected first MarkSeen to report new")
	}
	if s.MarkSeen("octo/repo") {
		t.Fatal("expected second MarkSeen to report seen")
	}
	if !s.Seen("octo/repo") {
		t.Error("expected container to stay seen")
	}
	if s.SeenCount() != 1 {
		t.Errorf("expected 1 seen container, got %d", s.SeenCount())
	}
}

func TestStore_MarkSeenConcurrent(t *testing.T) {
	s := NewStore()

	const goroutines = 64
	var newCount atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.MarkSeen("octo/contended") {
				newCount.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := newCount.Load(); got != 1 {
		t.Fatalf("expected exactly one new flag under contention, got %d", got)
	}
}

func TestStore_IncrementLanguageConcurrent(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				s.IncrementLanguage("Go")
			} else {
				s.IncrementLanguage("Python")
			}
		}(i)
	}
	wg.Wait()

	if got := s.LanguageCount("Go"); got != 50 {
		t.Errorf("expected Go=50, got %d", got)
	}
	if got := s.LanguageCount("Python"); got != 50 {
		t.Errorf("expected Python=50, got %d", got)
	}
}

func TestStore_TopLanguages(t *testing.T) {
	s := NewStore()
	for i := 0; i < 3; i++ {
		s.IncrementLanguage("Go")
	}
	s.IncrementLanguage("Rust")
	s.IncrementLanguage("Python")
	s.IncrementLanguage("Python")

	top := s.TopLanguages(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(top))
	}
	if top[0] != (storage.LanguageStat{Language: "Go", Count: 3}) {
		t.Errorf("unexpected first entry %+v", top[0])
	}
	if top[1] != (storage.LanguageStat{Language: "Python", Count: 2}) {
		t.Errorf("unexpected second entry %+v", top[1])
	}

	all := s.TopLanguages(0)
	if len(all) != 3 || all[2].Language != "Rust" {
		t.Errorf("expected all languages with Rust last, got %+v", all)
	}

	// Snapshots are copies.
	top[0].Count = 100
	if s.LanguageCount("Go") != 3 {
		t.Error("snapshot mutation leaked into the store")
	}
}

func TestStore_TopLanguagesTieBreak(t *testing.T) {
	s := NewStore()
	s.IncrementLanguage("b")
	s.IncrementLanguage("a")
	top := s.TopLanguages(1)
	if len(top) != 1 || top[0].Language != "a" {
		t.Errorf("expected alphabetical tie break, got %+v", top)
	}
}

func TestStore_Restore(t *testing.T) {
	s := NewStore()
	s.Restore([]*storage.Finding{
		{Container: "octo/a", Language: "Go"},
		{Container: "octo/a", Language: "Go"},
		nil,
		{Container: "octo/b", Language: "Undetermined"},
	})

	if s.MarkSeen("octo/a") {
		t.Error("expected restored container to be seen")
	}
	if !s.MarkSeen("octo/c") {
		t.Error("expected unrelated container to be new")
	}
	if got := s.LanguageCount("Go"); got != 2 {
		t.Errorf("expected Go=2 after restore, got %d", got)
	}
}
