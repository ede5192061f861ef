package storage

import (
	"context"
	"testing"
	"time"
)

func TestFilter_Match(t *testing.T) {
	now := time.Now()
	f := &Finding{
		Value:        "AKIA1234567890ABCDEF",
		Container:    "octo/repo",
		Language:     "Go",
		NewContainer: true,
		CreatedAt:    now,
	}

	boolTrue, boolFalse := true, false
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"container hit", Filter{Container: "octo/repo"}, true},
		{"container miss", Filter{Container: "other/repo"}, false},
		{"language miss", Filter{Language: "Python"}, false},
		{"new hit", Filter{NewContainer: &boolTrue}, true},
		{"new miss", Filter{NewContainer: &boolFalse}, false},
		{"since past", Filter{Since: &past}, true},
		{"since future", Filter{Since: &future}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(f); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_Page(t *testing.T) {
	mk := func(ids ...string) []*Finding {
		out := make([]*Finding, len(ids))
		for i, id := range ids {
			out[i] = &Finding{ID: id}
		}
		return out
	}

	got := Filter{}.Page(mk("a", "b", "c"))
	if len(got) != 3 || got[0].ID != "c" || got[2].ID != "a" {
		t.Errorf("expected newest first, got %v", ids(got))
	}

	got = Filter{Offset: 1, Limit: 1}.Page(mk("a", "b", "c"))
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("expected [b], got %v", ids(got))
	}

	got = Filter{Offset: 5}.Page(mk("a"))
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func ids(fs []*Finding) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

// Ensure Backend interface exists and is implementable
type mockBackend struct{}

func (m *mockBackend) Save(ctx context.Context, finding *Finding) error { return nil }
func (m *mockBackend) Query(ctx context.Context, filter Filter) ([]*Finding, error) {
	return nil, nil
}
func (m *mockBackend) Close() error { return nil }

func TestBackendInterface(t *testing.T) {
	var b Backend = &mockBackend{}
	_ = b
}
