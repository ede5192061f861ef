package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/FranksOps/keyhound/internal/metrics"
	"github.com/FranksOps/keyhound/internal/storage"
	dto "github.com/prometheus/client_model/go"
)

// failingBackend fails every Save whose call number is in fail (1-based).
type failingBackend struct {
	calls int
	fail  map[int]bool
	saved []*storage.Finding
}

func (b *failingBackend) Save(_ context.Context, f *storage.Finding) error {
	b.calls++
	if b.fail[b.calls] {
		return errors.New("disk full")
	}
	b.saved = append(b.saved, f)
	return nil
}

func (b *failingBackend) Query(context.Context, storage.Filter) ([]*storage.Finding, error) {
	return b.saved, nil
}

func (b *failingBackend) Close() error { return nil }

func saveFailures(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.SaveFailures.Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestFindingSink_SaveFailures(t *testing.T) {
	backend := &failingBackend{fail: map[int]bool{1: true, 3: true, 4: true, 5: true}}
	var out bytes.Buffer
	sink := &findingSink{
		enc:     json.NewEncoder(&out),
		backend: backend,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	before := saveFailures(t)

	finding := &storage.Finding{ID: "f", Container: "octo/app", Value: "AKIA1234567890ABCDEF"}
	for i := 1; i <= 4; i++ {
		if err := sink.handle(context.Background(), finding); err != nil {
			t.Fatalf("save %d: expected isolated failures to be tolerated, got %v", i, err)
		}
	}
	if err := sink.handle(context.Background(), finding); err == nil {
		t.Fatal("expected an error after consecutive save failures")
	}

	if got := saveFailures(t) - before; got != 4 {
		t.Errorf("expected 4 counted save failures, got %v", got)
	}
	if len(backend.saved) != 1 {
		t.Errorf("expected 1 stored finding, got %d", len(backend.saved))
	}
	if got := len(decodeLines(t, out.String())); got != 5 {
		t.Errorf("expected every finding written to stdout, got %d", got)
	}
}
