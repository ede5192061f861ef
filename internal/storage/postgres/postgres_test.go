package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/FranksOps/keyhound/internal/storage"
	"github.com/google/uuid"
)

func TestPostgresBackend(t *testing.T) {
	// Only run this test if KEYHOUND_TEST_PG_DSN is set
	dsn := os.Getenv("KEYHOUND_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres backend test: KEYHOUND_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	b, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create Postgres backend: %v", err)
	}
	defer b.Close()

	now := time.Now().UTC()
	// Unique container so repeated runs against the same database do not collide
	container := "octo/pg-" + uuid.NewString()

	res := &storage.Finding{
		ID:           uuid.NewString(),
		Value:        "AKIA1234567890ABCDEF",
		Source:       "main.go",
		Container:    container,
		Language:     "Go",
		TopLanguages: []storage.LanguageStat{{Language: "Go", Count: 7}},
		NewContainer: true,
		Page:         2,
		CreatedAt:    now,
	}

	if err := b.Save(ctx, res); err != nil {
		t.Fatalf("Failed to save result: %v", err)
	}

	results, err := b.Query(ctx, storage.Filter{Container: container})
	if err != nil {
		t.Fatalf("Failed to query results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}

	got := results[0]
	if got.ID != res.ID {
		t.Errorf("Expected ID %s, got %s", res.ID, got.ID)
	}
	if got.Value != res.Value {
		t.Errorf("Expected Value %s, got %s", res.Value, got.Value)
	}
	if got.Language != res.Language {
		t.Errorf("Expected Language %s, got %s", res.Language, got.Language)
	}
	if len(got.TopLanguages) != 1 || got.TopLanguages[0].Count != 7 {
		t.Errorf("Expected TopLanguages %v, got %v", res.TopLanguages, got.TopLanguages)
	}
	if !got.NewContainer {
		t.Errorf("Expected NewContainer true")
	}

	// Postgres timestamps might differ slightly in sub-millisecond precision
	// compared to Go time.Now(), checking Unix seconds is usually safe enough
	if got.CreatedAt.Unix() != res.CreatedAt.Unix() {
		t.Errorf("Expected CreatedAt %v, got %v", res.CreatedAt, got.CreatedAt)
	}

	// Test Since filter
	past := now.Add(-1 * time.Hour)
	resultsSince, err := b.Query(ctx, storage.Filter{Container: container, Since: &past})
	if err != nil {
		t.Fatalf("Failed to query results with Since: %v", err)
	}
	if len(resultsSince) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(resultsSince))
	}
}
