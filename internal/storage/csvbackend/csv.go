package csvbackend

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/keyhound/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// headers defines the CSV column order
var headers = []string{
	"id",
	"value",
	"source",
	"container",
	"path",
	"html_url",
	"language",
	"top_languages_json",
	"new_container",
	"page",
	"created_at",
}

// New creates a new CSV-backed storage.Backend.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", filePath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csv: stat %s: %w", filePath, err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("csv: flush header: %w", err)
		}
	}

	return &csvBackend{file: f}, nil
}

func (b *csvBackend) Save(ctx context.Context, f *storage.Finding) error {
	topJSON, err := json.Marshal(f.TopLanguages)
	if err != nil {
		return fmt.Errorf("csv: marshal top languages: %w", err)
	}

	record := []string{
		f.ID,
		f.Value,
		f.Source,
		f.Container,
		f.Path,
		f.HTMLURL,
		f.Language,
		string(topJSON),
		strconv.FormatBool(f.NewContainer),
		strconv.Itoa(f.Page),
		f.CreatedAt.Format(time.RFC3339Nano),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Query leaves the offset wherever it stopped reading
	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("csv: seek: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.Write(record); err != nil {
		return fmt.Errorf("csv: write %s: %w", f.ID, err)
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("csv: flush %s: %w", f.ID, err)
	}

	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Finding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("csv: seek: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*storage.Finding{}, nil
		}
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	var matched []*storage.Finding
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read: %w", err)
		}

		if len(record) != len(headers) {
			continue // skip malformed rows
		}

		f := decodeRecord(record)
		if filter.Match(f) {
			matched = append(matched, f)
		}
	}

	return filter.Page(matched), nil
}

func decodeRecord(record []string) *storage.Finding {
	var top []storage.LanguageStat
	if err := json.Unmarshal([]byte(record[7]), &top); err != nil {
		top = []storage.LanguageStat{}
	}
	newContainer, _ := strconv.ParseBool(record[8])
	page, _ := strconv.Atoi(record[9])
	createdAt, _ := time.Parse(time.RFC3339Nano, record[10])

	return &storage.Finding{
		ID:           record[0],
		Value:        record[1],
		Source:       record[2],
		Container:    record[3],
		Path:         record[4],
		HTMLURL:      record[5],
		Language:     record[6],
		TopLanguages: top,
		NewContainer: newContainer,
		Page:         page,
		CreatedAt:    createdAt,
	}
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
