package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/FranksOps/keyhound/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

// maxLine bounds a single NDJSON record; top-language snapshots keep
// records small, but long fragments can push past bufio's 64KiB default.
const maxLine = 1 << 20

type jsonBackend struct {
	mu   sync.Mutex
	file *os.File
}

// New creates a new NDJSON-backed storage.Backend.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ndjson: open %s: %w", filePath, err)
	}
	return &jsonBackend{file: f}, nil
}

func (b *jsonBackend) Save(ctx context.Context, f *storage.Finding) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("ndjson: marshal %s: %w", f.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("ndjson: write %s: %w", f.ID, err)
	}
	return nil
}

func (b *jsonBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Finding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ndjson: seek: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	scanner := bufio.NewScanner(b.file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	// No index: read everything, filter in memory, then order and slice.
	var matched []*storage.Finding
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var f storage.Finding
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("ndjson: decode: %w", err)
		}
		if filter.Match(&f) {
			matched = append(matched, &f)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ndjson: scan: %w", err)
	}

	return filter.Page(matched), nil
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
