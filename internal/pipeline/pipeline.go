// Package pipeline turns a paginated search API into a stream of findings.
//
// A single producer requests pages one after another and hands their items,
// one at a time, to a bounded pool of workers. Workers extract matches,
// update the shared statistics and emit one Finding per match. The producer
// asks for the next page only once every item of the current page has been
// taken by a worker, so at most one page is held in memory and at most one
// request is in flight.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/FranksOps/keyhound/internal/analyzer"
	"github.com/FranksOps/keyhound/internal/codesearch"
	"github.com/FranksOps/keyhound/internal/language"
	"github.com/FranksOps/keyhound/internal/metrics"
	"github.com/FranksOps/keyhound/internal/storage"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyStarted is returned by a stream from a second Run on the
	// same Pipeline.
	ErrAlreadyStarted = errors.New("pipeline: already started")
	// ErrEmptyStreak ends a stream after Config.MaxEmptyPages consecutive
	// pages without items.
	ErrEmptyStreak = errors.New("pipeline: too many consecutive empty pages")
)

// DefaultTopN is the language snapshot size when Config.TopN is unset.
const DefaultTopN = 10

// StatsStore is the shared aggregate state. MarkSeen must be an atomic
// check-and-insert.
type StatsStore interface {
	MarkSeen(container string) bool
	IncrementLanguage(language string)
	TopLanguages(n int) []storage.LanguageStat
}

// LanguageResolver maps an extension (leading dot included) to a language.
type LanguageResolver interface {
	Resolve(ext string) string
}

// Config provides parameters for a Pipeline.
type Config struct {
	// Workers bounds the matching pool (0 = runtime.NumCPU()).
	Workers int
	// TopN is the size of the language snapshot on each Finding (0 = 10).
	TopN int
	// MaxEmptyPages ends the stream with ErrEmptyStreak after that many
	// consecutive empty pages (0 = never).
	MaxEmptyPages int
	// DedupeWindow is the number of recent items remembered to skip items
	// that reappear on later pages (0 = disabled).
	DedupeWindow int
}

// Pipeline runs once. Build a new one to resume after a failure; the stats
// store can be shared between them.
type Pipeline struct {
	cfg       Config
	stats     StatsStore
	languages LanguageResolver
	logger    *slog.Logger
	recent    *lru.Cache[string, struct{}]
	started   atomic.Bool
}

// New creates a Pipeline.
func New(cfg Config, stats StatsStore, languages LanguageResolver, logger *slog.Logger) (*Pipeline, error) {
	if stats == nil {
		return nil, errors.New("pipeline: stats store is required")
	}
	if languages == nil {
		return nil, errors.New("pipeline: language resolver is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.MaxEmptyPages < 0 {
		return nil, fmt.Errorf("pipeline: negative max empty pages %d", cfg.MaxEmptyPages)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		cfg:       cfg,
		stats:     stats,
		languages: languages,
		logger:    logger,
	}
	if cfg.DedupeWindow > 0 {
		cache, err := lru.New[string, struct{}](cfg.DedupeWindow)
		if err != nil {
			return nil, fmt.Errorf("pipeline: dedupe window: %w", err)
		}
		p.recent = cache
	}
	return p, nil
}

// Stream is the output of Run.
type Stream struct {
	findings chan *storage.Finding
	done     chan struct{}
	err      error

	pages       atomic.Int64
	emptyStreak atomic.Int64
}

func newStream() *Stream {
	return &Stream{
		findings: make(chan *storage.Finding),
		done:     make(chan struct{}),
	}
}

// Findings returns the channel of findings. It is closed when the stream
// ends; Wait then reports why.
func (s *Stream) Findings() <-chan *storage.Finding { return s.findings }

// Wait blocks until the stream has ended and returns its terminal error:
// the fetch error, ErrEmptyStreak, or the context error after
// cancellation. Items taken from pages fetched before a fetch error or an
// empty streak are still delivered; only cancellation drops them. The caller must keep draining Findings or cancel the
// context, otherwise the workers never finish.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

// Pages returns how many pages were received so far.
func (s *Stream) Pages() int { return int(s.pages.Load()) }

// EmptyStreak returns the number of consecutive empty pages received most
// recently. Operators watch it to detect a sustained quota block.
func (s *Stream) EmptyStreak() int { return int(s.emptyStreak.Load()) }

func (s *Stream) finish(err error) {
	s.err = err
	close(s.findings)
	close(s.done)
}

type work struct {
	page int
	item codesearch.Item
}

// Run starts the stream. It never ends on its own unless the fetcher fails
// or MaxEmptyPages is set.
func (p *Pipeline) Run(ctx context.Context, fetcher codesearch.PageFetcher, m *analyzer.Matcher) *Stream {
	s := newStream()
	if !p.started.CompareAndSwap(false, true) {
		s.finish(ErrAlreadyStarted)
		return s
	}
	if fetcher == nil || m == nil {
		s.finish(errors.New("pipeline: fetcher and matcher are required"))
		return s
	}

	go func() {
		s.finish(p.run(ctx, fetcher, m, s))
	}()
	return s
}

func (p *Pipeline) run(ctx context.Context, fetcher codesearch.PageFetcher, m *analyzer.Matcher, s *Stream) error {
	// Workers watch only the caller's context: when the producer stops on a
	// fetch error or an empty streak it closes the queue, and every item
	// already handed out is still delivered before the stream ends.
	var g errgroup.Group
	queue := make(chan work)

	g.Go(func() error {
		defer close(queue)
		return p.produce(ctx, fetcher, queue, s)
	})

	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for w := range queue {
				if err := p.process(ctx, w, m, s); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		p.logger.Error("stream stopped", "pages", s.Pages(), "err", err)
	}
	return err
}

func (p *Pipeline) produce(ctx context.Context, fetcher codesearch.PageFetcher, queue chan<- work, s *Stream) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := fetcher.Next(ctx)
		if err != nil {
			return err
		}
		s.pages.Add(1)

		if page.Empty() {
			streak := s.emptyStreak.Add(1)
			metrics.EmptyPageStreak.Set(float64(streak))
			if page != nil && page.Skipped {
				p.logger.Debug("empty page", "page", page.Number, "reason", page.SkipReason, "streak", streak)
			}
			if p.cfg.MaxEmptyPages > 0 && streak >= int64(p.cfg.MaxEmptyPages) {
				return fmt.Errorf("%w: %d", ErrEmptyStreak, streak)
			}
			continue
		}
		s.emptyStreak.Store(0)
		metrics.EmptyPageStreak.Set(0)

		for _, item := range page.Items {
			if p.duplicate(item) {
				p.logger.Debug("skipping repeated item", "page", page.Number, "container", item.Container, "path", item.Path)
				continue
			}
			select {
			case queue <- work{page: page.Number, item: item}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// duplicate reports whether item was handed out recently. Always false when
// the dedupe window is disabled.
func (p *Pipeline) duplicate(item codesearch.Item) bool {
	if p.recent == nil {
		return false
	}
	key := item.Container + "\x00" + item.Path + "\x00" + item.Name + "\x00" + strings.Join(item.Fragments, "\x00")
	seen, _ := p.recent.ContainsOrAdd(key, struct{}{})
	return seen
}

func (p *Pipeline) process(ctx context.Context, w work, m *analyzer.Matcher, s *Stream) error {
	for _, match := range m.FindInItem(w.item) {
		lang := language.Key(match.Source, p.languages)

		// The count must include this match before the snapshot is taken.
		p.stats.IncrementLanguage(lang)
		isNew := p.stats.MarkSeen(match.Container)

		f := &storage.Finding{
			ID:           uuid.NewString(),
			Value:        match.Value,
			Source:       match.Source,
			Container:    match.Container,
			Path:         match.Path,
			HTMLURL:      match.HTMLURL,
			Language:     lang,
			TopLanguages: p.stats.TopLanguages(p.cfg.TopN),
			NewContainer: isNew,
			Page:         w.page,
			CreatedAt:    time.Now().UTC(),
		}

		select {
		case s.findings <- f:
			metrics.RecordFinding(f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
