package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/FranksOps/keyhound/internal/analyzer"
	"github.com/FranksOps/keyhound/internal/codesearch"
	"github.com/FranksOps/keyhound/internal/fingerprint"
	"github.com/FranksOps/keyhound/internal/language"
	"github.com/FranksOps/keyhound/internal/metrics"
	"github.com/FranksOps/keyhound/internal/pipeline"
	"github.com/FranksOps/keyhound/internal/stats"
	"github.com/FranksOps/keyhound/internal/storage"
	"github.com/FranksOps/keyhound/pkg/proxy"
	"github.com/spf13/cobra"
)

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll code search and stream findings as NDJSON",
		Long: `Requests search pages one at a time, newest indexed first, with a fixed
delay before every request. Rate-limited and out-of-range pages count as
empty. Transport and server errors are retried with exponential backoff,
resuming at the page after the one that failed. The command runs until
interrupted, a fatal error occurs, or --max-empty-pages is reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("token", "", "Authorization header value, e.g. \"token ghp_...\" (prefer KEYHOUND_TOKEN)")
	f.String("base-url", codesearch.DefaultBaseURL, "API base URL")
	f.String("query", codesearch.DefaultQuery, "search query")
	f.String("pattern", analyzer.DefaultPattern, "regular expression; the first capture group is the value")
	f.Duration("delay", codesearch.DefaultDelay, "pause before every request")
	f.Duration("timeout", 30*time.Second, "per-request timeout")
	f.Int("start-page", 1, "first page to request")
	f.Int("workers", 0, "matching workers (0 = number of CPUs)")
	f.Int("top-n", 10, "languages included in each finding's snapshot")
	f.Int("max-empty-pages", 0, "stop after this many consecutive empty pages (0 = never)")
	f.Int("dedupe-window", 0, "recently seen items to remember and skip (0 = off)")
	f.String("fingerprint", string(fingerprint.ProfileGo), "TLS fingerprint: go, chrome, firefox, safari, random")
	f.StringSlice("proxy", nil, "egress proxy URL, repeatable")
	f.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 = off)")
	a.bind(f, map[string]string{
		"token":           "token",
		"base_url":        "base-url",
		"query":           "query",
		"pattern":         "pattern",
		"delay":           "delay",
		"timeout":         "timeout",
		"start_page":      "start-page",
		"workers":         "workers",
		"top_n":           "top-n",
		"max_empty_pages": "max-empty-pages",
		"dedupe_window":   "dedupe-window",
		"fingerprint":     "fingerprint",
		"proxies":         "proxy",
		"metrics.port":    "metrics-port",
	})

	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer) error {
	cfg, logger := a.cfg, a.logger

	if cfg.Token == "" {
		return errors.New("no token configured: set KEYHOUND_TOKEN or GITHUB_TOKEN")
	}

	matcher, err := analyzer.Compile(cfg.Pattern)
	if err != nil {
		return err
	}
	profile, err := fingerprint.ParseProfile(cfg.Fingerprint)
	if err != nil {
		return err
	}

	var pool *proxy.Pool
	if len(cfg.Proxies) > 0 {
		pool = proxy.NewPool(proxy.Config{})
		if err := pool.Add(cfg.Proxies...); err != nil {
			return err
		}
	}

	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if backend != nil {
		defer backend.Close()
	}

	st := stats.NewStore()
	if backend != nil {
		prior, err := backend.Query(ctx, storage.Filter{})
		if err != nil {
			return fmt.Errorf("load stored findings: %w", err)
		}
		st.Restore(prior)
		logger.Info("restored state", "findings", len(prior), "containers", st.SeenCount())
	}

	if cfg.Metrics.Port > 0 {
		srv := metrics.Start(cfg.Metrics.Port, logger)
		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				logger.Warn("metrics server shutdown", "err", err)
			}
		}()
	}

	languages := language.NewTable(cfg.Languages)
	sink := &findingSink{enc: json.NewEncoder(out), backend: backend, logger: a.logger}

	startPage := cfg.StartPage
	backoff := cfg.Retry.Base
	for {
		fetcher, err := codesearch.NewFetcher(codesearch.Config{
			BaseURL:            cfg.BaseURL,
			Query:              cfg.Query,
			Token:              cfg.Token,
			Delay:              cfg.Delay,
			StartPage:          startPage,
			Timeout:            cfg.Timeout,
			Fingerprint:        profile,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			ProxyPool:          pool,
			Logger:             logger,
		})
		if err != nil {
			return err
		}

		p, err := pipeline.New(pipeline.Config{
			Workers:       cfg.Workers,
			TopN:          cfg.TopN,
			MaxEmptyPages: cfg.MaxEmptyPages,
			DedupeWindow:  cfg.DedupeWindow,
		}, st, languages, logger)
		if err != nil {
			return err
		}

		logger.Info("polling", "query", cfg.Query, "start_page", startPage)
		runCtx, cancel := context.WithCancel(ctx)
		stream := p.Run(runCtx, fetcher, matcher)
		for f := range stream.Findings() {
			if err := sink.handle(ctx, f); err != nil {
				cancel()
				// drain so the workers can exit
				for range stream.Findings() {
				}
				_ = stream.Wait()
				return err
			}
		}
		err = stream.Wait()
		cancel()

		switch {
		case ctx.Err() != nil:
			logger.Info("stopped", "last_page", fetcher.LastPage())
			return nil
		case errors.Is(err, pipeline.ErrEmptyStreak):
			logger.Warn("giving up after consecutive empty pages", "pages", stream.EmptyStreak(), "last_page", fetcher.LastPage())
			return err
		case codesearch.IsRetryable(err):
			if stream.Pages() > 0 {
				backoff = cfg.Retry.Base
			}
			startPage = fetcher.LastPage() + 1
			logger.Warn("page failed, retrying", "err", err, "resume_page", startPage, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff = min(backoff*2, cfg.Retry.Max)
		default:
			return err
		}
	}
}

// maxSaveFailures is how many consecutive failed saves end the run. A
// finding that is not persisted is flagged new again after a restart.
const maxSaveFailures = 3

// findingSink writes findings to stdout and to the storage backend.
type findingSink struct {
	enc     *json.Encoder
	backend storage.Backend
	logger  *slog.Logger

	saveFailures int
}

func (s *findingSink) handle(ctx context.Context, f *storage.Finding) error {
	if err := s.enc.Encode(f); err != nil {
		return fmt.Errorf("write finding: %w", err)
	}
	if s.backend != nil {
		if err := s.backend.Save(ctx, f); err != nil {
			metrics.SaveFailures.Inc()
			s.saveFailures++
			s.logger.Error("failed to save finding", "id", f.ID, "container", f.Container, "consecutive", s.saveFailures, "err", err)
			if s.saveFailures >= maxSaveFailures {
				return fmt.Errorf("storage: %d consecutive saves failed: %w", s.saveFailures, err)
			}
		} else {
			s.saveFailures = 0
		}
	}
	s.logger.Info("finding",
		"container", f.Container,
		"source", f.Source,
		"language", f.Language,
		"new", f.NewContainer,
		"value", analyzer.Mask(f.Value),
	)
	return nil
}
