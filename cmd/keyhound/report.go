package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/FranksOps/keyhound/internal/config"
	"github.com/FranksOps/keyhound/internal/report"
	"github.com/FranksOps/keyhound/internal/storage"
	"github.com/spf13/cobra"
)

type reportOptions struct {
	format    string
	output    string
	container string
	language  string
	onlyNew   bool
	since     time.Duration
	limit     int
	recent    int
}

func (a *app) newReportCmd() *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise stored findings",
		Long: `Reads findings from the configured storage backend and prints a summary
as text, JSON or HTML. The ndjson format dumps the matching findings
themselves, unmasked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "text", "output format: text, json, html, ndjson")
	f.StringVarP(&opts.output, "output", "o", "", "write to this file instead of stdout")
	f.StringVar(&opts.container, "container", "", "only findings from this repository")
	f.StringVar(&opts.language, "language", "", "only findings in this language")
	f.BoolVar(&opts.onlyNew, "new", false, "only findings that were first for their repository")
	f.DurationVar(&opts.since, "since", 0, "only findings newer than this (e.g. 24h)")
	f.IntVarP(&opts.limit, "limit", "n", 0, "maximum number of findings read (0 = all)")
	f.IntVar(&opts.recent, "recent", 20, "recent findings listed in the summary")

	return cmd
}

func (a *app) report(cmd *cobra.Command, opts reportOptions) error {
	ctx := cmd.Context()

	if a.cfg.Storage.Backend == config.BackendNone || a.cfg.Storage.Backend == "" {
		return errors.New("report needs a storage backend: set --storage and --dsn")
	}
	backend, err := openBackend(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	filter := storage.Filter{
		Container: opts.container,
		Language:  opts.language,
		Limit:     opts.limit,
	}
	if opts.onlyNew {
		filter.NewContainer = &opts.onlyNew
	}
	if opts.since > 0 {
		since := time.Now().Add(-opts.since)
		filter.Since = &since
	}

	findings, err := backend.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("query findings: %w", err)
	}
	a.logger.Debug("loaded findings", "count", len(findings))

	var w io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		file, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer file.Close()
		w = file
	}

	switch opts.format {
	case "ndjson":
		enc := json.NewEncoder(w)
		for _, f := range findings {
			if err := enc.Encode(f); err != nil {
				return fmt.Errorf("write finding: %w", err)
			}
		}
		return nil
	case "json":
		return report.WriteJSON(w, report.GenerateSummary(findings, opts.recent))
	case "html":
		return report.WriteHTML(w, report.GenerateSummary(findings, opts.recent))
	case "text", "":
		return report.WriteText(w, report.GenerateSummary(findings, opts.recent))
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}
}
