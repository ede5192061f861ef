package main

import (
	"fmt"
	"log/slog"

	"github.com/FranksOps/keyhound/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v       *viper.Viper
	cfgFile string
	envFile string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "keyhound",
		Short: "Hunt for leaked credentials in GitHub code search results",
		Long: `keyhound pages through GitHub code search results, newest first, and
extracts credential-like values from the matched fragments with a regular
expression. Every match is written to stdout as one JSON line and, when a
storage backend is configured, persisted for later reports.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("storage", config.BackendNone, "storage backend: none, sqlite, postgres, csv, json")
	pf.String("dsn", "", "storage location: file path, or connection string for postgres")
	a.bind(pf, map[string]string{
		"log.level":       "log-level",
		"log.format":      "log-format",
		"storage.backend": "storage",
		"storage.dsn":     "dsn",
	})

	root.AddCommand(a.newRunCmd(), a.newReportCmd(), a.newLanguagesCmd())
	return root
}

// bind maps config keys to flags. A flag only wins over file and
// environment values when it was given explicitly.
func (a *app) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}
