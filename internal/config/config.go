// Package config loads keyhound settings from defaults, an optional config
// file, a .env file and KEYHOUND_* environment variables, in increasing
// order of precedence. Command-line flags bound to the returned viper
// instance win over all of them.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/FranksOps/keyhound/internal/analyzer"
	"github.com/FranksOps/keyhound/internal/codesearch"
	"github.com/FranksOps/keyhound/internal/fingerprint"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "KEYHOUND"

// Storage backends.
const (
	BackendNone     = "none"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendCSV      = "csv"
	BackendJSON     = "json"
)

type StorageConfig struct {
	Backend string
	DSN     string // file path for sqlite/csv/json, connection string for postgres
}

type MetricsConfig struct {
	Port int // 0 disables the server
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

type RetryConfig struct {
	Base time.Duration
	Max  time.Duration
}

// Config is the resolved configuration.
type Config struct {
	// Token is sent as the Authorization header value, unmodified.
	Token              string
	BaseURL            string
	Query              string
	Pattern            string
	Delay              time.Duration
	Timeout            time.Duration
	StartPage          int
	Workers            int
	TopN               int
	MaxEmptyPages      int
	DedupeWindow       int
	Fingerprint        string
	InsecureSkipVerify bool
	Proxies            []string
	Languages          map[string]string

	Storage StorageConfig
	Metrics MetricsConfig
	Log     LogConfig
	Retry   RetryConfig
}

// New returns a viper instance with defaults and environment binding in
// place. Nested keys map to env vars with dots replaced by underscores,
// e.g. storage.dsn is KEYHOUND_STORAGE_DSN.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("token", "")
	v.SetDefault("base_url", codesearch.DefaultBaseURL)
	v.SetDefault("query", codesearch.DefaultQuery)
	v.SetDefault("pattern", analyzer.DefaultPattern)
	v.SetDefault("delay", codesearch.DefaultDelay)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("start_page", 1)
	v.SetDefault("workers", 0)
	v.SetDefault("top_n", 10)
	v.SetDefault("max_empty_pages", 0)
	v.SetDefault("dedupe_window", 0)
	v.SetDefault("fingerprint", string(fingerprint.ProfileGo))
	v.SetDefault("insecure_skip_verify", false)
	v.SetDefault("proxies", []string{})
	v.SetDefault("languages", map[string]string{})
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("metrics.port", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("retry.base", 5*time.Second)
	v.SetDefault("retry.max", 5*time.Minute)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// GITHUB_TOKEN is accepted as a fallback for the credential.
	_ = v.BindEnv("token", EnvPrefix+"_TOKEN", "GITHUB_TOKEN")

	return v
}

// LoadDotEnv reads the given .env files into the process environment
// without overriding variables that are already set. Missing files are
// ignored; with no arguments ".env" in the working directory is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load resolves the configuration from v. If file is not empty it is read
// as a config file first (format from its extension).
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	cfg := &Config{
		Token:              v.GetString("token"),
		BaseURL:            v.GetString("base_url"),
		Query:              v.GetString("query"),
		Pattern:            v.GetString("pattern"),
		Delay:              v.GetDuration("delay"),
		Timeout:            v.GetDuration("timeout"),
		StartPage:          v.GetInt("start_page"),
		Workers:            v.GetInt("workers"),
		TopN:               v.GetInt("top_n"),
		MaxEmptyPages:      v.GetInt("max_empty_pages"),
		DedupeWindow:       v.GetInt("dedupe_window"),
		Fingerprint:        v.GetString("fingerprint"),
		InsecureSkipVerify: v.GetBool("insecure_skip_verify"),
		Proxies:            splitList(v.GetStringSlice("proxies")),
		Languages:          v.GetStringMapString("languages"),
		Storage: StorageConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString("storage.backend"))),
			DSN:     v.GetString("storage.dsn"),
		},
		Metrics: MetricsConfig{Port: v.GetInt("metrics.port")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Retry: RetryConfig{
			Base: v.GetDuration("retry.base"),
			Max:  v.GetDuration("retry.max"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late, deep inside a
// run. The token is not required here; commands that call the API check
// it themselves.
func (c *Config) Validate() error {
	var errs []error

	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must not be negative, got %s", c.Delay))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.StartPage < 1 {
		errs = append(errs, fmt.Errorf("start_page must be at least 1, got %d", c.StartPage))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.TopN < 0 {
		errs = append(errs, fmt.Errorf("top_n must not be negative, got %d", c.TopN))
	}
	if c.MaxEmptyPages < 0 {
		errs = append(errs, fmt.Errorf("max_empty_pages must not be negative, got %d", c.MaxEmptyPages))
	}
	if c.DedupeWindow < 0 {
		errs = append(errs, fmt.Errorf("dedupe_window must not be negative, got %d", c.DedupeWindow))
	}
	if _, err := analyzer.Compile(c.Pattern); err != nil {
		errs = append(errs, err)
	}
	if _, err := fingerprint.ParseProfile(c.Fingerprint); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}
	if c.Retry.Base <= 0 || c.Retry.Max < c.Retry.Base {
		errs = append(errs, fmt.Errorf("retry.base must be positive and not above retry.max (%s, %s)", c.Retry.Base, c.Retry.Max))
	}

	switch c.Storage.Backend {
	case BackendNone, "":
	case BackendSQLite, BackendPostgres, BackendCSV, BackendJSON:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for the %s backend", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NewLogger builds the process logger described by c, writing to w.
func NewLogger(c LogConfig, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log.level %q", s)
	}
	return level, nil
}

// splitList accepts both list values and comma separated strings, which is
// what a list looks like when it comes from an environment variable.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
