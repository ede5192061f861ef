package codesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/keyhound/internal/fingerprint"
	"github.com/FranksOps/keyhound/internal/metrics"
	"github.com/FranksOps/keyhound/internal/quota"
	"github.com/FranksOps/keyhound/pkg/httpclient"
	"github.com/FranksOps/keyhound/pkg/proxy"
	"github.com/FranksOps/keyhound/pkg/ratelimit"
	gh "github.com/google/go-github/v80/github"
)

const (
	DefaultBaseURL   = "https://api.github.com"
	DefaultQuery     = "awsaccess"
	DefaultDelay     = 2 * time.Second
	DefaultUserAgent = "keyhound"
	PerPage          = 30

	// TextMatchMediaType asks the API to include text-match fragments.
	TextMatchMediaType = "application/vnd.github.v3.text-match+json"

	// maxBody caps how much of a response is read; a full page of text
	// matches is a few hundred KiB at most.
	maxBody = 16 << 20
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// PageFetcher is what the pipeline drives: one call, one page, strictly in
// sequence.
type PageFetcher interface {
	Next(ctx context.Context) (*Page, error)
}

// Config configures a Fetcher.
type Config struct {
	BaseURL string
	Query   string
	// Token is sent verbatim as the Authorization header.
	Token     string
	UserAgent string
	// Delay is the pause before every request. Zero means DefaultDelay.
	Delay time.Duration
	// Limiter overrides Delay when set.
	Limiter *ratelimit.Limiter
	// StartPage is the first page Next requests. Zero means 1.
	StartPage          int
	Timeout            time.Duration
	Fingerprint        fingerprint.Profile
	InsecureSkipVerify bool
	ProxyPool          *proxy.Pool
	Detectors          []quota.Detector
	Logger             *slog.Logger
}

// Fetcher requests search result pages. At most one request is in flight at
// any time, even if Next or FetchPage are called from several goroutines.
type Fetcher struct {
	cfg      Config
	endpoint *url.URL
	client   *httpclient.Client
	limiter  *ratelimit.Limiter
	logger   *slog.Logger

	flight sync.Mutex // held for delay + request

	mu   sync.Mutex
	page int // last page number handed out by Next
}

// ensure Fetcher implements PageFetcher
var _ PageFetcher = (*Fetcher)(nil)

// NewFetcher validates cfg, applies defaults and builds the HTTP client.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.StartPage <= 0 {
		cfg.StartPage = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Detectors == nil {
		cfg.Detectors = quota.DefaultDetectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("codesearch: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("codesearch: base url %q must be http or https", cfg.BaseURL)
	}
	endpoint := base.JoinPath("search", "code")

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(cfg.Delay, 0)
	}

	// The proxy for a request travels in its context so the single
	// transport (and its connection pool) can be shared.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(fingerprint.Options{
		Profile:            cfg.Fingerprint,
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("codesearch: transport: %w", err)
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", cfg.Token)
	}
	header.Set("Accept", TextMatchMediaType)
	header.Set("User-Agent", cfg.UserAgent)

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: 5,
		Header:       header,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("codesearch: client: %w", err)
	}

	return &Fetcher{
		cfg:      cfg,
		endpoint: endpoint,
		client:   client,
		limiter:  limiter,
		logger:   cfg.Logger,
		page:     cfg.StartPage - 1,
	}, nil
}

// Next advances the page counter and fetches that page. The counter moves
// on every call whatever the outcome; a failed page is never re-requested.
func (f *Fetcher) Next(ctx context.Context) (*Page, error) {
	f.mu.Lock()
	f.page++
	n := f.page
	f.mu.Unlock()
	return f.FetchPage(ctx, n)
}

// LastPage returns the page number most recently handed out by Next, or
// StartPage-1 before the first call.
func (f *Fetcher) LastPage() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page
}

// PageURL returns the request URL for page n.
func (f *Fetcher) PageURL(n int) string {
	q := url.Values{}
	q.Set("sort", "indexed")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(PerPage))
	q.Set("q", f.cfg.Query)
	q.Set("page", strconv.Itoa(n))
	u := *f.endpoint
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage waits out the fixed delay and requests page n.
//
// 403, 422 and 429 come back as a skipped, empty page with a nil error.
// A 2xx body that does not decode yields ErrDecode. Network failures yield a
// *TransportError, other statuses a *StatusError.
func (f *Fetcher) FetchPage(ctx context.Context, n int) (*Page, error) {
	f.flight.Lock()
	defer f.flight.Unlock()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("codesearch: page %d: %w", n, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.PageURL(n), nil)
	if err != nil {
		return nil, fmt.Errorf("codesearch: page %d: build request: %w", n, err)
	}

	var activeProxy *url.URL
	if f.cfg.ProxyPool != nil {
		if activeProxy = f.cfg.ProxyPool.Next(); activeProxy != nil {
			req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
		}
	}

	f.logger.Debug("fetching page", "page", n)
	start := time.Now()

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		f.proxyFailed(activeProxy)
		metrics.RecordPage(0, "", 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("codesearch: page %d: %w", n, ctxErr)
		}
		return nil, &TransportError{Page: n, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		f.proxyFailed(activeProxy)
		metrics.RecordPage(resp.StatusCode, "", 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("codesearch: page %d: %w", n, ctxErr)
		}
		return nil, &TransportError{Page: n, Err: fmt.Errorf("read body: %w", err)}
	}
	if activeProxy != nil {
		_ = f.cfg.ProxyPool.MarkSuccess(activeProxy)
	}

	page := &Page{
		Number:        n,
		StatusCode:    resp.StatusCode,
		RateRemaining: -1,
		Duration:      time.Since(start),
	}
	f.readRateHeaders(resp.Header, page)

	switch {
	case quota.Skippable(resp.StatusCode):
		page.Skipped = true
		page.SkipReason = quota.Classify(&quota.Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}, f.cfg.Detectors)
		metrics.RecordPage(resp.StatusCode, page.SkipReason, 0, page.Duration)
		f.logger.Warn("page skipped", "page", n, "status", resp.StatusCode, "reason", page.SkipReason)
		return page, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		items, result, err := decodeItems(body)
		if err != nil {
			metrics.RecordPage(resp.StatusCode, "decode_error", 0, page.Duration)
			return nil, fmt.Errorf("%w: page %d: %v", ErrDecode, n, err)
		}
		page.Items = items
		page.Total = result.GetTotal()
		page.Incomplete = result.GetIncompleteResults()
		metrics.RecordPage(resp.StatusCode, "", len(items), page.Duration)
		f.logger.Debug("page fetched", "page", n, "items", len(items), "total", page.Total, "duration", page.Duration)
		return page, nil

	default:
		metrics.RecordPage(resp.StatusCode, "", 0, page.Duration)
		return nil, &StatusError{Page: n, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
}

func (f *Fetcher) readRateHeaders(h http.Header, page *Page) {
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if remaining, err := strconv.Atoi(v); err == nil {
			page.RateRemaining = remaining
			metrics.RateLimitRemaining.Set(float64(remaining))
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			page.RateReset = time.Unix(reset, 0)
		}
	}
}

func (f *Fetcher) proxyFailed(u *url.URL) {
	if u == nil {
		return
	}
	_ = f.cfg.ProxyPool.MarkFailure(u)
	metrics.ProxyFailures.WithLabelValues(u.Redacted()).Inc()
}

// errorMessage pulls the "message" field out of an API error body.
func errorMessage(body []byte) string {
	var er gh.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return ""
	}
	return er.Message
}
