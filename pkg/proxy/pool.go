package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProxy is returned when marking a URL that was never added.
var ErrUnknownProxy = errors.New("proxy: not found in pool")

// entry tracks the health of one egress proxy.
type entry struct {
	url           *url.URL
	failures      int
	successes     int
	disabledUntil time.Time
}

func (e *entry) available(now time.Time) bool {
	return e.disabledUntil.IsZero() || now.After(e.disabledUntil)
}

// Config defines settings for the Proxy Pool.
type Config struct {
	// MaxFailures before disabling a proxy temporarily.
	MaxFailures int
	// Cooldown is how long a proxy remains disabled after hitting MaxFailures.
	Cooldown time.Duration
}

// Pool rotates through egress proxies round-robin and benches the ones that
// keep failing. It is safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	entries     []*entry
	index       map[string]*entry
	cursor      int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewPool creates a new proxy pool. If config values are zero, reasonable defaults are used.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		index:       make(map[string]*entry),
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// Add parses raw proxy URLs and appends them to the rotation. A missing
// scheme defaults to http. Duplicates are ignored.
func (p *Pool) Add(rawURLs ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("proxy: parse %q: %w", raw, err)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy: %q has no host", raw)
		}
		key := u.String()
		if _, ok := p.index[key]; ok {
			continue
		}
		e := &entry{url: u}
		p.entries = append(p.entries, e)
		p.index[key] = e
	}
	return nil
}

// Len returns the number of proxies in the pool, healthy or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next healthy proxy URL, or nil when the pool is empty or
// every proxy is cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	now := p.now()
	for i := 0; i < n; i++ {
		e := p.entries[p.cursor]
		p.cursor = (p.cursor + 1) % n
		if e.available(now) {
			if !e.disabledUntil.IsZero() {
				// revived after cooldown
				e.disabledUntil = time.Time{}
				e.failures = 0
			}
			return e.url
		}
	}
	return nil
}

// MarkSuccess records a successful request through u and forgives one failure.
func (p *Pool) MarkSuccess(u *url.URL) error {
	e, err := p.lookup(u)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e.successes++
	if e.failures > 0 {
		e.failures--
	}
	return nil
}

// MarkFailure records a failed request through u. Once failures reach the
// configured maximum the proxy is benched for the cooldown period.
func (p *Pool) MarkFailure(u *url.URL) error {
	e, err := p.lookup(u)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e.failures++
	if e.failures >= p.maxFailures {
		e.disabledUntil = p.now().Add(p.cooldown)
	}
	return nil
}

func (p *Pool) lookup(u *url.URL) (*entry, error) {
	if u == nil {
		return nil, errors.New("proxy: url cannot be nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.index[u.String()]
	if !ok {
		return nil, ErrUnknownProxy
	}
	return e, nil
}
