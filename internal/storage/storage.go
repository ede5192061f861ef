package storage

import (
	"context"
	"time"
)

// LanguageStat is one entry of a language leaderboard.
type LanguageStat struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

// Finding is one extracted value, ready for downstream consumers. It is
// built once by the pipeline and never mutated afterwards.
type Finding struct {
	ID           string         `json:"id"`
	Value        string         `json:"value"`
	Source       string         `json:"source"`    // file name
	Container    string         `json:"container"` // repository full name
	Path         string         `json:"path,omitempty"`
	HTMLURL      string         `json:"html_url,omitempty"`
	Language     string         `json:"language"`
	TopLanguages []LanguageStat `json:"top_languages"`
	NewContainer bool           `json:"new_container"`
	Page         int            `json:"page"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filter allows querying for specific Findings.
type Filter struct {
	Container    string
	Language     string
	NewContainer *bool
	Since        *time.Time
	Limit        int
	Offset       int
}

// Match reports whether f passes every set field of the filter. Limit and
// Offset are not considered. File-based backends use it to filter in memory.
func (flt Filter) Match(f *Finding) bool {
	if flt.Container != "" && f.Container != flt.Container {
		return false
	}
	if flt.Language != "" && f.Language != flt.Language {
		return false
	}
	if flt.NewContainer != nil && f.NewContainer != *flt.NewContainer {
		return false
	}
	if flt.Since != nil && f.CreatedAt.Before(*flt.Since) {
		return false
	}
	return true
}

// Page applies newest-first ordering, Offset and Limit to findings that are
// stored oldest first. The input slice is reversed in place.
func (flt Filter) Page(findings []*Finding) []*Finding {
	for i, j := 0, len(findings)-1; i < j; i, j = i+1, j-1 {
		findings[i], findings[j] = findings[j], findings[i]
	}
	if flt.Offset > 0 {
		if flt.Offset >= len(findings) {
			return []*Finding{}
		}
		findings = findings[flt.Offset:]
	}
	if flt.Limit > 0 && flt.Limit < len(findings) {
		findings = findings[:flt.Limit]
	}
	return findings
}

// Backend defines the interface for storing and querying findings.
type Backend interface {
	Save(ctx context.Context, finding *Finding) error
	Query(ctx context.Context, filter Filter) ([]*Finding, error)
	Close() error
}
