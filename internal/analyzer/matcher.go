package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/FranksOps/keyhound/internal/codesearch"
)

// DefaultPattern captures AWS access key IDs.
const DefaultPattern = `(AKIA[0-9A-Z]{16})`

// Match is one value extracted from a fragment.
type Match struct {
	Value     string `json:"value"`
	Source    string `json:"source"`
	Container string `json:"container"`
	Path      string `json:"path,omitempty"`
	HTMLURL   string `json:"html_url,omitempty"`
	Fragment  int    `json:"fragment"` // index of the fragment within its item
}

// Matcher applies a compiled pattern to search result fragments.
type Matcher struct {
	re    *regexp.Regexp
	group int
}

// Compile builds a Matcher. If the pattern has capturing groups the first
// group is the extracted value, otherwise the whole match is.
func Compile(pattern string) (*Matcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("analyzer: empty pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("analyzer: compile pattern: %w", err)
	}
	return New(re), nil
}

// New wraps an already compiled expression.
func New(re *regexp.Regexp) *Matcher {
	group := 0
	if re.NumSubexp() > 0 {
		group = 1
	}
	return &Matcher{re: re, group: group}
}

// String returns the source pattern.
func (m *Matcher) String() string { return m.re.String() }

// FindInFragment returns the value of the first match in fragment. Later
// matches in the same fragment are ignored.
func (m *Matcher) FindInFragment(fragment string) (string, bool) {
	loc := m.re.FindStringSubmatchIndex(fragment)
	if loc == nil {
		return "", false
	}
	start, end := loc[2*m.group], loc[2*m.group+1]
	if start < 0 {
		// the group did not participate in the match
		return "", false
	}
	return fragment[start:end], true
}

// FindInItem scans item's fragments in order and returns at most one Match
// per fragment. An item without fragments yields nothing.
func (m *Matcher) FindInItem(item codesearch.Item) []Match {
	if len(item.Fragments) == 0 {
		return nil
	}
	var matches []Match
	for i, fragment := range item.Fragments {
		value, ok := m.FindInFragment(fragment)
		if !ok {
			continue
		}
		matches = append(matches, Match{
			Value:     value,
			Source:    item.Name,
			Container: item.Container,
			Path:      item.Path,
			HTMLURL:   item.HTMLURL,
			Fragment:  i,
		})
	}
	return matches
}

// Mask hides the middle of a value for log output, keeping four characters
// at each end. Short values are fully masked.
func Mask(value string) string {
	const keep = 4
	if len(value) <= 2*keep {
		return strings.Repeat("*", len(value))
	}
	return value[:keep] + strings.Repeat("*", len(value)-2*keep) + value[len(value)-keep:]
}
