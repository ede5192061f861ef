package codesearch

import (
	"encoding/json"
	"time"

	gh "github.com/google/go-github/v80/github"
)

// Item is a single search result.
type Item struct {
	Name      string   // file name
	Path      string   // path inside the container
	Container string   // repository full name
	HTMLURL   string
	Fragments []string // text-match fragments, in API order
}

// Page is one response from the search endpoint. A skipped page (quota,
// result window) carries no items and the reason it was skipped.
type Page struct {
	Number     int
	StatusCode int
	Items      []Item
	Total      int
	Incomplete bool

	Skipped    bool
	SkipReason string

	// RateRemaining is the X-RateLimit-Remaining header, or -1 if absent.
	RateRemaining int
	RateReset     time.Time
	Duration      time.Duration
}

// Empty reports whether the page contributes no items.
func (p *Page) Empty() bool {
	return p == nil || len(p.Items) == 0
}

// decodeItems parses a text-match search response body.
func decodeItems(body []byte) ([]Item, *gh.CodeSearchResult, error) {
	var result gh.CodeSearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, nil, err
	}

	items := make([]Item, 0, len(result.CodeResults))
	for _, cr := range result.CodeResults {
		if cr == nil {
			continue
		}
		item := Item{
			Name:      cr.GetName(),
			Path:      cr.GetPath(),
			Container: cr.GetRepository().GetFullName(),
			HTMLURL:   cr.GetHTMLURL(),
		}
		for _, tm := range cr.TextMatches {
			if tm == nil || tm.Fragment == nil {
				continue
			}
			item.Fragments = append(item.Fragments, tm.GetFragment())
		}
		items = append(items, item)
	}
	return items, &result, nil
}
