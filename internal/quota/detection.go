package quota

import (
	"bytes"
	"net/http"
	"strings"
)

// Reasons reported for skipped pages.
const (
	ReasonPrimaryRateLimit   = "primary_rate_limit"
	ReasonSecondaryRateLimit = "secondary_rate_limit"
	ReasonResultWindow       = "result_window"
	ReasonValidationFailed   = "validation_failed"
	ReasonForbidden          = "forbidden"
)

// Response is the part of an HTTP response the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector examines a response and reports whether it recognises the
// refusal, and why.
type Detector func(res *Response) (detected bool, reason string)

// DefaultDetectors returns the detectors in priority order. The catch-all
// ones come last.
func DefaultDetectors() []Detector {
	return []Detector{
		detectPrimaryRateLimit,
		detectSecondaryRateLimit,
		detectResultWindow,
		detectValidationFailed,
		detectForbidden,
	}
}

// Classify runs res through detectors and returns the first reason found,
// or "" when none matched.
func Classify(res *Response, detectors []Detector) string {
	if res == nil {
		return ""
	}
	for _, d := range detectors {
		if detected, reason := d(res); detected {
			return reason
		}
	}
	return ""
}

// Skippable reports whether a status means "no results for this page"
// rather than a failure.
func Skippable(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusUnprocessableEntity, http.StatusTooManyRequests:
		return true
	}
	return false
}

func detectPrimaryRateLimit(res *Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusTooManyRequests {
		return false, ""
	}
	if strings.TrimSpace(res.Header.Get("X-RateLimit-Remaining")) == "0" {
		return true, ReasonPrimaryRateLimit
	}
	return false, ""
}

// detectSecondaryRateLimit covers the abuse limiter, which answers 403 or
// 429 with a Retry-After header and/or a message naming it.
func detectSecondaryRateLimit(res *Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusTooManyRequests {
		return false, ""
	}
	if res.Header.Get("Retry-After") != "" {
		return true, ReasonSecondaryRateLimit
	}
	lower := bytes.ToLower(res.Body)
	if bytes.Contains(lower, []byte("secondary rate limit")) || bytes.Contains(lower, []byte("abuse")) {
		return true, ReasonSecondaryRateLimit
	}
	if res.StatusCode == http.StatusTooManyRequests {
		return true, ReasonSecondaryRateLimit
	}
	return false, ""
}

// detectResultWindow recognises the 422 returned for pages past the first
// 1000 results.
func detectResultWindow(res *Response) (bool, string) {
	if res.StatusCode != http.StatusUnprocessableEntity {
		return false, ""
	}
	if bytes.Contains(res.Body, []byte("1000 results")) || bytes.Contains(res.Body, []byte("results limit")) {
		return true, ReasonResultWindow
	}
	return false, ""
}

func detectValidationFailed(res *Response) (bool, string) {
	if res.StatusCode == http.StatusUnprocessableEntity {
		return true, ReasonValidationFailed
	}
	return false, ""
}

func detectForbidden(res *Response) (bool, string) {
	if res.StatusCode == http.StatusForbidden {
		return true, ReasonForbidden
	}
	return false, ""
}
