// Package watcher contains the core domain types for the arXiv listing watcher.
package watcher

import "time"

// Version tag prefixes. A version string is only ever compared for equality.
const (
	DatePrefix    = "date:"
	FirstIDPrefix = "first_id:"
)

// State is the record persisted between runs.
type State struct {
	Version *string `json:"version"` // nil until a version has been observed
}

// CurrentVersion returns the stored version and whether one is present.
func (s *State) CurrentVersion() (string, bool) {
	if s == nil || s.Version == nil {
		return "", false
	}
	return *s.Version, true
}

// FetchResult is the outcome of a single page fetch.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Change describes what a run observed, for notification bodies.
type Change struct {
	Time       time.Time
	URL        string
	OldVersion *string
	NewVersion *string
}

// Message is a plain-text email ready for delivery.
type Message struct {
	FromName string
	FromAddr string
	To       []string // order preserved, not deduplicated
	Subject  string
	Body     string
}

// FormatVersion renders an optional version for humans.
func FormatVersion(v *string) string {
	if v == nil {
		return "None"
	}
	return *v
}

// VersionPtr returns a pointer to v when ok, nil otherwise.
func VersionPtr(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}
