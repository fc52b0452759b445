// Package poll runs one check of the listing page and decides whether to notify.
package poll

import (
	"arxiv-notifier/metrics"
	"arxiv-notifier/pkg/watcher"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Fetcher retrieves the listing page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*watcher.FetchResult, error)
}

// Extractor derives a version from page HTML.
type Extractor interface {
	Extract(body []byte) (version string, ok bool, err error)
}

// Store interface for state persistence.
type Store interface {
	Load(ctx context.Context) (*watcher.State, error)
	Save(ctx context.Context, state *watcher.State) error
	Location() string
}

// Emailer interface for sending notifications.
type Emailer interface {
	SendUpdate(ctx context.Context, change watcher.Change) error
	SendTest(ctx context.Context, change watcher.Change) error
}

// Outcome is the terminal state of a run.
type Outcome string

// Run outcomes.
const (
	OutcomeTestSent    Outcome = "test_sent"
	OutcomeInitialized Outcome = "initialized"
	OutcomeUpdated     Outcome = "updated"
	OutcomeUnchanged   Outcome = "unchanged"
)

// Result summarizes a completed run.
type Result struct {
	RunID      string  `json:"run_id"`
	Outcome    Outcome `json:"outcome"`
	OldVersion *string `json:"old_version"`
	NewVersion *string `json:"new_version"`
}

// Options configures a Monitor.
type Options struct {
	URL      string
	TestMode bool
	Now      func() time.Time // defaults to time.Now
}

// Monitor runs the fetch, compare and notify cycle.
type Monitor struct {
	fetcher   Fetcher
	extractor Extractor
	store     Store
	emailer   Emailer
	logger    *slog.Logger
	opts      Options
}

// New creates a new poll monitor.
func New(fetcher Fetcher, extractor Extractor, store Store, emailer Emailer, logger *slog.Logger, opts Options) *Monitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		emailer:   emailer,
		logger:    logger,
		opts:      opts,
	}
}

// Run performs exactly one check. Any error aborts the run; nothing is retried.
func (m *Monitor) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	logger := m.logger.With("run_id", runID)

	res, err := m.run(ctx, logger)
	if err != nil {
		metrics.ObserveRun("error", m.opts.Now())
		return nil, err
	}
	res.RunID = runID
	metrics.ObserveRun(string(res.Outcome), m.opts.Now())
	return res, nil
}

func (m *Monitor) run(ctx context.Context, logger *slog.Logger) (*Result, error) {
	logger.Info("Starting check",
		"url", m.opts.URL,
		"state_location", m.store.Location(),
		"test_mode", m.opts.TestMode)

	state, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	oldVersion, hasOld := state.CurrentVersion()

	page, err := m.fetcher.Fetch(ctx, m.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing page: %w", err)
	}
	metrics.ObserveFetch(len(page.Body))
	logger.Info("Listing page fetched", "status_code", page.StatusCode, "bytes", len(page.Body))

	newVersion, hasNew, err := m.extractor.Extract(page.Body)
	if err != nil {
		return nil, fmt.Errorf("extract version: %w", err)
	}

	res := &Result{
		OldVersion: watcher.VersionPtr(oldVersion, hasOld),
		NewVersion: watcher.VersionPtr(newVersion, hasNew),
	}
	logger.Info("Versions compared",
		"old_version", watcher.FormatVersion(res.OldVersion),
		"new_version", watcher.FormatVersion(res.NewVersion))

	change := watcher.Change{
		Time:       m.opts.Now(),
		URL:        m.opts.URL,
		OldVersion: res.OldVersion,
		NewVersion: res.NewVersion,
	}

	switch {
	case m.opts.TestMode:
		// Test mode never touches the stored state.
		if err := m.emailer.SendTest(ctx, change); err != nil {
			return nil, fmt.Errorf("send test email: %w", err)
		}
		metrics.ObserveEmail("test")
		res.Outcome = OutcomeTestSent
		logger.Info("Test email sent")

	case !hasOld:
		if err := m.store.Save(ctx, &watcher.State{Version: res.NewVersion}); err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
		res.Outcome = OutcomeInitialized
		logger.Info("Initialized state (no email)", "version", watcher.FormatVersion(res.NewVersion))

	case hasNew && newVersion != oldVersion:
		if err := m.emailer.SendUpdate(ctx, change); err != nil {
			return nil, fmt.Errorf("send update email: %w", err)
		}
		metrics.ObserveEmail("update")
		if err := m.store.Save(ctx, &watcher.State{Version: res.NewVersion}); err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
		res.Outcome = OutcomeUpdated
		logger.Info("Update email sent", "old_version", oldVersion, "new_version", newVersion)

	default:
		res.Outcome = OutcomeUnchanged
		if !hasNew {
			logger.Warn("Could not determine version, treating as no update")
		}
		logger.Info("No update")
	}

	return res, nil
}
