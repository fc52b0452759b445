// Package scraper handles fetching the listing page and deriving its version.
package scraper

import (
	"arxiv-notifier/pkg/watcher"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultUserAgent identifies the watcher to the listing site.
const DefaultUserAgent = "Mozilla/5.0 arxiv-page-update-watch"

// HTTPStatusError indicates the listing page answered with a failure status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// IsHTTPStatusError checks if an error is an HTTP status error.
func IsHTTPStatusError(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr)
}

// NetworkError indicates the request never produced a response
// (DNS failure, refused connection, timeout).
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError checks if an error is a network error.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// Scraper fetches the listing page. It never retries: a failed fetch fails the run.
type Scraper struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string
}

// New creates a new scraper. The client's Timeout bounds each fetch.
func New(client *http.Client, userAgent string, logger *slog.Logger) *Scraper {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Scraper{
		client:    client,
		logger:    logger,
		userAgent: userAgent,
	}
}

// Fetch issues a single GET for pageURL.
func (s *Scraper) Fetch(ctx context.Context, pageURL string) (*watcher.FetchResult, error) {
	s.logger.Info("HTTP request starting",
		"method", "GET",
		"url", pageURL,
		"purpose", "fetch_listing_page")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	startTime := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		s.logger.Error("HTTP request failed",
			"url", pageURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, &NetworkError{URL: pageURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: pageURL, Err: fmt.Errorf("read body: %w", err)}
	}

	s.logger.Info("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	return &watcher.FetchResult{
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
