// Package storage handles persistence of the watcher state.
package storage

import (
	"arxiv-notifier/pkg/watcher"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// FormatError indicates the persisted state exists but cannot be decoded.
type FormatError struct {
	Location string
	Err      error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid state at %s: %v", e.Location, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// IsFormatError checks if an error is a state format error.
func IsFormatError(err error) bool {
	var formatErr *FormatError
	return errors.As(err, &formatErr)
}

// Store persists a single State record, either in a local file or in a
// Cloud Storage object. Writes overwrite the whole record; callers must not
// run concurrently against the same location.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	object    string
}

// NewLocal creates a store backed by the file at path.
func NewLocal(path string, logger *slog.Logger) *Store {
	return &Store{
		logger:    logger,
		localPath: path,
	}
}

// NewGCS creates a store backed by gs://bucket/object.
func NewGCS(client *storage.Client, bucket, object string, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		bucket: bucket,
		object: object,
	}
}

// Location describes where the state lives, for logs.
func (s *Store) Location() string {
	if s.localPath != "" {
		return s.localPath
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Load reads the state. A missing record yields an empty State.
func (s *Store) Load(ctx context.Context) (*watcher.State, error) {
	var data []byte
	var err error

	if s.localPath != "" {
		data, err = os.ReadFile(s.localPath)
		if err != nil {
			if os.IsNotExist(err) {
				s.logger.Info("No state file, starting empty", "path", s.localPath)
				return &watcher.State{}, nil
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		data, err = s.readObject(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				s.logger.Info("No state object, starting empty", "location", s.Location())
				return &watcher.State{}, nil
			}
			return nil, err
		}
	}

	// A bare null decodes without error but is not a state record.
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, &FormatError{Location: s.Location(), Err: errors.New("state is null, want an object")}
	}

	var state watcher.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &FormatError{Location: s.Location(), Err: err}
	}

	s.logger.Debug("State loaded", "location", s.Location(), "version", watcher.FormatVersion(state.Version))
	return &state, nil
}

// Save overwrites the state with a human-readable JSON document.
func (s *Store) Save(ctx context.Context, state *watcher.State) error {
	data, err := encode(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if s.localPath != "" {
		if err := os.WriteFile(s.localPath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Info("State saved to local storage", "path", s.localPath, "version", watcher.FormatVersion(state.Version))
		return nil
	}

	if err := s.writeObject(ctx, data); err != nil {
		return err
	}
	s.logger.Info("State saved", "location", s.Location(), "version", watcher.FormatVersion(state.Version))
	return nil
}

// encode renders the state with two-space indentation and without HTML escaping.
func encode(state *watcher.State) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (s *Store) readObject(ctx context.Context) ([]byte, error) {
	var data []byte
	notFound := false
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					notFound = true
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "location", s.Location(), "error", retryErr)
		}),
	)
	if notFound {
		return nil, storage.ErrObjectNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return data, nil
}

func (s *Store) writeObject(ctx context.Context, data []byte) error {
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "location", s.Location(), "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}
