package email

import (
	"arxiv-notifier/pkg/watcher"
	"context"
	"log/slog"
)

// TestSubjectSuffix marks messages sent in test mode.
const TestSubjectSuffix = " (TEST)"

// Config holds the static envelope of every notification.
type Config struct {
	FromName   string
	FromAddr   string
	Subject    string
	Recipients []string
}

// Sender sends notification emails using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	cfg      Config
}

// New creates a new email sender with the given provider.
func New(provider Provider, logger *slog.Logger, cfg Config) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
		cfg:      cfg,
	}
}

// SendUpdate notifies recipients that the listing page changed.
func (s *Sender) SendUpdate(ctx context.Context, change watcher.Change) error {
	msg := s.message(s.cfg.Subject, formatUpdateBody(change))

	s.logger.Info("Sending update email",
		"recipients", len(msg.To),
		"subject", msg.Subject,
		"new_version", watcher.FormatVersion(change.NewVersion))

	return s.provider.Send(ctx, msg)
}

// SendTest sends a test-labelled email regardless of page state.
func (s *Sender) SendTest(ctx context.Context, change watcher.Change) error {
	msg := s.message(s.cfg.Subject+TestSubjectSuffix, formatTestBody(change))

	s.logger.Info("Sending test email",
		"recipients", len(msg.To),
		"subject", msg.Subject)

	return s.provider.Send(ctx, msg)
}

func (s *Sender) message(subject, body string) *watcher.Message {
	to := make([]string, len(s.cfg.Recipients))
	copy(to, s.cfg.Recipients)
	return &watcher.Message{
		FromName: s.cfg.FromName,
		FromAddr: s.cfg.FromAddr,
		To:       to,
		Subject:  subject,
		Body:     body,
	}
}
