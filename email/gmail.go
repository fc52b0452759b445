package email

import (
	"arxiv-notifier/pkg/watcher"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// GmailProvider sends emails via Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a new Gmail email provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
	}
}

// Send sends an email via Gmail API as the authenticated account.
func (g *GmailProvider) Send(ctx context.Context, msg *watcher.Message) error {
	m, err := buildMessage(msg)
	if err != nil {
		return &DeliveryError{Err: err}
	}

	var raw bytes.Buffer
	if _, err := m.WriteTo(&raw); err != nil {
		return &DeliveryError{Err: fmt.Errorf("render message: %w", err)}
	}
	encoded := base64.URLEncoding.EncodeToString(raw.Bytes())

	g.logger.Info("Gmail API request starting",
		"method", "POST",
		"endpoint", "users.messages.send",
		"recipients", len(msg.To),
		"subject", msg.Subject)

	startTime := time.Now()
	_, err = g.service.Users.Messages.Send("me", &gmail.Message{
		Raw: encoded,
	}).Context(ctx).Do()
	duration := time.Since(startTime)

	if err != nil {
		g.logger.Error("Gmail API send failed",
			"duration_ms", duration.Milliseconds(),
			"error", err)
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
			return &AuthError{Host: "gmail.googleapis.com", Err: err}
		}
		return &DeliveryError{Err: err}
	}

	g.logger.Info("Gmail API request completed",
		"endpoint", "users.messages.send",
		"recipients", len(msg.To),
		"duration_ms", duration.Milliseconds(),
		"status", "success")
	return nil
}
