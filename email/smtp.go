package email

import (
	"arxiv-notifier/pkg/watcher"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the settings for an implicit-TLS SMTP session.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration

	// TLSConfig overrides the client TLS settings. Nil verifies Host
	// against the system roots.
	TLSConfig *tls.Config
}

// SMTPProvider sends emails over SMTP with implicit TLS (SMTPS) and AUTH LOGIN.
// Each Send opens and closes its own session.
type SMTPProvider struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPProvider creates a new SMTP email provider.
func NewSMTPProvider(cfg SMTPConfig, logger *slog.Logger) *SMTPProvider {
	return &SMTPProvider{
		cfg:    cfg,
		logger: logger,
	}
}

// Send sends msg to all recipients in one SMTP transaction.
func (p *SMTPProvider) Send(ctx context.Context, msg *watcher.Message) error {
	m, err := buildMessage(msg)
	if err != nil {
		return &DeliveryError{Err: err}
	}

	opts := []mail.Option{
		mail.WithPort(p.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(p.cfg.Username),
		mail.WithPassword(p.cfg.Password),
		mail.WithTimeout(p.cfg.Timeout),
	}
	if p.cfg.TLSConfig != nil {
		opts = append(opts, mail.WithTLSConfig(p.cfg.TLSConfig))
	}
	client, err := mail.NewClient(p.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	p.logger.Info("SMTP session starting",
		"host", p.cfg.Host,
		"port", p.cfg.Port,
		"recipients", len(msg.To),
		"subject", msg.Subject)

	startTime := time.Now()
	if err := client.DialWithContext(ctx); err != nil {
		if isAuthRejection(err) {
			p.logger.Error("SMTP login failed",
				"host", p.cfg.Host,
				"duration_ms", time.Since(startTime).Milliseconds(),
				"error", err)
			return &AuthError{Host: p.cfg.Host, Err: err}
		}
		p.logger.Error("SMTP connection failed",
			"host", p.cfg.Host,
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err)
		return fmt.Errorf("connect smtp %s:%d: %w", p.cfg.Host, p.cfg.Port, err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			p.logger.Warn("Failed to close SMTP session", "error", closeErr)
		}
	}()

	if err := client.Send(m); err != nil {
		p.logger.Error("SMTP send failed",
			"host", p.cfg.Host,
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err)
		return &DeliveryError{Err: err}
	}

	p.logger.Info("SMTP session completed",
		"host", p.cfg.Host,
		"recipients", len(msg.To),
		"duration_ms", time.Since(startTime).Milliseconds(),
		"status", "success")
	return nil
}

// isAuthRejection reports whether the server refused the AUTH exchange.
func isAuthRejection(err error) bool {
	var protoErr *textproto.Error
	if !errors.As(err, &protoErr) {
		return false
	}
	switch protoErr.Code {
	case 454, 530, 534, 535, 538:
		return true
	}
	return false
}
