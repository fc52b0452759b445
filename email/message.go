package email

import (
	"arxiv-notifier/pkg/watcher"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
)

// sanitizeEmailHeader removes newlines and control characters to prevent header injection.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// buildMessage renders msg as a single-part UTF-8 text/plain MIME message.
func buildMessage(msg *watcher.Message) (*mail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, errors.New("no recipients configured")
	}

	m := mail.NewMsg(mail.WithCharset(mail.CharsetUTF8))
	if err := m.FromFormat(sanitizeEmailHeader(msg.FromName), msg.FromAddr); err != nil {
		return nil, fmt.Errorf("set from address %q: %w", msg.FromAddr, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	m.Subject(sanitizeEmailHeader(msg.Subject))
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}
