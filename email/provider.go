// Package email composes and delivers watcher notifications.
package email

import (
	"arxiv-notifier/pkg/watcher"
	"context"
	"errors"
	"fmt"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send delivers msg to all of its recipients in one transaction.
	Send(ctx context.Context, msg *watcher.Message) error
}

// AuthError indicates the provider rejected our credentials or the session
// could not be established.
type AuthError struct {
	Host string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticate with %s: %v", e.Host, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DeliveryError indicates an authenticated session failed to deliver a message.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver message: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsDeliveryError checks if an error is a delivery error.
func IsDeliveryError(err error) bool {
	var deliveryErr *DeliveryError
	return errors.As(err, &deliveryErr)
}
