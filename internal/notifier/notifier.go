// Package notifier pushes operator alerts for events that need a human:
// ghost orders, drawdown halts, reconciliation failures.
package notifier

import (
	"fmt"
	"time"
)

const (
	maxSendAttempts = 3
	sendRetryDelay  = 2 * time.Second
)

// Notifier interface for sending notifications (e.g., Telegram, webhook).
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
	RetryWithNotification(action func() error, description string) error
}

// sendWithRetry delivers a message with exponential backoff.
func sendWithRetry(send func(string) error, delay time.Duration, msg string) error {
	var err error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		if err = send(msg); err == nil {
			return nil
		}
		if attempt < maxSendAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("notification failed after %d attempts: %w", maxSendAttempts, err)
}

// retryAction runs action with backoff. On final failure the notifier is
// told, so a silent loop cannot eat persistent errors.
func retryAction(n Notifier, action func() error, delay time.Duration, description string) error {
	var err error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		if err = action(); err == nil {
			return nil
		}
		if attempt < maxSendAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	n.SendWithRetry(fmt.Sprintf("%s failed after %d attempts: %v", description, maxSendAttempts, err))
	return err
}

// Noop discards notifications. Used when no channel is configured.
type Noop struct{}

func (Noop) Send(string) error          { return nil }
func (Noop) SendWithRetry(string) error { return nil }

func (n Noop) RetryWithNotification(action func() error, description string) error {
	return retryAction(n, action, sendRetryDelay, description)
}
