package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier posts messages as {"text": ...} JSON, the payload
// shape Slack and Discord incoming webhooks accept.
type WebhookNotifier struct {
	URL string

	client     *http.Client
	retryDelay time.Duration
}

func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryDelay: sendRetryDelay,
	}
}

func (w *WebhookNotifier) Send(message string) error {
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	resp, err := w.client.Post(w.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook send failed: %s", resp.Status)
	}
	return nil
}

func (w *WebhookNotifier) SendWithRetry(message string) error {
	return sendWithRetry(w.Send, w.retryDelay, message)
}

func (w *WebhookNotifier) RetryWithNotification(action func() error, description string) error {
	return retryAction(w, action, w.retryDelay, description)
}
