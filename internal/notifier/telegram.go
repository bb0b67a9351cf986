package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type TelegramNotifier struct {
	Token  string
	ChatID string

	apiBase    string
	retryDelay time.Duration
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		Token:      token,
		ChatID:     chatID,
		apiBase:    "https://api.telegram.org",
		retryDelay: sendRetryDelay,
	}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.Token)
	resp, err := http.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

func (t *TelegramNotifier) SendWithRetry(message string) error {
	return sendWithRetry(t.Send, t.retryDelay, message)
}

func (t *TelegramNotifier) RetryWithNotification(action func() error, description string) error {
	return retryAction(t, action, t.retryDelay, description)
}
