package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTelegramURL = "https://api.telegram.org"

type TelegramNotifier struct {
	Token      string
	ChatID     string
	BaseURL    string
	Client     *http.Client
	Retries    int
	RetryDelay time.Duration
	logger     *zap.Logger
}

func NewTelegramNotifier(token, chatID string, retries int, delay time.Duration, logger *zap.Logger) *TelegramNotifier {
	if retries < 1 {
		retries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramNotifier{
		Token:      token,
		ChatID:     chatID,
		BaseURL:    defaultTelegramURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
		Retries:    retries,
		RetryDelay: delay,
		logger:     logger,
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), t.Token)
	form := url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry tries Send up to Retries times, waiting RetryDelay between
// attempts. The last error is returned.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, message string) error {
	var err error
	for attempt := 1; attempt <= t.Retries; attempt++ {
		if err = t.Send(ctx, message); err == nil {
			return nil
		}
		t.logger.Warn("Notifier | telegram send failed",
			zap.Int("attempt", attempt), zap.Int("retries", t.Retries), zap.Error(err))
		if attempt == t.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.RetryDelay):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", t.Retries, err)
}
