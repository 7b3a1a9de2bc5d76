package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"savingbee-alerts/internal/storage"
)

// Transport delivers one alert event to the user's channel.
type Transport interface {
	Send(ctx context.Context, event storage.AlertEvent) error
}

// TelegramTransport pushes notifications through the Telegram Bot API.
type TelegramTransport struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramTransport constructs a Telegram transport.
func NewTelegramTransport(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramTransport{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram_transport").Logger(),
	}
}

// Send renders the event payload and calls the sendMessage API.
func (t *TelegramTransport) Send(ctx context.Context, event storage.AlertEvent) error {
	snapshot, err := DecodePayload(event.Payload)
	if err != nil {
		return err
	}

	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    RenderMessage(event, snapshot),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	t.logger.Info().Int64("event_id", event.ID).
		Str("product_code", event.ProductCode).
		Str("dedup_key", event.DedupKey).
		Msg("notification delivered via telegram")
	return nil
}

var _ Transport = (*TelegramTransport)(nil)

// LogTransport writes notifications to the log only. Used when no real
// channel is configured, and by simulate-alert in development.
type LogTransport struct {
	logger zerolog.Logger
}

// NewLogTransport constructs a log-only transport.
func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger.With().Str("component", "log_transport").Logger()}
}

// Send logs the rendered message instead of delivering it.
func (t *LogTransport) Send(ctx context.Context, event storage.AlertEvent) error {
	snapshot, err := DecodePayload(event.Payload)
	if err != nil {
		return err
	}
	t.logger.Info().Int64("event_id", event.ID).
		Str("message", RenderMessage(event, snapshot)).
		Msg("notification (log only)")
	return nil
}

var _ Transport = (*LogTransport)(nil)
