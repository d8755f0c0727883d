package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"SignalSentinel/internal/model"
)

const telegramAPI = "https://api.telegram.org"

// TelegramChannel sends and edits messages via the Telegram Bot API.
type TelegramChannel struct {
	BotToken string
	BaseURL  string
	Client   *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewTelegramChannel creates a channel with optional proxy support. Outgoing
// calls share one rate limit; ratePerSec <= 0 disables it.
func NewTelegramChannel(botToken, proxyURL string, timeout time.Duration, ratePerSec float64, log zerolog.Logger) *TelegramChannel {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &TelegramChannel{
		BotToken: botToken,
		BaseURL:  telegramAPI,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter: limiter,
		log:     log,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (t *TelegramChannel) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %v: %w", method, err, model.ErrDelivery)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	apiURL := fmt.Sprintf("%s/bot%s/%s", t.BaseURL, t.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %v: %w", method, err, model.ErrDelivery)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", method, err, model.ErrDelivery)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram API error: status %d, body: %s: %w", resp.StatusCode, string(respBody), model.ErrDelivery)
	}
	var out telegramResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %v: %w", method, err, model.ErrDelivery)
	}
	if !out.OK {
		return nil, fmt.Errorf("%s: %s: %w", method, out.Description, model.ErrDelivery)
	}
	return out.Result, nil
}

// Send sends text to a chat and returns the message id.
func (t *TelegramChannel) Send(ctx context.Context, chatID, text string) (string, error) {
	res, err := t.call(ctx, "sendMessage", map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return "", err
	}
	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(res, &msg); err != nil {
		return "", fmt.Errorf("decode message: %v: %w", err, model.ErrDelivery)
	}
	return strconv.FormatInt(msg.MessageID, 10), nil
}

// Edit replaces the text of a previously sent message.
func (t *TelegramChannel) Edit(ctx context.Context, chatID, messageID, text string) error {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad message id %q: %w", messageID, model.ErrDelivery)
	}
	_, err = t.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": id,
		"text":       text,
	})
	return err
}

// SendWithRetry sends a message with exponential backoff retry. Used for
// command replies only.
func (t *TelegramChannel) SendWithRetry(ctx context.Context, chatID, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if _, err := t.Send(ctx, chatID, text); err != nil {
			lastErr = err
			backoff := time.Duration(1<<uint(i)) * time.Second
			t.log.Warn().Err(err).
				Int("attempt", i+1).
				Int("max", maxRetries+1).
				Dur("backoff", backoff).
				Msg("telegram send failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}
