package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrProviderFailure = errors.New("provider failure")

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, message, recipient string) error
}

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
	Timeout      time.Duration
}

func NewSender(cfg ProviderConfig) Sender {
	switch cfg.Kind {
	case "", "stub", "log":
		return logProvider{}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			log.Warn().Msg("sms webhook url not set, falling back to log provider")
			return logProvider{}
		}
		return newWebhookProvider(cfg.WebhookURL, cfg.WebhookToken, cfg.Timeout)
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return newWebhookProvider(cfg.Kind, cfg.WebhookToken, cfg.Timeout)
		}
		return logProvider{}
	}
}

// logProvider stands in for a gateway in development. Bodies may carry
// passcodes, so they are only logged at debug level.
type logProvider struct{}

func (logProvider) Send(ctx context.Context, message, recipient string) error {
	log.Info().Str("channel", "sms").Str("recipient", recipient).Int("length", len(message)).Msg("send")
	log.Debug().Str("channel", "sms").Str("recipient", recipient).Str("message", message).Msg("send body")
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message, recipient string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message, recipient string) error {
	return ErrProviderFailure
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func newWebhookProvider(url, token string, timeout time.Duration) webhookProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return webhookProvider{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

func (p webhookProvider) Send(ctx context.Context, message, recipient string) error {
	payload := map[string]string{
		"channel":   "sms",
		"recipient": recipient,
		"message":   message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return ErrProviderFailure
	}
	return nil
}
