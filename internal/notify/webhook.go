package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

const (
	pushoverEndpoint = "https://api.pushover.net/1/messages.json"
	alertTimeout     = 10 * time.Second
)

var alertClient = &http.Client{Timeout: alertTimeout}

// Pushover sends a high-priority push with the siren sound.
type Pushover struct {
	UserKey  string
	AppToken string
	Endpoint string // override for tests
	Client   *http.Client
}

func (p *Pushover) Name() string { return "pushover" }

func (p *Pushover) Notify(ctx context.Context, title, message string) error {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = pushoverEndpoint
	}
	return postJSON(ctx, p.Client, endpoint, map[string]any{
		"token":    p.AppToken,
		"user":     p.UserKey,
		"title":    title,
		"message":  message,
		"priority": 1,
		"sound":    "siren",
	})
}

// Lark posts a text message to a Lark/Feishu custom bot webhook.
type Lark struct {
	WebhookURL string
	Client     *http.Client
}

func (l *Lark) Name() string { return "lark" }

func (l *Lark) Notify(ctx context.Context, title, message string) error {
	return postJSON(ctx, l.Client, l.WebhookURL, map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": alertText(title, message)},
	})
}

// SlackWebhook posts to a Slack incoming webhook.
type SlackWebhook struct {
	WebhookURL string
	Client     *http.Client
}

func (s *SlackWebhook) Name() string { return "slack-webhook" }

func (s *SlackWebhook) Notify(ctx context.Context, title, message string) error {
	client := s.Client
	if client == nil {
		client = alertClient
	}
	return slack.PostWebhookCustomHTTPContext(ctx, s.WebhookURL, client, &slack.WebhookMessage{
		Text: alertText(title, message),
	})
}

// Sender is the slice of a transport SelfText needs.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) error
}

// SelfText messages the owner on one of their own transports.
type SelfText struct {
	Sender         Sender
	ConversationID string
}

func (s *SelfText) Name() string { return "self-text" }

func (s *SelfText) Notify(ctx context.Context, title, message string) error {
	return s.Sender.Send(ctx, s.ConversationID, alertText(title, message))
}

func alertText(title, message string) string {
	return "🚨 " + title + "\n\n" + message
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	if client == nil {
		client = alertClient
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
