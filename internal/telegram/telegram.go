// Package telegram is a minimal Telegram Bot API client covering the calls the
// bot needs: sending text, typing indicators and webhook management.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// SecretHeader carries the webhook secret token on inbound updates.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// ErrAPI is wrapped by every error reported by the Bot API itself.
var ErrAPI = errors.New("telegram api error")

// Sender is the client surface used by the rest of the bot.
type Sender interface {
	SendText(ctx context.Context, chatID, body string) error
	SendTypingIndicator(ctx context.Context, chatID string) error
	SetWebhook(ctx context.Context, url, secret string) error
	GetMe(ctx context.Context) (*User, error)
}

// Opts holds configuration options for the client.
type Opts struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option { return func(o *Opts) { o.Token = token } }

// WithBaseURL overrides the Bot API endpoint.
func WithBaseURL(url string) Option { return func(o *Opts) { o.BaseURL = url } }

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(o *Opts) { o.HTTPClient = c } }

// Client calls the Bot API over HTTP.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient creates a client. A token is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultAPIURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: cfg.HTTPClient, baseURL: strings.TrimRight(cfg.BaseURL, "/"), token: cfg.Token}, nil
}

// SendText sends a plain-text message.
func (c *Client) SendText(ctx context.Context, chatID, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("telegram sendMessage: empty body")
	}
	req := sendMessageRequest{ChatID: chatRef(chatID), Text: body}
	var out apiResponse[json.RawMessage]
	if err := c.call(ctx, "sendMessage", req, &out); err != nil {
		return err
	}
	slog.Debug("Telegram.SendText: sent", "chat_id", chatID, "length", len(body))
	return nil
}

// SendTypingIndicator shows the "typing" status for a few seconds.
func (c *Client) SendTypingIndicator(ctx context.Context, chatID string) error {
	var out apiResponse[bool]
	return c.call(ctx, "sendChatAction", sendChatActionRequest{ChatID: chatRef(chatID), Action: "typing"}, &out)
}

// SetWebhook registers url for message updates.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	if url == "" {
		return fmt.Errorf("telegram setWebhook: url is required")
	}
	var out apiResponse[bool]
	if err := c.call(ctx, "setWebhook", setWebhookRequest{URL: url, SecretToken: secret, AllowedUpdates: []string{"message"}}, &out); err != nil {
		return err
	}
	slog.Info("Telegram.SetWebhook: registered", "url", url)
	return nil
}

// GetMe returns the bot account.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var out apiResponse[User]
	if err := c.call(ctx, "getMe", nil, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// call posts payload as JSON (or issues a GET when payload is nil) and
// decodes the envelope into out.
func (c *Client) call(ctx context.Context, method string, payload any, out interface{ ok() (bool, int, string) }) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	httpMethod := http.MethodGet
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telegram %s: marshal: %w", method, err)
		}
		httpMethod = http.MethodPost
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, url, body)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if err := json.Unmarshal(raw, out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("%w: %s: http %d: %s", ErrAPI, method, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if ok, code, desc := out.ok(); !ok {
		if code == 0 {
			code = resp.StatusCode
		}
		return fmt.Errorf("%w: %s: %d %s", ErrAPI, method, code, desc)
	}
	return nil
}

func (r *apiResponse[T]) ok() (bool, int, string) { return r.OK, r.ErrorCode, r.Description }

var _ Sender = (*Client)(nil)
