package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Yookassa defaults.
const (
	DefaultYookassaURL = "https://api.yookassa.ru/v3"
	DefaultAmount      = "990.00"
	DefaultCurrency    = "RUB"
	DefaultDescription = "Персональный расклад Таро"
	DefaultReturnURL   = "https://t.me/"
)

// YookassaOpts configures the Yookassa client.
type YookassaOpts struct {
	ShopID      string
	SecretKey   string
	Amount      string
	Description string
	ReturnURL   string
	BaseURL     string
	HTTPClient  *http.Client
}

// YookassaOption mutates YookassaOpts.
type YookassaOption func(*YookassaOpts)

// WithShopID sets the shop id.
func WithShopID(id string) YookassaOption { return func(o *YookassaOpts) { o.ShopID = id } }

// WithSecretKey sets the API secret key.
func WithSecretKey(key string) YookassaOption { return func(o *YookassaOpts) { o.SecretKey = key } }

// WithAmount sets the price, e.g. "990.00".
func WithAmount(amount string) YookassaOption { return func(o *YookassaOpts) { o.Amount = amount } }

// WithDescription sets the payment description.
func WithDescription(d string) YookassaOption { return func(o *YookassaOpts) { o.Description = d } }

// WithReturnURL sets where the payer is sent after paying.
func WithReturnURL(url string) YookassaOption { return func(o *YookassaOpts) { o.ReturnURL = url } }

// WithYookassaURL overrides the API endpoint.
func WithYookassaURL(url string) YookassaOption { return func(o *YookassaOpts) { o.BaseURL = url } }

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) YookassaOption { return func(o *YookassaOpts) { o.HTTPClient = c } }

// Yookassa creates one redirect payment per link request.
type Yookassa struct {
	opts YookassaOpts
}

// NewYookassa creates a client. Shop id and secret key are required.
func NewYookassa(opts ...YookassaOption) (*Yookassa, error) {
	o := YookassaOpts{
		Amount:      DefaultAmount,
		Description: DefaultDescription,
		ReturnURL:   DefaultReturnURL,
		BaseURL:     DefaultYookassaURL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ShopID == "" || o.SecretKey == "" {
		return nil, fmt.Errorf("yookassa shop id and secret key must be provided")
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	return &Yookassa{opts: o}, nil
}

type yookassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yookassaConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type yookassaPaymentRequest struct {
	Amount       yookassaAmount       `json:"amount"`
	Confirmation yookassaConfirmation `json:"confirmation"`
	Capture      bool                 `json:"capture"`
	Description  string               `json:"description"`
	Metadata     map[string]string    `json:"metadata"`
}

type yookassaPayment struct {
	ID           string               `json:"id"`
	Status       string               `json:"status"`
	Confirmation yookassaConfirmation `json:"confirmation"`
}

// Link implements Provider.
func (y *Yookassa) Link(ctx context.Context, chatID string) (string, error) {
	payload := yookassaPaymentRequest{
		Amount:       yookassaAmount{Value: y.opts.Amount, Currency: DefaultCurrency},
		Confirmation: yookassaConfirmation{Type: "redirect", ReturnURL: y.opts.ReturnURL},
		Capture:      true,
		Description:  y.opts.Description,
		Metadata:     map[string]string{"chat_id": chatID},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("yookassa: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.opts.BaseURL+"/payments", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("yookassa: %w", err)
	}
	req.SetBasicAuth(y.opts.ShopID, y.opts.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := y.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("yookassa: %w", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("yookassa: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out yookassaPayment
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("yookassa: decode: %w", err)
	}
	if out.Confirmation.ConfirmationURL == "" {
		return "", ErrNoLink
	}
	slog.Info("Yookassa.Link: payment created", "chat_id", chatID, "payment_id", out.ID, "status", out.Status)
	return out.Confirmation.ConfirmationURL, nil
}

var _ Provider = (*Yookassa)(nil)
