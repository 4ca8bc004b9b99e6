// Package payment produces the payment link sent at the sending_link stage and
// verifies payment gateway notifications.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of a notification body.
const SignatureHeader = "X-Signature"

// EventPaymentSucceeded is the notification event for a captured payment.
const EventPaymentSucceeded = "payment.succeeded"

var (
	// ErrInvalidSignature is returned when a notification signature does not match.
	ErrInvalidSignature = errors.New("invalid payment notification signature")
	// ErrNoLink is returned when a provider produced an empty URL.
	ErrNoLink = errors.New("payment provider returned no link")
)

// Provider produces a payment URL for a chat.
type Provider interface {
	Link(ctx context.Context, chatID string) (string, error)
}

// StaticLink always returns the configured URL.
type StaticLink string

// Link implements Provider.
func (s StaticLink) Link(context.Context, string) (string, error) {
	if s == "" {
		return "", ErrNoLink
	}
	return string(s), nil
}

// Fallback tries Primary and returns the static URL when it fails.
type Fallback struct {
	Primary Provider
	URL     string
}

// Link implements Provider.
func (f Fallback) Link(ctx context.Context, chatID string) (string, error) {
	if f.Primary != nil {
		url, err := f.Primary.Link(ctx, chatID)
		if err == nil && url != "" {
			return url, nil
		}
		slog.Warn("Payment.Fallback: primary provider failed, using static link", "chat_id", chatID, "error", err)
	}
	return StaticLink(f.URL).Link(ctx, chatID)
}

// VerifySignature checks that sig is the hex HMAC-SHA256 of body under secret.
func VerifySignature(body []byte, sig, secret string) error {
	if secret == "" || sig == "" {
		return ErrInvalidSignature
	}
	given, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(given, Sign(body, secret)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Notification is a payment gateway webhook body.
type Notification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Paid     bool              `json:"paid"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// ParseNotification decodes a notification body.
func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("decode payment notification: %w", err)
	}
	return n, nil
}

// ChatID returns the chat the payment was created for.
func (n Notification) ChatID() string {
	return n.Object.Metadata["chat_id"]
}

// Succeeded reports whether the notification confirms a payment.
func (n Notification) Succeeded() bool {
	return n.Event == EventPaymentSucceeded
}

var (
	_ Provider = StaticLink("")
	_ Provider = Fallback{}
)
