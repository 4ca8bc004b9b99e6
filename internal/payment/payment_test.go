package payment

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticLink(t *testing.T) {
	url, err := StaticLink("https://pay.example.com").Link(context.Background(), "1")
	if err != nil || url != "https://pay.example.com" {
		t.Fatalf("Link = %q, %v", url, err)
	}
	if _, err := StaticLink("").Link(context.Background(), "1"); !errors.Is(err, ErrNoLink) {
		t.Errorf("expected ErrNoLink, got %v", err)
	}
}

type failingProvider struct{}

func (failingProvider) Link(context.Context, string) (string, error) {
	return "", errors.New("gateway down")
}

func TestFallback(t *testing.T) {
	f := Fallback{Primary: failingProvider{}, URL: "https://static.example.com"}
	url, err := f.Link(context.Background(), "1")
	if err != nil || url != "https://static.example.com" {
		t.Fatalf("Fallback = %q, %v", url, err)
	}
	ok := Fallback{Primary: StaticLink("https://dynamic.example.com"), URL: "https://static.example.com"}
	if url, _ := ok.Link(context.Background(), "1"); url != "https://dynamic.example.com" {
		t.Errorf("expected primary link, got %q", url)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment.succeeded"}`)
	sig := hex.EncodeToString(Sign(body, "secret"))

	if err := VerifySignature(body, sig, "secret"); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	cases := []struct{ name, sig, secret string }{
		{"wrong secret", sig, "other"},
		{"not hex", "zz", "secret"},
		{"empty signature", "", "secret"},
		{"empty secret", sig, ""},
	}
	for _, c := range cases {
		if err := VerifySignature(body, c.sig, c.secret); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("%s: expected ErrInvalidSignature, got %v", c.name, err)
		}
	}
	if err := VerifySignature([]byte(`{"event":"tampered"}`), sig, "secret"); err == nil {
		t.Error("tampered body accepted")
	}
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"p1","status":"succeeded","paid":true,"metadata":{"chat_id":"42"}}}`))
	if err != nil {
		t.Fatalf("ParseNotification failed: %v", err)
	}
	if !n.Succeeded() || n.ChatID() != "42" {
		t.Errorf("unexpected notification %+v", n)
	}
	if _, err := ParseNotification([]byte("{")); err == nil {
		t.Error("expected decode error")
	}
}

func TestYookassaLink(t *testing.T) {
	var got yookassaPaymentRequest
	var user, pass, idem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/payments" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		user, pass, _ = r.BasicAuth()
		idem = r.Header.Get("Idempotence-Key")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &got)
		io.WriteString(w, `{"id":"pay_1","status":"pending","confirmation":{"type":"redirect","confirmation_url":"https://yoomoney.ru/checkout/pay_1"}}`)
	}))
	defer srv.Close()

	y, err := NewYookassa(WithShopID("shop"), WithSecretKey("key"), WithYookassaURL(srv.URL+"/v3"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewYookassa failed: %v", err)
	}
	url, err := y.Link(context.Background(), "77")
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if url != "https://yoomoney.ru/checkout/pay_1" {
		t.Errorf("unexpected url %q", url)
	}
	if user != "shop" || pass != "key" || idem == "" {
		t.Errorf("auth or idempotence key missing: %q %q %q", user, pass, idem)
	}
	if got.Amount.Value != DefaultAmount || got.Metadata["chat_id"] != "77" || !got.Capture || got.Confirmation.Type != "redirect" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestYookassaErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","code":"invalid_credentials"}`)
	}))
	defer srv.Close()

	y, _ := NewYookassa(WithShopID("shop"), WithSecretKey("bad"), WithYookassaURL(srv.URL), WithHTTPClient(srv.Client()))
	if _, err := y.Link(context.Background(), "1"); err == nil {
		t.Error("expected error for 401")
	}
	f := Fallback{Primary: y, URL: "https://static.example.com"}
	if url, err := f.Link(context.Background(), "1"); err != nil || url != "https://static.example.com" {
		t.Errorf("fallback not used: %q %v", url, err)
	}

	if _, err := NewYookassa(WithShopID("shop")); err == nil {
		t.Error("expected error without secret key")
	}
}
