// Package api exposes the bot over HTTP: the Telegram webhook, the payment
// gateway webhook and a few operational endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/TarotPipe/internal/models"
	"github.com/BTreeMap/TarotPipe/internal/store"
	"github.com/BTreeMap/TarotPipe/internal/telegram"
)

// Defaults for the HTTP server.
const (
	DefaultAddr         = ":8080"
	DefaultMaxBodyBytes = 1 << 20
)

// MessageHandler is the core entry point. *messaging.ResponseHandler implements it.
type MessageHandler interface {
	Handle(ctx context.Context, msg models.InboundMessage) (bool, error)
	ConfirmPayment(ctx context.Context, chatID string) (bool, error)
}

// Opts configures the server.
type Opts struct {
	Addr          string
	WebhookURL    string
	WebhookSecret string
	PaymentSecret string
	MaxBodyBytes  int64
}

// Option mutates Opts.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		if addr != "" {
			o.Addr = addr
		}
	}
}

// WithWebhook sets the public webhook URL registered by /set_webhook and the
// secret expected in the Telegram secret token header.
func WithWebhook(url, secret string) Option {
	return func(o *Opts) {
		o.WebhookURL = url
		o.WebhookSecret = secret
	}
}

// WithPaymentSecret sets the HMAC secret for payment notifications. Without
// it the payment webhook rejects every request.
func WithPaymentSecret(secret string) Option { return func(o *Opts) { o.PaymentSecret = secret } }

// Server is the HTTP front of the bot.
type Server struct {
	handler       MessageHandler
	bot           telegram.Sender
	conversations store.ConversationStore
	opts          Opts
	router        chi.Router
	httpSrv       *http.Server
}

// NewServer builds the router. bot and conversations may be nil, in which
// case their endpoints answer 503.
func NewServer(handler MessageHandler, bot telegram.Sender, conversations store.ConversationStore, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, MaxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{handler: handler, bot: bot, conversations: conversations, opts: o}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", s.healthHandler)
	r.Get("/health", s.healthHandler)
	r.Post("/webhook", s.webhookHandler)
	r.Post("/payment/webhook", s.paymentWebhookHandler)
	r.Get("/set_webhook", s.setWebhookHandler)
	r.Post("/set_webhook", s.setWebhookHandler)
	r.Get("/bot_info", s.botInfoHandler)
	r.Route("/conversations/{chatID}", func(r chi.Router) {
		r.Get("/", s.getConversationHandler)
		r.Delete("/", s.deleteConversationHandler)
	})
	return r
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Start: listening", "addr", s.opts.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
