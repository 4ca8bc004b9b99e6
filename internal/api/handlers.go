package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/TarotPipe/internal/messaging"
	"github.com/BTreeMap/TarotPipe/internal/models"
	"github.com/BTreeMap/TarotPipe/internal/payment"
	"github.com/BTreeMap/TarotPipe/internal/store"
	"github.com/BTreeMap/TarotPipe/internal/telegram"
)

// encodeFailure is sent when a response body cannot be encoded, typically a
// conversation record carrying a value encoding/json rejects.
var encodeFailure = []byte(`{"status":"error","message":"Failed to encode response"}`)

// respond encodes body before writing the header so an encoding failure still
// reaches the client as a 500 with the error envelope.
func respond(w http.ResponseWriter, status int, body models.APIResponse) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Server.respond: encode failed", "status", status, "error", err)
		data, status = encodeFailure, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("Server.respond: client went away", "error", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, models.Success(map[string]string{"service": "TarotPipe"}))
}

// webhookHandler accepts Telegram updates. Replies are delivered in the
// background, so the response only reflects whether the update was taken.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.WebhookSecret != "" {
		got := r.Header.Get(telegram.SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.WebhookSecret)) != 1 {
			slog.Warn("Server.webhookHandler: bad secret token", "remote", r.RemoteAddr)
			respond(w, http.StatusUnauthorized, models.Error("Invalid secret token"))
			return
		}
	}

	var update telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)).Decode(&update); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode update", "error", err)
		respond(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	msg, ok := update.ToInbound()
	if !ok {
		slog.Debug("Server.webhookHandler: update without text ignored", "update_id", update.UpdateID)
		respond(w, http.StatusOK, models.SuccessWithMessage("ignored", nil))
		return
	}

	handled, err := s.handler.Handle(r.Context(), msg)
	switch {
	case errors.Is(err, messaging.ErrInvalidMessage):
		respond(w, http.StatusBadRequest, models.Error(err.Error()))
	case err != nil:
		slog.Error("Server.webhookHandler: handling failed", "chat_id", msg.ChatID, "error", err)
		respond(w, http.StatusInternalServerError, models.Error("Failed to process update"))
	case !handled:
		respond(w, http.StatusOK, models.Duplicate())
	default:
		respond(w, http.StatusOK, models.Accepted())
	}
}

func (s *Server) paymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		respond(w, http.StatusBadRequest, models.Error("Unreadable body"))
		return
	}
	if err := payment.VerifySignature(body, r.Header.Get(payment.SignatureHeader), s.opts.PaymentSecret); err != nil {
		slog.Warn("Server.paymentWebhookHandler: signature rejected", "remote", r.RemoteAddr)
		respond(w, http.StatusUnauthorized, models.Error(err.Error()))
		return
	}
	n, err := payment.ParseNotification(body)
	if err != nil {
		respond(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if !n.Succeeded() {
		slog.Info("Server.paymentWebhookHandler: event ignored", "event", n.Event, "payment_id", n.Object.ID)
		respond(w, http.StatusOK, models.SuccessWithMessage("ignored", nil))
		return
	}
	chatID := n.ChatID()
	if chatID == "" {
		respond(w, http.StatusBadRequest, models.Error("metadata.chat_id is required"))
		return
	}

	moved, err := s.handler.ConfirmPayment(r.Context(), chatID)
	if err != nil {
		slog.Error("Server.paymentWebhookHandler: confirmation failed", "chat_id", chatID, "error", err)
		respond(w, http.StatusInternalServerError, models.Error("Failed to confirm payment"))
		return
	}
	slog.Info("Server.paymentWebhookHandler: payment processed", "chat_id", chatID, "payment_id", n.Object.ID, "advanced", moved)
	respond(w, http.StatusOK, models.Success(map[string]bool{"advanced": moved}))
}

func (s *Server) setWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if s.bot == nil {
		respond(w, http.StatusServiceUnavailable, models.Error("Bot client not configured"))
		return
	}
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		url = s.opts.WebhookURL
	}
	if url == "" {
		respond(w, http.StatusBadRequest, models.Error("Webhook URL not configured"))
		return
	}
	if err := s.bot.SetWebhook(r.Context(), url, s.opts.WebhookSecret); err != nil {
		slog.Error("Server.setWebhookHandler: setWebhook failed", "url", url, "error", err)
		respond(w, http.StatusBadGateway, models.Error(err.Error()))
		return
	}
	respond(w, http.StatusOK, models.SuccessWithMessage("Webhook set", map[string]string{"url": url}))
}

func (s *Server) botInfoHandler(w http.ResponseWriter, r *http.Request) {
	if s.bot == nil {
		respond(w, http.StatusServiceUnavailable, models.Error("Bot client not configured"))
		return
	}
	me, err := s.bot.GetMe(r.Context())
	if err != nil {
		slog.Error("Server.botInfoHandler: getMe failed", "error", err)
		respond(w, http.StatusBadGateway, models.Error(err.Error()))
		return
	}
	respond(w, http.StatusOK, models.Success(me))
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		respond(w, http.StatusServiceUnavailable, models.Error("Store not configured"))
		return
	}
	chatID := chi.URLParam(r, "chatID")
	state, err := s.conversations.Get(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		respond(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	if err != nil {
		slog.Error("Server.getConversationHandler: load failed", "chat_id", chatID, "error", err)
		respond(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	respond(w, http.StatusOK, models.Success(state))
}

func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		respond(w, http.StatusServiceUnavailable, models.Error("Store not configured"))
		return
	}
	chatID := chi.URLParam(r, "chatID")
	if err := s.conversations.Delete(r.Context(), chatID); err != nil {
		slog.Error("Server.deleteConversationHandler: delete failed", "chat_id", chatID, "error", err)
		respond(w, http.StatusInternalServerError, models.Error("Failed to delete conversation"))
		return
	}
	slog.Info("Server.deleteConversationHandler: conversation deleted", "chat_id", chatID)
	respond(w, http.StatusOK, models.SuccessWithMessage("Conversation deleted", nil))
}
