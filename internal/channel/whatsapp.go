package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

const (
	whatsappAPIBase     = "https://graph.facebook.com/v21.0"
	whatsappWebhookPath = "/webhook"
	maxWebhookBody      = 1 << 20 // 1MB
)

// EventHandler answers one parsed inbound event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.InboundEvent) domain.AnswerResult
}

// WhatsApp serves the WhatsApp Business Cloud API webhook and delivers replies.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	handler EventHandler
	sender  *Sender
	logger  *slog.Logger
	mux     *http.ServeMux
}

type WhatsAppChannelConfig struct {
	Config  config.WhatsAppConfig
	Handler EventHandler
	Logger  *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Config.WebhookPath == "" {
		cfg.Config.WebhookPath = whatsappWebhookPath
	}
	w := &WhatsApp{
		cfg:     cfg.Config,
		handler: cfg.Handler,
		logger:  cfg.Logger,
		sender: NewSender(SenderConfig{
			APIBase:       cfg.Config.APIBase,
			PhoneNumberID: cfg.Config.PhoneNumberID,
			AccessToken:   cfg.Config.AccessToken,
			RatePerSecond: cfg.Config.SendRatePerSecond,
			Logger:        cfg.Logger,
		}),
	}

	w.mux = http.NewServeMux()
	w.mux.HandleFunc("GET "+w.cfg.WebhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+w.cfg.WebhookPath, w.handleIncoming)
	return w
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// SetHandler sets the event handler. The handler usually needs the
// channel's Sender, so it is wired after construction.
func (w *WhatsApp) SetHandler(h EventHandler) { w.handler = h }

// Sender returns the outbound side of the channel.
func (w *WhatsApp) Sender() *Sender { return w.sender }

// WebhookPath returns the path the webhook is served on.
func (w *WhatsApp) WebhookPath() string { return w.cfg.WebhookPath }

// Handler returns the HTTP handler for the webhook (to be mounted on the main mux).
func (w *WhatsApp) Handler() http.Handler { return w.mux }

// handleVerification answers the webhook subscription challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && w.cfg.VerifyToken != "" &&
		hmac.Equal([]byte(token), []byte(w.cfg.VerifyToken)) {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming parses a webhook delivery and answers every message in it.
// Malformed payloads get 400, anything unexpected 500; both are acknowledged
// with a JSON status body.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("whatsapp webhook panic", "panic", rec, "stack", string(debug.Stack()))
			writeStatus(rw, http.StatusInternalServerError, domain.AnswerResult{Status: domain.AnswerError, Detail: "internal_error"})
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		w.logger.Warn("whatsapp read body failed", "err", err)
		writeStatus(rw, http.StatusInternalServerError, domain.AnswerResult{Status: domain.AnswerError, Detail: "internal_error"})
		return
	}
	defer r.Body.Close()

	if w.cfg.AppSecret != "" {
		if !verifySignature(body, w.cfg.AppSecret, r.Header.Get("X-Hub-Signature-256")) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	events, err := ParseEvents(body)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			w.logger.Warn("whatsapp malformed payload", "err", err)
			writeStatus(rw, http.StatusBadRequest, domain.AnswerResult{Status: domain.AnswerError, Detail: "invalid_message_format"})
			return
		}
		w.logger.Error("whatsapp payload handling failed", "err", err)
		writeStatus(rw, http.StatusInternalServerError, domain.AnswerResult{Status: domain.AnswerError, Detail: "internal_error"})
		return
	}

	result := domain.AnswerResult{Status: domain.AnswerIgnored}
	for i, ev := range events {
		if ev.Kind == domain.EventText {
			w.logger.Info("whatsapp message received", "from", ev.SenderID, "text_len", len(ev.Text))
		}
		res := w.handler.HandleEvent(r.Context(), ev)
		// The first answered message decides the response body.
		if i == 0 || (result.Status == domain.AnswerIgnored && res.Status != domain.AnswerIgnored) {
			result = res
		}
	}
	writeStatus(rw, http.StatusOK, result)
}

func writeStatus(rw http.ResponseWriter, code int, res domain.AnswerResult) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(res)
}

// verifySignature checks an X-Hub-Signature-256 header ("sha256=<hex>").
func verifySignature(body []byte, secret, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value *waValue `json:"value"`
	Field string   `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
	Statuses         []waStatus  `json:"statuses"`
}

type waMessage struct {
	From      string  `json:"from"`
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Text      *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// ParseEvents validates a webhook body and converts it into typed events, one
// per message. A change without messages (delivery or read receipts) yields a
// single EventStatus. Missing structural fields fail with domain.ErrMalformedEvent.
func ParseEvents(body []byte) ([]domain.InboundEvent, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if len(payload.Entry) == 0 {
		return nil, fmt.Errorf("%w: no entry", domain.ErrMalformedEvent)
	}

	var events []domain.InboundEvent
	for _, entry := range payload.Entry {
		if len(entry.Changes) == 0 {
			return nil, fmt.Errorf("%w: entry %q has no changes", domain.ErrMalformedEvent, entry.ID)
		}
		for _, change := range entry.Changes {
			if change.Value == nil {
				return nil, fmt.Errorf("%w: change has no value", domain.ErrMalformedEvent)
			}
			if len(change.Value.Messages) == 0 {
				events = append(events, domain.InboundEvent{Kind: domain.EventStatus, Channel: "whatsapp"})
				continue
			}
			for _, msg := range change.Value.Messages {
				ev, err := parseMessage(msg)
				if err != nil {
					return nil, err
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func parseMessage(msg waMessage) (domain.InboundEvent, error) {
	if msg.From == "" || msg.Type == "" {
		return domain.InboundEvent{}, fmt.Errorf("%w: message %q missing sender or type", domain.ErrMalformedEvent, msg.ID)
	}
	ev := domain.InboundEvent{
		Kind:      domain.EventNonText,
		Channel:   "whatsapp",
		SenderID:  msg.From,
		MessageID: msg.ID,
		Timestamp: parseUnix(msg.Timestamp),
	}
	if msg.Type != "text" {
		return ev, nil
	}
	if msg.Text == nil {
		return domain.InboundEvent{}, fmt.Errorf("%w: text message %q has no body", domain.ErrMalformedEvent, msg.ID)
	}
	ev.Kind = domain.EventText
	ev.Text = msg.Text.Body
	return ev, nil
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
