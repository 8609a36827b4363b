// Package bot answers inbound chat questions: retrieve context, compose a
// grounded answer, deliver it back to the sender.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/metrics"
)

const (
	defaultTopK    = 3
	defaultTimeout = 60 * time.Second
)

// Retriever returns ranked context chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, namespace string) ([]string, error)
}

// Composer turns a question and its ranked context into an answer.
type Composer interface {
	Compose(ctx context.Context, question string, contextChunks []string) (string, error)
}

// Handler is the inbound message handler. It is safe for concurrent use.
type Handler struct {
	retriever Retriever
	composer  Composer
	deliverer domain.Deliverer
	topK      int
	namespace string
	timeout   time.Duration
	errorText string
	logger    *slog.Logger
}

type HandlerConfig struct {
	Retriever    Retriever
	Composer     Composer
	Deliverer    domain.Deliverer
	TopK         int           // default: 3
	Namespace    string        // "" selects the retriever's default namespace
	Timeout      time.Duration // per question, covers retrieval and completion (default: 60s)
	ErrorMessage string        // sent when the answer cannot be composed
	Logger       *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if strings.TrimSpace(cfg.ErrorMessage) == "" {
		cfg.ErrorMessage = config.DefaultErrorMessage
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		retriever: cfg.Retriever,
		composer:  cfg.Composer,
		deliverer: cfg.Deliverer,
		topK:      cfg.TopK,
		namespace: cfg.Namespace,
		timeout:   cfg.Timeout,
		errorText: cfg.ErrorMessage,
		logger:    cfg.Logger,
	}
}

// HandleEvent dispatches a parsed platform event. Receipts and non-text
// messages are acknowledged as ignored without any further work.
func (h *Handler) HandleEvent(ctx context.Context, ev domain.InboundEvent) domain.AnswerResult {
	switch ev.Kind {
	case domain.EventText:
		return h.AnswerQuestion(ctx, ev.SenderID, ev.Text)
	case domain.EventNonText:
		h.logger.Debug("ignoring non-text message", "channel", ev.Channel, "sender", ev.SenderID, "message_id", ev.MessageID)
		metrics.Questions(string(domain.AnswerIgnored)).Inc()
		return domain.AnswerResult{Status: domain.AnswerIgnored, Detail: "non_text"}
	default:
		h.logger.Debug("ignoring event without message", "channel", ev.Channel, "kind", ev.Kind)
		return domain.AnswerResult{Status: domain.AnswerIgnored}
	}
}

// Answer runs retrieval and composition for one question without delivering
// anything. The error wraps domain.ErrCompletion when no answer could be produced.
func (h *Handler) Answer(ctx context.Context, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	chunks, err := h.retriever.Retrieve(ctx, question, h.topK, h.namespace)
	if err != nil {
		// Retrieval never blocks an answer; the composer falls back on empty context.
		h.logger.Warn("retrieval failed, answering without context", "err", err)
		chunks = nil
	}
	return h.composer.Compose(ctx, question, chunks)
}

// AnswerQuestion answers text for senderID and delivers the reply.
// When composition fails a generic apology is delivered instead. Delivery
// failures are logged and counted but never change the acknowledgement.
//
// The work is detached from ctx cancellation: a webhook caller that stops
// waiting must not discard an answer that is already being produced or sent.
// Answering and delivery are each bounded by the handler timeout.
func (h *Handler) AnswerQuestion(ctx context.Context, senderID, text string) domain.AnswerResult {
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.Questions(string(domain.AnswerIgnored)).Inc()
		return domain.AnswerResult{Status: domain.AnswerIgnored, Detail: "empty_text"}
	}
	ctx = context.WithoutCancel(ctx)

	metrics.InflightQuestions.Inc()
	defer metrics.InflightQuestions.Dec()
	start := time.Now()

	result := domain.AnswerResult{Status: domain.AnswerOK}
	reply, err := h.Answer(ctx, text)
	if err != nil {
		if !errors.Is(err, domain.ErrCompletion) {
			h.logger.Error("unexpected answer failure", "sender", senderID, "err", err)
		}
		reply = h.errorText
		result = domain.AnswerResult{Status: domain.AnswerError, Detail: "completion_failed"}
	}
	metrics.AnswerLatency.Observe(time.Since(start).Seconds())

	if err := h.deliver(ctx, senderID, reply); err != nil {
		metrics.DeliveryFailures.Inc()
		h.logger.Error("reply delivery failed", "sender", senderID, "err", err)
		if result.Status == domain.AnswerOK {
			result.Detail = "delivery_failed"
		}
	}

	metrics.Questions(string(result.Status)).Inc()
	h.logger.Info("question handled",
		"sender", senderID,
		"status", result.Status,
		"detail", result.Detail,
		"duration", time.Since(start),
	)
	return result
}

func (h *Handler) deliver(ctx context.Context, senderID, reply string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.deliverer.Deliver(ctx, senderID, reply)
}
