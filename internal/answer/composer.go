// Package answer turns retrieved context chunks and a question into a grounded
// answer, or into a fixed fallback when there is no context to ground it on.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/metrics"
)

const (
	contextSeparator = "\n\n"
	defaultMaxTokens = 400
)

// Composer builds the completion prompt from ranked context.
// It holds no mutable state and is safe for concurrent use.
type Composer struct {
	completer domain.Completer
	system    string
	fallback  string
	maxTokens int
	model     string
	logger    *slog.Logger
}

type ComposerConfig struct {
	Completer       domain.Completer
	SystemPrompt    string // default: config.DefaultSystemPrompt
	FallbackMessage string // default: config.DefaultFallbackMessage
	MaxTokens       int    // default: 400
	Model           string // optional provider model override
	Logger          *slog.Logger
}

func NewComposer(cfg ComposerConfig) *Composer {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = config.DefaultSystemPrompt
	}
	if strings.TrimSpace(cfg.FallbackMessage) == "" {
		cfg.FallbackMessage = config.DefaultFallbackMessage
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Composer{
		completer: cfg.Completer,
		system:    cfg.SystemPrompt,
		fallback:  cfg.FallbackMessage,
		maxTokens: cfg.MaxTokens,
		model:     cfg.Model,
		logger:    cfg.Logger,
	}
}

// Compose answers question from contextChunks, which must be in rank order.
// With no chunks the fallback message is returned and the completer is not called.
// Completer failures and empty completions are reported as domain.ErrCompletion.
func (c *Composer) Compose(ctx context.Context, question string, contextChunks []string) (string, error) {
	if len(contextChunks) == 0 {
		metrics.FallbackAnswers.Inc()
		c.logger.Info("no context retrieved, using fallback answer")
		return c.fallback, nil
	}

	req := domain.CompletionRequest{
		System:    c.system,
		User:      UserPrompt(question, contextChunks),
		MaxTokens: c.maxTokens,
		Model:     c.model,
	}

	start := time.Now()
	metrics.LLMRequestsTotal.Inc()
	resp, err := c.completer.Complete(ctx, req)
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Error("completion failed", "chunks", len(contextChunks), "err", err)
		if errors.Is(err, domain.ErrCompletion) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrCompletion, err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		c.logger.Error("completion returned no content", "chunks", len(contextChunks))
		return "", fmt.Errorf("%w: empty completion", domain.ErrCompletion)
	}

	c.logger.Debug("answer composed",
		"chunks", len(contextChunks),
		"finish_reason", resp.FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)
	return strings.TrimSpace(resp.Text), nil
}

// UserPrompt renders the user turn: the joined context block followed by the question.
func UserPrompt(question string, contextChunks []string) string {
	var sb strings.Builder
	sb.WriteString("Context from documents:\n")
	sb.WriteString(strings.Join(contextChunks, contextSeparator))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer based on the context:")
	return sb.String()
}
