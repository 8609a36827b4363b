// Package embedding turns text into fixed-dimension vectors.
//
// Backends (local hashing, OpenAI, Ollama) are wrapped by Service, which
// enforces the input and output contract every caller relies on: empty text
// is rejected, long text is truncated, and zero, non-finite or wrongly sized
// vectors never leave this package.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

// charsPerToken approximates how many characters one model token covers.
const charsPerToken = 4

var _ domain.Embedder = (*Service)(nil)

// Service validates input and output around an embedding backend.
type Service struct {
	backend   domain.Embedder
	maxTokens int
	logger    *slog.Logger
}

type ServiceConfig struct {
	Backend   domain.Embedder
	MaxTokens int // input budget; longer text is truncated
	Logger    *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		backend:   cfg.Backend,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

// Embed returns the vector for text. It fails with domain.ErrInvalidInput for
// empty or non-UTF-8 text, domain.ErrDegenerateEmbedding for non-finite or
// all-zero output and domain.ErrDimensionMismatch when the backend returns the wrong size.
func (s *Service) Embed(ctx context.Context, text string) (domain.Vector, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", domain.ErrInvalidInput)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", domain.ErrInvalidInput)
	}
	text = truncateRunes(text, s.maxTokens*charsPerToken)

	vec, err := s.backend.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", s.backend.ModelName(), err)
	}
	if len(vec) != s.backend.Dimensions() {
		return nil, fmt.Errorf("%w: %s returned %d components, want %d",
			domain.ErrDimensionMismatch, s.backend.ModelName(), len(vec), s.backend.Dimensions())
	}
	if !vec.Finite() {
		s.logger.Warn("embedding rejected: non-finite component", "model", s.backend.ModelName())
		return nil, domain.ErrDegenerateEmbedding
	}
	if vec.Zero() {
		s.logger.Warn("embedding rejected: zero vector", "model", s.backend.ModelName())
		return nil, domain.ErrDegenerateEmbedding
	}
	return vec, nil
}

func (s *Service) Dimensions() int   { return s.backend.Dimensions() }
func (s *Service) ModelName() string { return s.backend.ModelName() }

// truncateRunes cuts s to at most n runes, backing up to the last space when
// one is close so words are not split.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)[:n]
	out := string(runes)
	if i := strings.LastIndexAny(out, " \n\t"); i > len(out)*3/4 {
		out = out[:i]
	}
	return out
}
