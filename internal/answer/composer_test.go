package answer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/metrics"
)

// countingCompleter records every request it receives.
type countingCompleter struct {
	calls atomic.Int32
	last  domain.CompletionRequest
	resp  *domain.Completion
	err   error
}

func (c *countingCompleter) Complete(_ context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	c.calls.Add(1)
	c.last = req
	return c.resp, c.err
}

func newComposer(c domain.Completer) *Composer {
	return NewComposer(ComposerConfig{
		Completer: c,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestCompose_EmptyContextReturnsFallbackWithoutCompleting(t *testing.T) {
	cc := &countingCompleter{resp: &domain.Completion{Text: "should not be used"}}
	c := newComposer(cc)
	before := metrics.FallbackAnswers.Value()

	for _, chunks := range [][]string{nil, {}} {
		got, err := c.Compose(context.Background(), "What is the refund policy?", chunks)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultFallbackMessage, got)
	}
	assert.Zero(t, cc.calls.Load())
	assert.Equal(t, before+2, metrics.FallbackAnswers.Value())
}

func TestCompose_CustomFallback(t *testing.T) {
	c := NewComposer(ComposerConfig{Completer: &countingCompleter{}, FallbackMessage: "Nothing found."})
	got, err := c.Compose(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "Nothing found.", got)
	assert.Equal(t, "Nothing found.", c.fallback)
}

func TestCompose_BuildsGroundedRequest(t *testing.T) {
	cc := &countingCompleter{resp: &domain.Completion{Text: "  The sky is blue.\n"}}
	c := newComposer(cc)

	got, err := c.Compose(context.Background(), "What color is the sky?", []string{"The sky is blue.", "Water boils at 100C."})
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", got)
	assert.EqualValues(t, 1, cc.calls.Load())

	assert.Equal(t, config.DefaultSystemPrompt, cc.last.System)
	assert.Equal(t, 400, cc.last.MaxTokens)
	assert.Equal(t,
		"Context from documents:\nThe sky is blue.\n\nWater boils at 100C.\n\nQuestion: What color is the sky?\n\nAnswer based on the context:",
		cc.last.User)
}

func TestCompose_CompletionFailures(t *testing.T) {
	tests := []struct {
		name string
		cc   *countingCompleter
	}{
		{"unreachable", &countingCompleter{err: errors.New("connection refused")}},
		{"nil response", &countingCompleter{}},
		{"empty text", &countingCompleter{resp: &domain.Completion{Text: ""}}},
		{"whitespace text", &countingCompleter{resp: &domain.Completion{Text: " \n\t"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newComposer(tt.cc).Compose(context.Background(), "q", []string{"ctx"})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrCompletion)
		})
	}
}

func TestUserPrompt_PreservesRankOrder(t *testing.T) {
	p := UserPrompt("q", []string{"first", "second", "third"})
	assert.Less(t, strings.Index(p, "first"), strings.Index(p, "second"))
	assert.Less(t, strings.Index(p, "second"), strings.Index(p, "third"))
}
