package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propakistanidev/WA-RAG-BOT/internal/answer"
	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/embedding"
	"github.com/propakistanidev/WA-RAG-BOT/internal/extract"
	"github.com/propakistanidev/WA-RAG-BOT/internal/index"
	"github.com/propakistanidev/WA-RAG-BOT/internal/knowledge"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRetriever struct {
	chunks []string
	err    error
	calls  int
	gotK   int
	gotNS  string
	wait   time.Duration
}

func (s *stubRetriever) Retrieve(ctx context.Context, q string, topK int, ns string) ([]string, error) {
	s.calls++
	s.gotK, s.gotNS = topK, ns
	if s.wait > 0 {
		select {
		case <-ctx.Done():
			return []string{}, nil
		case <-time.After(s.wait):
		}
	}
	return s.chunks, s.err
}

type stubCompleter struct {
	text  string
	err   error
	calls int
}

func (s *stubCompleter) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Completion{Text: s.text}, nil
}

type recordingDeliverer struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

type sentMessage struct{ to, text string }

func (r *recordingDeliverer) Deliver(ctx context.Context, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{to, text})
	return r.err
}

func newHandler(r Retriever, c domain.Completer, d domain.Deliverer) *Handler {
	return NewHandler(HandlerConfig{
		Retriever: r,
		Composer:  answer.NewComposer(answer.ComposerConfig{Completer: c, Logger: testLogger()}),
		Deliverer: d,
		Logger:    testLogger(),
	})
}

func TestHandleEvent_IgnoredEventsDoNoWork(t *testing.T) {
	tests := []struct {
		name   string
		ev     domain.InboundEvent
		detail string
	}{
		{"status receipt", domain.InboundEvent{Kind: domain.EventStatus}, ""},
		{"non-text message", domain.InboundEvent{Kind: domain.EventNonText, SenderID: "15550001"}, "non_text"},
		{"unknown kind", domain.InboundEvent{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRetriever{}
			c := &stubCompleter{text: "x"}
			d := &recordingDeliverer{}

			got := newHandler(r, c, d).HandleEvent(context.Background(), tt.ev)
			assert.Equal(t, domain.AnswerIgnored, got.Status)
			assert.Equal(t, tt.detail, got.Detail)
			assert.Zero(t, r.calls)
			assert.Zero(t, c.calls)
			assert.Empty(t, d.sent)
		})
	}
}

func TestAnswerQuestion_Success(t *testing.T) {
	r := &stubRetriever{chunks: []string{"The sky is blue."}}
	c := &stubCompleter{text: "It is blue."}
	d := &recordingDeliverer{}

	got := newHandler(r, c, d).HandleEvent(context.Background(), domain.InboundEvent{
		Kind: domain.EventText, SenderID: "15550001", Text: "What color is the sky?",
	})
	assert.Equal(t, domain.AnswerResult{Status: domain.AnswerOK}, got)
	assert.Equal(t, 3, r.gotK)
	assert.Equal(t, "", r.gotNS)
	require.Len(t, d.sent, 1)
	assert.Equal(t, sentMessage{"15550001", "It is blue."}, d.sent[0])
}

func TestAnswerQuestion_NoContextDeliversFallback(t *testing.T) {
	c := &stubCompleter{text: "unused"}
	d := &recordingDeliverer{}

	got := newHandler(&stubRetriever{chunks: []string{}}, c, d).AnswerQuestion(context.Background(), "1", "anything?")
	assert.Equal(t, domain.AnswerOK, got.Status)
	assert.Zero(t, c.calls)
	require.Len(t, d.sent, 1)
	assert.Equal(t, config.DefaultFallbackMessage, d.sent[0].text)
}

func TestAnswerQuestion_RetrievalErrorFallsBack(t *testing.T) {
	c := &stubCompleter{text: "unused"}
	d := &recordingDeliverer{}

	got := newHandler(&stubRetriever{err: domain.ErrInvalidInput}, c, d).AnswerQuestion(context.Background(), "1", "?")
	assert.Equal(t, domain.AnswerOK, got.Status)
	assert.Zero(t, c.calls)
	assert.Equal(t, config.DefaultFallbackMessage, d.sent[0].text)
}

func TestAnswerQuestion_CompletionFailureSendsApology(t *testing.T) {
	d := &recordingDeliverer{}
	h := newHandler(&stubRetriever{chunks: []string{"ctx"}}, &stubCompleter{err: errors.New("503")}, d)

	got := h.AnswerQuestion(context.Background(), "1", "question")
	assert.Equal(t, domain.AnswerResult{Status: domain.AnswerError, Detail: "completion_failed"}, got)
	require.Len(t, d.sent, 1)
	assert.Equal(t, config.DefaultErrorMessage, d.sent[0].text)
}

func TestAnswerQuestion_DeliveryFailureIsStillAcknowledged(t *testing.T) {
	d := &recordingDeliverer{err: domain.ErrDelivery}
	h := newHandler(&stubRetriever{chunks: []string{"ctx"}}, &stubCompleter{text: "answer"}, d)

	got := h.AnswerQuestion(context.Background(), "1", "question")
	assert.Equal(t, domain.AnswerOK, got.Status)
	assert.Equal(t, "delivery_failed", got.Detail)
}

func TestAnswerQuestion_EmptyTextIgnored(t *testing.T) {
	r := &stubRetriever{}
	d := &recordingDeliverer{}
	got := newHandler(r, &stubCompleter{}, d).AnswerQuestion(context.Background(), "1", "  \n")
	assert.Equal(t, domain.AnswerIgnored, got.Status)
	assert.Zero(t, r.calls)
	assert.Empty(t, d.sent)
}

func TestAnswerQuestion_TimeoutDegradesRetrieval(t *testing.T) {
	r := &stubRetriever{chunks: []string{"late"}, wait: time.Second}
	c := &stubCompleter{text: "unused"}
	d := &recordingDeliverer{}
	h := NewHandler(HandlerConfig{
		Retriever: r,
		Composer:  answer.NewComposer(answer.ComposerConfig{Completer: c, Logger: testLogger()}),
		Deliverer: d,
		Timeout:   20 * time.Millisecond,
		Logger:    testLogger(),
	})

	got := h.AnswerQuestion(context.Background(), "1", "slow question")
	assert.Equal(t, domain.AnswerOK, got.Status)
	assert.Zero(t, c.calls)
	assert.Equal(t, config.DefaultFallbackMessage, d.sent[0].text)
}

func TestHandler_EndToEnd(t *testing.T) {
	emb := embedding.NewService(embedding.ServiceConfig{Backend: embedding.NewHashing(embedding.HashingConfig{}), Logger: testLogger()})
	idx, err := index.NewMemory(index.MemoryConfig{Dimensions: emb.Dimensions(), Logger: testLogger()})
	require.NoError(t, err)
	eng := knowledge.NewEngine(knowledge.EngineConfig{
		Extractor: extract.New(extract.ExtractorConfig{Logger: testLogger()}),
		Embedder:  emb,
		Index:     idx,
		Logger:    testLogger(),
	})
	_, err = eng.Ingest(context.Background(), []domain.Document{
		{Name: "facts.txt", Format: domain.FormatText, Content: []byte("The sky is blue.\n\nWater boils at 100C.")},
	})
	require.NoError(t, err)

	c := &recordingCompleter{text: "Blue."}
	d := &recordingDeliverer{}
	h := NewHandler(HandlerConfig{
		Retriever: eng,
		Composer:  answer.NewComposer(answer.ComposerConfig{Completer: c, Logger: testLogger()}),
		Deliverer: d,
		TopK:      1,
		Logger:    testLogger(),
	})

	got := h.AnswerQuestion(context.Background(), "15550001", "What color is the sky?")
	assert.Equal(t, domain.AnswerOK, got.Status)
	assert.Contains(t, c.lastUser, "The sky is blue.")
	assert.NotContains(t, c.lastUser, "Water boils")
	assert.Equal(t, "Blue.", d.sent[0].text)
}

type recordingCompleter struct {
	text     string
	lastUser string
}

func (r *recordingCompleter) Complete(_ context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	r.lastUser = req.User
	return &domain.Completion{Text: r.text}, nil
}

// cancellingComposer cancels the caller's context while composing, the way a
// webhook client that stops waiting does.
type cancellingComposer struct {
	cancel context.CancelFunc
	text   string
}

func (c cancellingComposer) Compose(ctx context.Context, _ string, _ []string) (string, error) {
	c.cancel()
	return c.text, nil
}

type ctxCheckingDeliverer struct {
	recordingDeliverer
	ctxErr error
}

func (d *ctxCheckingDeliverer) Deliver(ctx context.Context, to, text string) error {
	d.ctxErr = ctx.Err()
	return d.recordingDeliverer.Deliver(ctx, to, text)
}

func TestAnswerQuestion_DeliversAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &ctxCheckingDeliverer{}
	h := NewHandler(HandlerConfig{
		Retriever: &stubRetriever{chunks: []string{"The sky is blue."}},
		Composer:  cancellingComposer{cancel: cancel, text: "It is blue."},
		Deliverer: d,
		Logger:    testLogger(),
	})

	got := h.AnswerQuestion(ctx, "15550001", "What color is the sky?")
	assert.Equal(t, domain.AnswerOK, got.Status)
	assert.Empty(t, got.Detail)
	require.Len(t, d.sent, 1)
	assert.Equal(t, "It is blue.", d.sent[0].text)
	assert.NoError(t, d.ctxErr, "delivery must not inherit the caller's cancellation")
}
