package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name     string
	healthy  bool
	err      error
	resp     *domain.Completion
	calls    int
	cancelOn context.CancelFunc
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	m.calls++
	if m.cancelOn != nil {
		m.cancelOn()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailover_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", resp: &domain.Completion{Text: "from-primary"}}
	p2 := &mockProvider{name: "secondary", resp: &domain.Completion{Text: "from-secondary"}}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Logger: testLogger()})

	resp, err := fp.Complete(context.Background(), domain.CompletionRequest{User: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Text)
	}
	if p2.calls != 0 {
		t.Fatalf("secondary should not be called, got %d calls", p2.calls)
	}
}

func TestFailover_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", err: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", resp: &domain.Completion{Text: "from-secondary"}}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Logger: testLogger()})

	resp, err := fp.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Text)
	}
}

func TestFailover_AllProvidersFail(t *testing.T) {
	p1 := &mockProvider{name: "p1", err: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", err: errors.New("fail 2")}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Logger: testLogger()})

	_, err := fp.Complete(context.Background(), domain.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	if !errors.Is(err, domain.ErrCompletion) {
		t.Fatalf("expected ErrCompletion, got %v", err)
	}
}

func TestFailover_EmptyChain(t *testing.T) {
	fp := NewFailover(FailoverConfig{Providers: nil, Logger: testLogger()})
	if _, err := fp.Complete(context.Background(), domain.CompletionRequest{}); !errors.Is(err, domain.ErrCompletion) {
		t.Fatalf("expected ErrCompletion, got %v", err)
	}
}

func TestFailover_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p1 := &mockProvider{name: "p1", err: context.Canceled, cancelOn: cancel}
	p2 := &mockProvider{name: "p2", resp: &domain.Completion{Text: "late"}}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Logger: testLogger()})

	if _, err := fp.Complete(ctx, domain.CompletionRequest{}); err == nil {
		t.Fatal("expected error after cancellation")
	}
	if p2.calls != 0 {
		t.Fatalf("chain should stop after cancellation, secondary got %d calls", p2.calls)
	}
}

func TestFailover_SingleProvider(t *testing.T) {
	p1 := &mockProvider{name: "only", resp: &domain.Completion{Text: "only-one"}}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1}, Logger: testLogger()})

	resp, err := fp.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "only-one" {
		t.Fatalf("expected 'only-one', got %q", resp.Text)
	}
}

func TestFailover_Healthy_AtLeastOneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick", healthy: false}
	p2 := &mockProvider{name: "well", healthy: true}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Logger: testLogger()})

	if err := fp.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailover_Healthy_NoneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick1", healthy: false}
	p2 := &mockProvider{name: "sick2", healthy: false}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Logger: testLogger()})

	if err := fp.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailover_Name(t *testing.T) {
	p1 := &mockProvider{name: "ollama"}
	p2 := &mockProvider{name: "openai"}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Logger: testLogger()})

	name := fp.Name()
	if name != "failover(ollama→openai)" {
		t.Fatalf("expected 'failover(ollama→openai)', got %q", name)
	}
}

func TestFailover_FailedProviderCoolsDown(t *testing.T) {
	p1 := &mockProvider{name: "primary", err: errors.New("down")}
	p2 := &mockProvider{name: "secondary", resp: &domain.Completion{Text: "ok"}}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Cooldown: time.Minute, Logger: testLogger()})
	clock := time.Now()
	fp.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if _, err := fp.Complete(context.Background(), domain.CompletionRequest{}); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if p1.calls != 1 {
		t.Fatalf("primary should be skipped while cooling down, got %d calls", p1.calls)
	}

	// After the cooldown the primary is tried first again.
	clock = clock.Add(2 * time.Minute)
	p1.err = nil
	p1.resp = &domain.Completion{Text: "primary again"}
	resp, err := fp.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "primary again" {
		t.Fatalf("expected primary after cooldown, got %q", resp.Text)
	}
}

func TestFailover_CoolingProvidersAreStillTried(t *testing.T) {
	p1 := &mockProvider{name: "p1", err: errors.New("down")}
	p2 := &mockProvider{name: "p2", err: errors.New("down")}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Logger: testLogger()})

	_, _ = fp.Complete(context.Background(), domain.CompletionRequest{})
	p2.err = nil
	p2.resp = &domain.Completion{Text: "recovered"}
	resp, err := fp.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "recovered" {
		t.Fatalf("expected 'recovered', got %q", resp.Text)
	}
}

func TestFailover_CooldownIsPerChainEntry(t *testing.T) {
	// Two OpenAI-protocol entries may report the same name.
	p1 := &mockProvider{name: "openai", err: errors.New("down")}
	p2 := &mockProvider{name: "openai", resp: &domain.Completion{Text: "second"}}
	fp := NewFailover(FailoverConfig{Providers: []domain.Provider{p1, p2}, Cooldown: time.Minute, Logger: testLogger()})
	clock := time.Now()
	fp.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		resp, err := fp.Complete(context.Background(), domain.CompletionRequest{})
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if resp.Text != "second" {
			t.Fatalf("call %d: expected 'second', got %q", i, resp.Text)
		}
	}
	if p1.calls != 1 {
		t.Fatalf("first entry should be skipped while cooling down, got %d calls", p1.calls)
	}
	if p2.calls != 3 {
		t.Fatalf("second entry should answer every call, got %d calls", p2.calls)
	}
}
