package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

const defaultCooldown = 30 * time.Second

var _ domain.Provider = (*Failover)(nil)

// Failover answers with the first provider in the chain that succeeds.
// A provider that fails is moved to the back of the order until its
// cooldown expires, so a dead primary does not add latency to every question.
type Failover struct {
	providers []domain.Provider
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	downAt map[int]time.Time // keyed by chain position
}

type FailoverConfig struct {
	Providers []domain.Provider
	Cooldown  time.Duration // default: 30s
	Logger    *slog.Logger
}

func NewFailover(cfg FailoverConfig) *Failover {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Failover{
		providers: cfg.Providers,
		cooldown:  cfg.Cooldown,
		logger:    cfg.Logger,
		now:       time.Now,
		downAt:    make(map[int]time.Time),
	}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (f *Failover) Healthy(ctx context.Context) error {
	for _, p := range f.providers {
		if p.Healthy(ctx) == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in %s", f.Name())
}

// order returns chain positions with providers still cooling down moved last.
func (f *Failover) order() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	ready := make([]int, 0, len(f.providers))
	var cooling []int
	for i := range f.providers {
		if at, ok := f.downAt[i]; ok && now.Sub(at) < f.cooldown {
			cooling = append(cooling, i)
			continue
		}
		ready = append(ready, i)
	}
	return append(ready, cooling...)
}

func (f *Failover) mark(pos int, failed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if failed {
		f.downAt[pos] = f.now()
	} else {
		delete(f.downAt, pos)
	}
}

// Complete returns the first successful completion. A cancelled context
// stops the chain without marking anyone as failed.
func (f *Failover) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	if len(f.providers) == 0 {
		return nil, fmt.Errorf("%w: failover chain is empty", domain.ErrCompletion)
	}
	var lastErr error
	for i, pos := range f.order() {
		p := f.providers[pos]
		resp, err := p.Complete(ctx, req)
		if err == nil {
			f.mark(pos, false)
			if i > 0 {
				f.logger.Info("answered by fallback provider", "provider", p.Name(), "position", i+1)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		f.mark(pos, true)
		f.logger.Warn("provider failed, trying next", "provider", p.Name(), "err", err)
	}
	return nil, fmt.Errorf("%w: every provider in %s failed: %v", domain.ErrCompletion, f.Name(), lastErr)
}
