package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

var _ domain.VectorIndex = (*Memory)(nil)

// Memory is an in-process index using brute-force cosine similarity.
// Contents are lost when the process exits.
type Memory struct {
	mu         sync.RWMutex
	dimensions int
	spaces     map[string]*memorySpace
	logger     *slog.Logger
}

// memorySpace keeps records in first-write order so ties rank deterministically.
type memorySpace struct {
	order []string
	byID  map[string]domain.Record
}

type MemoryConfig struct {
	Dimensions int
	Logger     *slog.Logger
}

func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.New("invalid dimension")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Memory{
		dimensions: cfg.Dimensions,
		spaces:     make(map[string]*memorySpace),
		logger:     cfg.Logger,
	}, nil
}

func (m *Memory) Upsert(_ context.Context, namespace string, entries []domain.Entry) (domain.UpsertResult, error) {
	if err := checkNamespace(namespace); err != nil {
		return domain.UpsertResult{}, err
	}
	records, skipped := prepare(namespace, entries, m.dimensions)

	m.mu.Lock()
	defer m.mu.Unlock()

	space, ok := m.spaces[namespace]
	if !ok {
		space = &memorySpace{byID: make(map[string]domain.Record)}
		m.spaces[namespace] = space
	}
	for _, r := range records {
		if _, exists := space.byID[r.ID]; !exists {
			space.order = append(space.order, r.ID)
		}
		space.byID[r.ID] = r.Record
	}

	return domain.UpsertResult{Written: len(records), Skipped: skipped}, nil
}

func (m *Memory) Query(_ context.Context, namespace string, vector domain.Vector, topK int) ([]domain.Match, error) {
	if err := checkQuery(namespace, vector, topK, m.dimensions); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	space, ok := m.spaces[namespace]
	if !ok {
		return []domain.Match{}, nil
	}
	matches := make([]domain.Match, 0, len(space.order))
	for _, id := range space.order {
		r := space.byID[id]
		matches = append(matches, domain.Match{ID: r.ID, Text: r.Text, Score: Cosine(vector, r.Vector)})
	}
	return rank(matches, topK), nil
}

// Namespaces lists namespaces holding at least one record, sorted by name.
func (m *Memory) Namespaces(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.spaces))
	for name, space := range m.spaces {
		if len(space.order) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Count(_ context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if space, ok := m.spaces[namespace]; ok {
		return len(space.order), nil
	}
	return 0, nil
}

func (m *Memory) Dimensions() int { return m.dimensions }

func (m *Memory) Close() error { return nil }
