// Package knowledge provides the retrieval-augmented knowledge base: the
// ingestion pipeline (extract, embed, upsert) and the retrieval pipeline
// (embed, query, rank) sharing one embedder and one vector index.
package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/index"
)

// ChunkExtractor turns one document into ordered chunks.
type ChunkExtractor interface {
	Extract(doc domain.Document) ([]domain.Chunk, error)
}

// Engine owns the wiring between extractor, embedder and index.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	extractor   ChunkExtractor
	embedder    domain.Embedder
	index       domain.VectorIndex
	namespace   string
	concurrency int
	logger      *slog.Logger
}

type EngineConfig struct {
	Extractor        ChunkExtractor
	Embedder         domain.Embedder
	Index            domain.VectorIndex
	DefaultNamespace string // default: "default"
	EmbedConcurrency int    // parallel embedding calls per batch (default: 4)
	Logger           *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.DefaultNamespace == "" {
		cfg.DefaultNamespace = "default"
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		extractor:   cfg.Extractor,
		embedder:    cfg.Embedder,
		index:       cfg.Index,
		namespace:   cfg.DefaultNamespace,
		concurrency: cfg.EmbedConcurrency,
		logger:      cfg.Logger,
	}
}

func (e *Engine) resolve(namespace string) string {
	if namespace == "" {
		return e.namespace
	}
	return namespace
}

// Health reports whether the embedder and the index are usable.
// It embeds a fixed string and queries the default namespace.
func (e *Engine) Health(ctx context.Context) error {
	vec, err := e.embedder.Embed(ctx, "health check")
	if err != nil {
		return err
	}
	_, err = e.index.Query(ctx, e.namespace, vec, 1)
	return err
}

// ErrNoInventory is returned by Stats when the index cannot report its contents.
var ErrNoInventory = errors.New("index does not report namespace counts")

// Stats returns the record count of every namespace in the index. The
// default namespace is listed first, even when it is still empty.
func (e *Engine) Stats(ctx context.Context) ([]domain.NamespaceStats, error) {
	inv, ok := e.index.(index.Inventory)
	if !ok {
		return nil, ErrNoInventory
	}
	names, err := inv.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	names = slices.DeleteFunc(names, func(n string) bool { return n == e.namespace })
	names = append([]string{e.namespace}, names...)

	stats := make([]domain.NamespaceStats, 0, len(names))
	for _, name := range names {
		n, err := inv.Count(ctx, name)
		if err != nil {
			return nil, err
		}
		stats = append(stats, domain.NamespaceStats{Namespace: name, Records: n})
	}
	return stats, nil
}
