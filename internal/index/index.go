// Package index implements the namespaced cosine-similarity vector index.
//
// Three backends share the same contract: an in-process map (memory), a
// persistent SQLite file (sqlite) and a Qdrant collection (qdrant). Every
// backend validates entries the same way, skipping bad ones instead of
// failing the batch, and never returns records with zero or negative
// similarity.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

// Inventory is implemented by backends that can list their namespaces and
// report how many records each holds.
type Inventory interface {
	Namespaces(ctx context.Context) ([]string, error)
	Count(ctx context.Context, namespace string) (int, error)
}

var (
	_ Inventory = (*Memory)(nil)
	_ Inventory = (*SQLite)(nil)
	_ Inventory = (*Qdrant)(nil)
)

// New opens the backend selected by cfg.Backend with a fixed vector dimension.
func New(cfg config.IndexConfig, dims int, logger *slog.Logger) (domain.VectorIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "memory":
		return NewMemory(MemoryConfig{Dimensions: dims, Logger: logger})
	case "", "sqlite":
		return NewSQLite(SQLiteConfig{Path: cfg.DBPath, Dimensions: dims, Logger: logger})
	case "qdrant":
		return NewQdrant(QdrantConfig{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSeconds) * time.Second,
			Dimensions: dims,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either has zero norm.
func Cosine(a, b domain.Vector) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// pending is a validated record and its position in the Upsert call.
type pending struct {
	pos int
	domain.Record
}

// prepare validates entries against dims and assigns positional identifiers
// to entries without one. Invalid entries are returned as skipped.
func prepare(namespace string, entries []domain.Entry, dims int) ([]pending, []domain.SkippedRecord) {
	records := make([]pending, 0, len(entries))
	var skipped []domain.SkippedRecord

	for i, e := range entries {
		if reason := validateEntry(e, dims); reason != "" {
			skipped = append(skipped, domain.SkippedRecord{Position: i, Reason: reason})
			continue
		}
		id := e.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		records = append(records, pending{pos: i, Record: domain.Record{
			ID:        id,
			Namespace: namespace,
			Text:      e.Text,
			Vector:    e.Vector,
		}})
	}
	return records, skipped
}

func validateEntry(e domain.Entry, dims int) string {
	switch {
	case strings.TrimSpace(e.Text) == "":
		return "empty text"
	case len(e.Vector) != dims:
		return fmt.Sprintf("dimension mismatch: got %d, want %d", len(e.Vector), dims)
	case !e.Vector.Finite():
		return "non-finite vector"
	}
	return ""
}

func checkNamespace(namespace string) error {
	if strings.TrimSpace(namespace) == "" {
		return fmt.Errorf("%w: namespace is empty", domain.ErrInvalidInput)
	}
	return nil
}

// checkQuery validates the query vector and topK shared by every backend.
func checkQuery(namespace string, vector domain.Vector, topK, dims int) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if len(vector) != dims {
		return fmt.Errorf("%w: query has %d components, index has %d", domain.ErrDimensionMismatch, len(vector), dims)
	}
	if !vector.Finite() {
		return domain.ErrDegenerateEmbedding
	}
	if topK < 1 {
		return fmt.Errorf("%w: topK must be >= 1", domain.ErrInvalidInput)
	}
	return nil
}

// rank drops non-positive scores, sorts by descending score (stable, so
// earlier-written records win ties) and keeps at most topK.
func rank(matches []domain.Match, topK int) []domain.Match {
	kept := matches[:0]
	for _, m := range matches {
		if m.Score > 0 {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}
