package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/metrics"
)

// Retrieve returns the texts of the topK most similar chunks in namespace,
// most similar first. Empty queries fail with domain.ErrInvalidInput; every
// other embedding or index failure is logged and degrades to an empty result.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int, namespace string) ([]string, error) {
	matches, err := e.Search(ctx, query, topK, namespace)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return texts, nil
}

// Search is Retrieve with similarity scores kept, for diagnostics.
func (e *Engine) Search(ctx context.Context, query string, topK int, namespace string) ([]domain.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 3
	}
	namespace = e.resolve(namespace)

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		e.softFailure("embed", namespace, err)
		return []domain.Match{}, nil
	}

	matches, err := e.index.Query(ctx, namespace, vec, topK)
	if err != nil {
		e.softFailure("query", namespace, err)
		return []domain.Match{}, nil
	}

	e.logger.Debug("retrieval complete", "namespace", namespace, "top_k", topK, "results", len(matches))
	return matches, nil
}

func (e *Engine) softFailure(stage, namespace string, err error) {
	metrics.RetrievalFailures.Inc()
	e.logger.Warn("retrieval degraded to empty result", "stage", stage, "namespace", namespace, "err", err)
}
