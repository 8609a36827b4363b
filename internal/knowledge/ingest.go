package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/extract"
	"github.com/propakistanidev/WA-RAG-BOT/internal/metrics"
)

// pendingChunk is an extracted chunk waiting for its embedding.
type pendingChunk struct {
	doc    int // index into the batch's documents
	chunk  domain.Chunk
	vector domain.Vector
	err    error
}

// Ingest runs the ingestion pipeline over docs into the default namespace.
func (e *Engine) Ingest(ctx context.Context, docs []domain.Document) (*domain.IngestReport, error) {
	return e.IngestInto(ctx, "", docs)
}

// IngestInto extracts every document independently, embeds all extracted
// chunks, and upserts the valid ones in a single call. One report entry is
// returned per document, in input order, whose ChunkCount is the number of
// records actually written for it.
//
// Extraction and per-chunk embedding failures are recorded and skipped. An
// error is returned only when the index rejects the whole upsert; the report
// then marks every document that had chunks as failed.
func (e *Engine) IngestInto(ctx context.Context, namespace string, docs []domain.Document) (*domain.IngestReport, error) {
	namespace = e.resolve(namespace)
	batchID := uuid.NewString()
	start := time.Now()

	report := &domain.IngestReport{
		BatchID:   batchID,
		Namespace: namespace,
		Documents: make([]domain.DocumentReport, len(docs)),
	}

	// 1. Extract each document on its own; a failure never affects the others.
	var pending []*pendingChunk
	for i, doc := range docs {
		format := doc.Format
		if format == "" || format == domain.FormatUnknown {
			format = extract.DetectFormat(doc.Name, doc.MimeType)
		}
		report.Documents[i] = domain.DocumentReport{Name: doc.Name, Format: format, Status: domain.StatusProcessed}

		chunks, err := e.extractor.Extract(doc)
		if err != nil {
			report.Documents[i].Status = domain.StatusError
			report.Documents[i].Detail = err.Error()
			e.logger.Warn("document extraction failed", "name", doc.Name, "format", format, "err", err)
			continue
		}
		if len(chunks) == 0 {
			e.logger.Info("document has no text", "name", doc.Name, "format", format)
		}
		for _, c := range chunks {
			pending = append(pending, &pendingChunk{doc: i, chunk: c})
		}
	}

	// 2. Embed every chunk; failures are kept per chunk.
	e.embedAll(ctx, pending)

	entries := make([]domain.Entry, 0, len(pending))
	sources := make([]*pendingChunk, 0, len(pending))
	for _, p := range pending {
		if p.err != nil {
			report.Skipped = append(report.Skipped, domain.SkippedChunk{
				Source: p.chunk.Source, Position: p.chunk.Position, Reason: p.err.Error(),
			})
			e.logger.Warn("chunk skipped", "source", p.chunk.Source, "position", p.chunk.Position, "err", p.err)
			continue
		}
		entries = append(entries, domain.Entry{
			ID:     fmt.Sprintf("%s-%d", batchID, len(entries)),
			Text:   p.chunk.Text,
			Vector: p.vector,
		})
		sources = append(sources, p)
	}

	// 3. One upsert for the whole batch.
	if len(entries) > 0 {
		res, err := e.index.Upsert(ctx, namespace, entries)
		if err != nil {
			for i := range docs {
				if report.Documents[i].Status == domain.StatusProcessed && hasChunks(sources, i) {
					report.Documents[i].Status = domain.StatusError
					report.Documents[i].Detail = "index upsert failed: " + err.Error()
				}
			}
			e.record(report)
			e.logger.Error("index upsert failed", "namespace", namespace, "batch", batchID, "entries", len(entries), "err", err)
			return report, fmt.Errorf("upsert %d records into %s: %w", len(entries), namespace, err)
		}

		rejected := make(map[int]bool, len(res.Skipped))
		for _, s := range res.Skipped {
			rejected[s.Position] = true
			c := sources[s.Position].chunk
			report.Skipped = append(report.Skipped, domain.SkippedChunk{
				Source: c.Source, Position: c.Position, Reason: "index rejected record: " + s.Reason,
			})
		}
		for pos, p := range sources {
			if !rejected[pos] {
				report.Documents[p.doc].ChunkCount++
			}
		}
		report.Written = res.Written
	}

	e.record(report)
	e.logger.Info("ingestion batch complete",
		"batch", batchID,
		"namespace", namespace,
		"documents", len(docs),
		"written", report.Written,
		"skipped", len(report.Skipped),
		"duration", time.Since(start),
	)
	for _, d := range report.Documents {
		e.logger.Info("document processed", "name", d.Name, "format", d.Format, "status", d.Status, "chunks", d.ChunkCount)
	}
	return report, nil
}

// embedAll embeds pending chunks with bounded parallelism.
func (e *Engine) embedAll(ctx context.Context, pending []*pendingChunk) {
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, p := range pending {
		g.Go(func() error {
			vec, err := e.embedder.Embed(ctx, p.chunk.Text)
			if err == nil && !vec.Finite() {
				err = domain.ErrDegenerateEmbedding
			}
			if err == nil && len(vec) != e.index.Dimensions() {
				err = fmt.Errorf("%w: embedder returned %d, index expects %d",
					domain.ErrDimensionMismatch, len(vec), e.index.Dimensions())
			}
			p.vector, p.err = vec, err
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) record(r *domain.IngestReport) {
	for _, d := range r.Documents {
		if d.Status == domain.StatusProcessed {
			metrics.DocumentsProcessed.Inc()
		} else {
			metrics.DocumentsFailed.Inc()
		}
	}
	metrics.ChunksWritten.Add(int64(r.Written))
	metrics.ChunksSkipped.Add(int64(len(r.Skipped)))
}

func hasChunks(sources []*pendingChunk, doc int) bool {
	for _, p := range sources {
		if p.doc == doc {
			return true
		}
	}
	return false
}
