package domain

import (
	"context"
	"math"
)

// Format identifies how an uploaded document's bytes are decoded.
type Format string

const (
	FormatText    Format = "txt"
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatUnknown Format = "unknown"
)

// Document is an uploaded artifact. It only lives for the duration of an ingestion call.
type Document struct {
	Name     string
	Format   Format
	MimeType string
	Content  []byte
}

// Chunk is a non-empty span of text derived from one Document.
type Chunk struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	Position int    `json:"position"`
}

// Vector is an embedding of fixed dimension.
type Vector []float32

// Finite reports whether every component is a finite number.
func (v Vector) Finite() bool {
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}

// Zero reports whether every component is zero. A zero vector has no
// direction and scores 0 against everything.
func (v Vector) Zero() bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// Entry is one (text, vector) pair handed to VectorIndex.Upsert.
// ID is optional; the index assigns a positional identifier when it is empty.
type Entry struct {
	ID     string
	Text   string
	Vector Vector
}

// Record is the persisted unit owned by the vector index.
type Record struct {
	ID        string
	Namespace string
	Text      string
	Vector    Vector
}

// Match is a single nearest-neighbour hit.
type Match struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// SkippedRecord describes an entry the index refused to write.
type SkippedRecord struct {
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

// UpsertResult reports what an Upsert call actually wrote.
type UpsertResult struct {
	Written int             `json:"written"`
	Skipped []SkippedRecord `json:"skipped,omitempty"`
}

// NamespaceStats is the number of records one namespace holds.
type NamespaceStats struct {
	Namespace string `json:"namespace"`
	Records   int    `json:"records"`
}

// DocumentStatus is the per-document outcome of an ingestion batch.
type DocumentStatus string

const (
	StatusProcessed DocumentStatus = "processed"
	StatusError     DocumentStatus = "error"
)

// DocumentReport is returned for every document passed to Ingest, in input order.
type DocumentReport struct {
	Name       string         `json:"name"`
	Format     Format         `json:"format"`
	ChunkCount int            `json:"chunkCount"`
	Status     DocumentStatus `json:"status"`
	Detail     string         `json:"detail,omitempty"`
}

// SkippedChunk is a chunk dropped between extraction and storage.
type SkippedChunk struct {
	Source   string `json:"source"`
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

// IngestReport is the full outcome of one ingestion batch.
type IngestReport struct {
	BatchID   string           `json:"batchId"`
	Namespace string           `json:"namespace"`
	Documents []DocumentReport `json:"documents"`
	Written   int              `json:"written"`
	Skipped   []SkippedChunk   `json:"skipped,omitempty"`
}

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)

	// Dimensions returns the vector size produced by Embed.
	Dimensions() int

	ModelName() string
}

// VectorIndex stores records per namespace and answers cosine nearest-neighbour queries.
type VectorIndex interface {
	// Upsert writes every valid entry into namespace and skips the rest.
	Upsert(ctx context.Context, namespace string, entries []Entry) (UpsertResult, error)

	// Query returns at most topK matches ranked by descending similarity.
	Query(ctx context.Context, namespace string, vector Vector, topK int) ([]Match, error)

	Dimensions() int

	Close() error
}

// TextExtractor decodes a document of one format into ordered text units
// (pages, paragraphs or blank-line separated blocks).
type TextExtractor interface {
	Format() Format
	ExtractText(content []byte) ([]string, error)
}
