// Package extract turns uploaded documents into ordered, non-empty text chunks.
package extract

import (
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

// Extractor dispatches documents to the decoder registered for their format.
type Extractor struct {
	decoders map[domain.Format]domain.TextExtractor
	logger   *slog.Logger
}

type ExtractorConfig struct {
	Logger *slog.Logger
}

// New returns an Extractor with the plain text, PDF and DOCX decoders registered.
func New(cfg ExtractorConfig) *Extractor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Extractor{
		decoders: make(map[domain.Format]domain.TextExtractor),
		logger:   cfg.Logger,
	}
	e.Register(PlainText{})
	e.Register(PDF{})
	e.Register(DOCX{})
	return e
}

// Register adds or replaces the decoder for d.Format().
func (e *Extractor) Register(d domain.TextExtractor) {
	e.decoders[d.Format()] = d
}

// Extract decodes doc and returns its chunks in document order. Units that are
// blank after trimming are dropped. A document with no text yields no chunks
// and no error. An unknown format fails with domain.ErrUnsupportedFormat.
func (e *Extractor) Extract(doc domain.Document) ([]domain.Chunk, error) {
	format := doc.Format
	if format == "" || format == domain.FormatUnknown {
		format = DetectFormat(doc.Name, doc.MimeType)
	}
	dec, ok := e.decoders[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, describe(doc))
	}

	units, err := dec.ExtractText(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", doc.Name, err)
	}

	chunks := make([]domain.Chunk, 0, len(units))
	for _, u := range units {
		text := strings.TrimSpace(u)
		if text == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			Text:     text,
			Source:   doc.Name,
			Position: len(chunks),
		})
	}

	e.logger.Debug("document extracted", "name", doc.Name, "format", format,
		"units", len(units), "chunks", len(chunks))
	return chunks, nil
}

func describe(doc domain.Document) string {
	if doc.MimeType != "" {
		return fmt.Sprintf("%s (%s)", doc.Name, doc.MimeType)
	}
	return doc.Name
}

// DetectFormat picks a format from the MIME type, falling back to the file extension.
func DetectFormat(name, mimeType string) domain.Format {
	if mimeType != "" {
		if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
			switch mt {
			case "text/plain", "text/markdown":
				return domain.FormatText
			case "application/pdf":
				return domain.FormatPDF
			case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
				return domain.FormatDOCX
			}
		}
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".text", ".md":
		return domain.FormatText
	case ".pdf":
		return domain.FormatPDF
	case ".docx":
		return domain.FormatDOCX
	default:
		return domain.FormatUnknown
	}
}
