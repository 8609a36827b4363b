package domain

import "errors"

var (
	// ErrInvalidInput indicates empty or non-textual input to the embedder.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDegenerateEmbedding indicates a vector with non-finite components or zero norm.
	ErrDegenerateEmbedding = errors.New("degenerate embedding")

	// ErrUnsupportedFormat indicates a document format no extractor handles.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrDimensionMismatch indicates a vector whose size differs from the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrCompletion indicates the completion capability was unreachable or returned no content.
	ErrCompletion = errors.New("completion failed")

	// ErrDelivery indicates an outbound message could not be sent.
	ErrDelivery = errors.New("delivery failed")

	// ErrMalformedEvent indicates an inbound platform event missing expected fields.
	ErrMalformedEvent = errors.New("malformed event")
)
