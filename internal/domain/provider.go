package domain

import "context"

// CompletionRequest is a single-turn completion: one system instruction, one user turn.
type CompletionRequest struct {
	System    string
	User      string
	MaxTokens int
	Model     string // optional: overrides the provider default
}

// Completion is the primary answer text plus bookkeeping.
type Completion struct {
	Text         string
	FinishReason string
	Usage        Usage
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completer is the completion capability consumed by the answer composer.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Provider is a named, health-checkable Completer backed by an LLM API.
type Provider interface {
	Completer
	Name() string
	Healthy(ctx context.Context) error
}
