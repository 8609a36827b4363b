package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

const (
	claudeDefaultBase  = "https://api.anthropic.com"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-3-5-sonnet-20240620"
	defaultMaxTokens   = 400
	defaultHTTPTimeout = 120 * time.Second
)

var _ domain.Provider = (*Claude)(nil)

// Claude implements domain.Provider for the Anthropic Messages API.
type Claude struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	retry   retryPolicy
	logger  *slog.Logger
}

type ClaudeConfig struct {
	APIKey     string
	APIBase    string // default: https://api.anthropic.com
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClaude creates a new Claude provider.
func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.APIBase == "" {
		cfg.APIBase = claudeDefaultBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Claude{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimSuffix(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.HTTPClient,
		retry:   defaultRetry,
		logger:  cfg.Logger,
	}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("claude: no API key configured")
	}
	return nil
}

type claudeRequest struct {
	Model     string      `json:"model"`
	MaxTokens int         `json:"max_tokens"`
	System    string      `json:"system,omitempty"`
	Messages  []claudeMsg `json:"messages"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      claudeUsage     `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one system instruction and one user turn and returns the
// first text block of the reply.
func (c *Claude) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	jsonBody, err := json.Marshal(claudeRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []claudeMsg{{Role: "user", Content: req.User}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: claude: marshal request: %v", domain.ErrCompletion, err)
	}

	buildReq := func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/messages", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", claudeAPIVersion)
		return httpReq, nil
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, c.client, c.retry, buildReq, c.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: claude: %v", domain.ErrCompletion, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: claude: read response: %v", domain.ErrCompletion, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr claudeError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: claude: %s: %s", domain.ErrCompletion, apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: claude: HTTP %d: %s", domain.ErrCompletion, resp.StatusCode, string(body))
	}

	var cr claudeResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("%w: claude: decode response: %v", domain.ErrCompletion, err)
	}

	var text string
	for _, block := range cr.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: claude: empty content (stop_reason=%s)", domain.ErrCompletion, cr.StopReason)
	}

	c.logger.Debug("claude completion",
		"model", model,
		"input_tokens", cr.Usage.InputTokens,
		"output_tokens", cr.Usage.OutputTokens,
		"duration", time.Since(start),
	)
	return &domain.Completion{
		Text:         text,
		FinishReason: cr.StopReason,
		Usage: domain.Usage{
			PromptTokens:     cr.Usage.InputTokens,
			CompletionTokens: cr.Usage.OutputTokens,
			TotalTokens:      cr.Usage.InputTokens + cr.Usage.OutputTokens,
		},
	}, nil
}
