package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

const openaiDefaultModel = "gpt-4o-mini"

var _ domain.Provider = (*OpenAI)(nil)

// OpenAI implements domain.Provider for the OpenAI chat completions API and
// any server that speaks the same protocol.
type OpenAI struct {
	name    string
	client  openai.Client
	apiKey  string
	apiBase string
	model   string
	logger  *slog.Logger
}

type OpenAIConfig struct {
	Name       string // reported by Name; default: "openai"
	APIKey     string
	APIBase    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(defaultRetry.Retries),
		option.WithHTTPClient(cfg.HTTPClient),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.APIBase, "/")+"/"))
	}
	return &OpenAI{
		name:    cfg.Name,
		client:  openai.NewClient(opts...),
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if o.apiKey == "" && o.apiBase == "" {
		return fmt.Errorf("%s: no API key configured", o.name)
	}
	return nil
}

func (o *OpenAI) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.User))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:  msgs,
		Model:     openai.ChatModel(model),
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCompletion, o.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s: no choices in response", domain.ErrCompletion, o.name)
	}

	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return nil, fmt.Errorf("%w: %s: empty content (finish_reason=%s)", domain.ErrCompletion, o.name, choice.FinishReason)
	}

	o.logger.Debug("openai completion", "provider", o.name, "model", model, "total_tokens", resp.Usage.TotalTokens)
	return &domain.Completion{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
