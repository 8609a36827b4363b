package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

var _ domain.Embedder = (*OpenAI)(nil)

// OpenAI embeds text through the OpenAI embeddings API (or any compatible server).
type OpenAI struct {
	client     openai.Client
	model      string
	dimensions int
}

type OpenAIConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	Dimensions int
	HTTPClient *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultHashingDimensions
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(2),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.APIBase, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAI{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

func (o *OpenAI) Embed(ctx context.Context, text string) (domain.Vector, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: openai.Int(int64(o.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	vec := make(domain.Vector, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (o *OpenAI) Dimensions() int   { return o.dimensions }
func (o *OpenAI) ModelName() string { return o.model }
