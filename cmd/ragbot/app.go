package main

import (
	"fmt"
	"time"

	"github.com/propakistanidev/WA-RAG-BOT/internal/answer"
	"github.com/propakistanidev/WA-RAG-BOT/internal/bot"
	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/embedding"
	"github.com/propakistanidev/WA-RAG-BOT/internal/extract"
	"github.com/propakistanidev/WA-RAG-BOT/internal/index"
	"github.com/propakistanidev/WA-RAG-BOT/internal/knowledge"
	"github.com/propakistanidev/WA-RAG-BOT/internal/provider"
)

// app holds the components shared by every command that touches the index.
type app struct {
	cfg      *config.Config
	embedder *embedding.Service
	index    domain.VectorIndex
	engine   *knowledge.Engine
}

func newApp(cfg *config.Config) (*app, error) {
	emb, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	idx, err := index.New(cfg.Index, emb.Dimensions(), logger)
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}
	engine := knowledge.NewEngine(knowledge.EngineConfig{
		Extractor:        extract.New(extract.ExtractorConfig{Logger: logger}),
		Embedder:         emb,
		Index:            idx,
		DefaultNamespace: cfg.Index.DefaultNamespace,
		EmbedConcurrency: cfg.Ingest.EmbedConcurrency,
		Logger:           logger,
	})
	return &app{cfg: cfg, embedder: emb, index: idx, engine: engine}, nil
}

func (a *app) Close() {
	if err := a.index.Close(); err != nil {
		logger.Warn("closing index", "err", err)
	}
}

// newHandler wires retrieval and composition into a question handler.
// deliverer may be nil when replies are never sent (ragbot ask).
func (a *app) newHandler(deliverer domain.Deliverer) (*bot.Handler, error) {
	completer, err := provider.NewFactory(a.cfg, logger).Completer()
	if err != nil {
		return nil, fmt.Errorf("completion provider: %w", err)
	}
	composer := answer.NewComposer(answer.ComposerConfig{
		Completer:       completer,
		SystemPrompt:    a.cfg.Answer.SystemPrompt,
		FallbackMessage: a.cfg.Answer.FallbackMessage,
		MaxTokens:       a.cfg.Answer.MaxTokens,
		Logger:          logger,
	})
	return bot.NewHandler(bot.HandlerConfig{
		Retriever:    a.engine,
		Composer:     composer,
		Deliverer:    deliverer,
		TopK:         a.cfg.Answer.TopK,
		Timeout:      time.Duration(a.cfg.Answer.TimeoutSeconds) * time.Second,
		ErrorMessage: a.cfg.Answer.ErrorMessage,
		Logger:       logger,
	}), nil
}
