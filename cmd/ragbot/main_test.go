package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(config.GeneralConfig{LogLevel: "WARN"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = newLogger(config.GeneralConfig{LogLevel: "loud"})
	assert.Error(t, err)

	logFile := filepath.Join(t.TempDir(), "logs", "ragbot.log")
	l, err = newLogger(config.GeneralConfig{LogLevel: "info", LogFile: logFile})
	require.NoError(t, err)
	l.Info("hello")
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	prev := configPath
	t.Cleanup(func() { configPath = prev })
	configPath = filepath.Join(t.TempDir(), "missing.json")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.Defaults().Answer.TopK, cfg.Answer.TopK)
}

func TestLoadConfig_BrokenFile(t *testing.T) {
	prev := configPath
	t.Cleanup(func() { configPath = prev })
	configPath = filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0o644))

	_, err := loadConfig()
	assert.Error(t, err)
}

func TestApp_IngestAndAnswerFallback(t *testing.T) {
	cfg := config.Defaults()
	cfg.Index.Backend = "memory"
	cfg.Providers = map[string]config.ProviderConfig{"ollama": {Enabled: true, APIBase: "http://127.0.0.1:1"}}
	cfg.DefaultProvider = "ollama"
	cfg.FailoverChain = nil

	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.Close()

	// An empty index answers with the fallback without calling the provider.
	h, err := a.newHandler(nil)
	require.NoError(t, err)
	reply, err := h.Answer(t.Context(), "What color is the sky?")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultFallbackMessage, reply)

	report, err := a.engine.Ingest(t.Context(), []domain.Document{{Name: "facts.txt", Content: []byte("The sky is blue.")}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written)

	matches, err := a.engine.Search(t.Context(), "What color is the sky?", 3, "")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "The sky is blue.", matches[0].Text)
}

func TestPathLines(t *testing.T) {
	lines := pathLines(map[string]any{"b.port": float64(8080), "a.name": "x", "c.on": true})
	assert.Equal(t, []string{`a.name = "x"`, "b.port = 8080", "c.on = true"}, lines)
}

func TestCheckNamespaces(t *testing.T) {
	cfg := config.Defaults()
	cfg.Index.Backend = "memory"
	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.Close()

	var c checks
	checkNamespaces(t.Context(), &c, a)
	assert.Equal(t, checks{warned: 1}, c, "an empty default namespace is a warning")

	_, err = a.engine.IngestInto(t.Context(), "faq", []domain.Document{{Name: "faq.txt", Content: []byte("Returns are free.")}})
	require.NoError(t, err)
	_, err = a.engine.Ingest(t.Context(), []domain.Document{{Name: "facts.txt", Content: []byte("The sky is blue.")}})
	require.NoError(t, err)

	c = checks{}
	checkNamespaces(t.Context(), &c, a)
	assert.Equal(t, checks{passed: 2}, c)
}
