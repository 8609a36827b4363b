package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

const (
	DefaultHashingModel      = "hashing-v1"
	DefaultHashingDimensions = 384
)

var _ domain.Embedder = (*Hashing)(nil)

// Hashing is a local, deterministic embedder based on signed feature hashing
// of word unigrams and bigrams. It needs no network and no model download.
type Hashing struct {
	model      string
	dimensions int
	maxTokens  int

	once      sync.Once
	tokenizer *regexp.Regexp
	stopwords map[string]struct{}
}

type HashingConfig struct {
	Model      string
	Dimensions int
	MaxTokens  int
}

func NewHashing(cfg HashingConfig) *Hashing {
	if cfg.Model == "" {
		cfg.Model = DefaultHashingModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultHashingDimensions
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Hashing{
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
	}
}

func (h *Hashing) Dimensions() int   { return h.dimensions }
func (h *Hashing) ModelName() string { return h.model }

// init builds the tokenizer and stopword table. Safe to call from any goroutine.
func (h *Hashing) init() {
	h.once.Do(func() {
		h.tokenizer = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)
		h.stopwords = defaultStopwords()
	})
}

func (h *Hashing) Embed(_ context.Context, text string) (domain.Vector, error) {
	h.init()

	tokens := h.tokenize(text)
	vec := make([]float64, h.dimensions)
	for i, tok := range tokens {
		h.add(vec, tok, 1.0)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make(domain.Vector, h.dimensions)
	for i, v := range vec {
		if norm > 0 {
			v /= norm
		}
		out[i] = float32(v)
	}
	return out, nil
}

func (h *Hashing) add(vec []float64, feature string, weight float64) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize lowercases text, drops stopwords and caps the result at maxTokens.
// Text made only of stopwords keeps them; text with no word characters falls
// back to the whole lowercased string so every non-empty input has a feature.
func (h *Hashing) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := h.tokenizer.FindAllString(lower, -1)

	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if _, stop := h.stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		out = raw
	}
	if len(out) == 0 {
		if s := strings.TrimSpace(lower); s != "" {
			out = []string{s}
		}
	}
	if len(out) > h.maxTokens {
		out = out[:h.maxTokens]
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these",
		"those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into",
		"about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own",
		"same", "too", "very", "can", "will", "just", "should", "now", "do", "does", "did", "what", "which",
		"who", "whom", "how", "why", "when", "where", "i", "me", "my", "you", "your", "we", "our", "they",
		"their", "he", "she", "his", "her", "there", "here", "has", "have", "had", "not", "no", "any", "all",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
