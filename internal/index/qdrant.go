package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

var _ domain.VectorIndex = (*Qdrant)(nil)

const maxFacetNamespaces = 1000

// pointNamespace seeds the deterministic point UUIDs derived from record identifiers.
var pointNamespace = uuid.MustParse("6f1c7a52-3b0e-4d8e-9a64-2f5b8c1d7e90")

// Qdrant stores every namespace in one collection, partitioned by a
// "namespace" payload field. The collection is created on first use.
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	dimensions int
	client     *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	provisioned bool
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	Dimensions int
	Logger     *slog.Logger
}

func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.New("invalid dimension")
	}
	if cfg.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "rag-whatsapp-bot"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Qdrant{
		url:        strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}, nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

func namespaceFilter(namespace string) qdrantFilter {
	c := qdrantCondition{Key: "namespace"}
	c.Match.Value = namespace
	return qdrantFilter{Must: []qdrantCondition{c}}
}

// ensureCollection creates the collection when it does not exist yet.
// A failed attempt is retried on the next call.
func (q *Qdrant) ensureCollection(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.provisioned {
		return nil
	}

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := q.do(ctx, http.MethodGet, "/collections/"+q.collection, nil, &info)
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != q.dimensions {
			return fmt.Errorf("%w: collection %s has %d dimensions, embedder produces %d",
				domain.ErrDimensionMismatch, q.collection, size, q.dimensions)
		}
	case status == http.StatusNotFound:
		body := map[string]any{
			"vectors": map[string]any{"size": q.dimensions, "distance": "Cosine"},
		}
		if _, err := q.do(ctx, http.MethodPut, "/collections/"+q.collection, body, nil); err != nil {
			return fmt.Errorf("create collection %s: %w", q.collection, err)
		}
		index := map[string]any{"field_name": "namespace", "field_schema": "keyword"}
		if _, err := q.do(ctx, http.MethodPut, "/collections/"+q.collection+"/index?wait=true", index, nil); err != nil {
			q.logger.Warn("qdrant payload index not created", "collection", q.collection, "err", err)
		}
		q.logger.Info("qdrant collection created", "collection", q.collection, "dimensions", q.dimensions)
	default:
		return fmt.Errorf("inspect collection %s: %w", q.collection, err)
	}

	q.provisioned = true
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, namespace string, entries []domain.Entry) (domain.UpsertResult, error) {
	if err := checkNamespace(namespace); err != nil {
		return domain.UpsertResult{}, err
	}
	records, skipped := prepare(namespace, entries, q.dimensions)
	if len(records) == 0 {
		return domain.UpsertResult{Skipped: skipped}, nil
	}
	if err := q.ensureCollection(ctx); err != nil {
		return domain.UpsertResult{}, err
	}

	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		points[i] = qdrantPoint{
			ID:     pointID(namespace, r.ID),
			Vector: r.Vector,
			Payload: map[string]any{
				"namespace": namespace,
				"record_id": r.ID,
				"text":      r.Text,
			},
		}
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", q.collection)
	if _, err := q.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("upsert points: %w", err)
	}
	return domain.UpsertResult{Written: len(records), Skipped: skipped}, nil
}

func (q *Qdrant) Query(ctx context.Context, namespace string, vector domain.Vector, topK int) ([]domain.Match, error) {
	if err := checkQuery(namespace, vector, topK, q.dimensions); err != nil {
		return nil, err
	}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       namespaceFilter(namespace),
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				RecordID string `json:"record_id"`
				Text     string `json:"text"`
			} `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", q.collection)
	if _, err := q.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	matches := make([]domain.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		matches = append(matches, domain.Match{ID: r.Payload.RecordID, Text: r.Payload.Text, Score: r.Score})
	}
	return rank(matches, topK), nil
}

func (q *Qdrant) Count(ctx context.Context, namespace string) (int, error) {
	if err := q.ensureCollection(ctx); err != nil {
		return 0, err
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	body := map[string]any{"filter": namespaceFilter(namespace), "exact": true}
	if _, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/count", body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Namespaces lists the distinct namespace payload values, sorted by name.
func (q *Qdrant) Namespaces(ctx context.Context) ([]string, error) {
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			Hits []struct {
				Value string `json:"value"`
			} `json:"hits"`
		} `json:"result"`
	}
	body := map[string]any{"key": "namespace", "limit": maxFacetNamespaces, "exact": true}
	if _, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/facet", body, &resp); err != nil {
		return nil, fmt.Errorf("facet namespaces: %w", err)
	}
	names := make([]string, 0, len(resp.Result.Hits))
	for _, h := range resp.Result.Hits {
		names = append(names, h.Value)
	}
	sort.Strings(names)
	return names, nil
}

func (q *Qdrant) Dimensions() int { return q.dimensions }

func (q *Qdrant) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

// pointID maps a record identifier to the UUID Qdrant requires.
func pointID(namespace, recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(namespace+"\x00"+recordID)).String()
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
// It returns the HTTP status code alongside any error.
func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.url+path, rdr)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("qdrant not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
