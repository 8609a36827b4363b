package index

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

const testDims = 3

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backends returns a fresh instance of every local backend.
func backends(t *testing.T) map[string]domain.VectorIndex {
	t.Helper()
	mem, err := NewMemory(MemoryConfig{Dimensions: testDims, Logger: testLogger()})
	require.NoError(t, err)

	sq, err := NewSQLite(SQLiteConfig{
		Path:       filepath.Join(t.TempDir(), "index.db"),
		Dimensions: testDims,
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]domain.VectorIndex{"memory": mem, "sqlite": sq}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, idx domain.VectorIndex)) {
	for name, idx := range backends(t) {
		t.Run(name, func(t *testing.T) { fn(t, idx) })
	}
}

func TestUpsertQuery_RankedByCosine(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		ctx := context.Background()
		res, err := idx.Upsert(ctx, "default", []domain.Entry{
			{Text: "x axis", Vector: domain.Vector{1, 0, 0}},
			{Text: "mostly x", Vector: domain.Vector{0.9, 0.1, 0}},
			{Text: "y axis", Vector: domain.Vector{0, 1, 0}},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Written)
		assert.Empty(t, res.Skipped)

		matches, err := idx.Query(ctx, "default", domain.Vector{1, 0, 0}, 3)
		require.NoError(t, err)
		require.Len(t, matches, 2, "orthogonal record has zero similarity and is excluded")
		assert.Equal(t, "x axis", matches[0].Text)
		assert.Equal(t, "mostly x", matches[1].Text)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
		assert.Greater(t, matches[0].Score, matches[1].Score)
	})
}

func TestQuery_TopKBoundary(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		ctx := context.Background()
		_, err := idx.Upsert(ctx, "solo", []domain.Entry{{Text: "only", Vector: domain.Vector{1, 1, 0}}})
		require.NoError(t, err)

		matches, err := idx.Query(ctx, "solo", domain.Vector{1, 0, 0}, 3)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(matches), 1)
	})
}

func TestQuery_NamespaceIsolation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		ctx := context.Background()
		_, err := idx.Upsert(ctx, "n1", []domain.Entry{{Text: "alpha beta", Vector: domain.Vector{1, 0, 0}}})
		require.NoError(t, err)

		matches, err := idx.Query(ctx, "n1", domain.Vector{1, 0, 0}, 3)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "alpha beta", matches[0].Text)

		matches, err = idx.Query(ctx, "n2", domain.Vector{1, 0, 0}, 3)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestQuery_UnknownNamespaceIsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		matches, err := idx.Query(context.Background(), "never-written", domain.Vector{1, 0, 0}, 3)
		require.NoError(t, err)
		assert.NotNil(t, matches)
		assert.Empty(t, matches)
	})
}

func TestQuery_DimensionMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		_, err := idx.Query(context.Background(), "default", domain.Vector{1, 0}, 3)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})
}

func TestUpsert_SkipsInvalidEntriesAndContinues(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		ctx := context.Background()
		res, err := idx.Upsert(ctx, "default", []domain.Entry{
			{Text: "good one", Vector: domain.Vector{1, 0, 0}},
			{Text: "short vector", Vector: domain.Vector{1, 0}},
			{Text: "nan vector", Vector: domain.Vector{float32(math.NaN()), 0, 0}},
			{Text: "   ", Vector: domain.Vector{0, 1, 0}},
			{Text: "good two", Vector: domain.Vector{0, 0, 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Written)
		require.Len(t, res.Skipped, 3)
		assert.Equal(t, 1, res.Skipped[0].Position)
		assert.Contains(t, res.Skipped[0].Reason, "dimension")
		assert.Equal(t, 2, res.Skipped[1].Position)
		assert.Equal(t, "non-finite vector", res.Skipped[1].Reason)
		assert.Equal(t, 3, res.Skipped[2].Position)

		inv, ok := idx.(Inventory)
		require.True(t, ok)
		n, err := inv.Count(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestUpsert_AllInvalidWritesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		res, err := idx.Upsert(context.Background(), "default", []domain.Entry{
			{Text: "bad", Vector: domain.Vector{float32(math.Inf(1)), 0, 0}},
		})
		require.NoError(t, err)
		assert.Zero(t, res.Written)
		assert.Len(t, res.Skipped, 1)
	})
}

func TestUpsert_ExplicitIDsReplace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		ctx := context.Background()
		_, err := idx.Upsert(ctx, "default", []domain.Entry{{ID: "a", Text: "old", Vector: domain.Vector{1, 0, 0}}})
		require.NoError(t, err)
		_, err = idx.Upsert(ctx, "default", []domain.Entry{{ID: "a", Text: "new", Vector: domain.Vector{1, 0, 0}}})
		require.NoError(t, err)

		matches, err := idx.Query(ctx, "default", domain.Vector{1, 0, 0}, 5)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "new", matches[0].Text)
		assert.Equal(t, "a", matches[0].ID)
	})
}

func TestUpsert_EmptyNamespaceRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		_, err := idx.Upsert(context.Background(), "", []domain.Entry{{Text: "x", Vector: domain.Vector{1, 0, 0}}})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestUpsert_ConcurrentWritersSameNamespace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				entries := make([]domain.Entry, 5)
				for i := range entries {
					entries[i] = domain.Entry{
						ID:     string(rune('a'+w)) + "-" + string(rune('0'+i)),
						Text:   "text",
						Vector: domain.Vector{1, float32(i), 0},
					}
				}
				_, err := idx.Upsert(ctx, "shared", entries)
				assert.NoError(t, err)
			}(w)
		}
		wg.Wait()

		n, err := idx.(Inventory).Count(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, 20, n)
	})
}

func TestInventory_ListsWrittenNamespaces(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx domain.VectorIndex) {
		ctx := context.Background()
		_, err := idx.Upsert(ctx, "faq", []domain.Entry{{Text: "returns", Vector: domain.Vector{1, 0, 0}}})
		require.NoError(t, err)
		_, err = idx.Upsert(ctx, "default", []domain.Entry{
			{Text: "sky", Vector: domain.Vector{0, 1, 0}},
			{Text: "water", Vector: domain.Vector{0, 0, 1}},
		})
		require.NoError(t, err)

		inv := idx.(Inventory)
		names, err := inv.Namespaces(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"default", "faq"}, names)

		n, err := inv.Count(ctx, "faq")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = inv.Count(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	s1, err := NewSQLite(SQLiteConfig{Path: path, Dimensions: testDims, Logger: testLogger()})
	require.NoError(t, err)
	_, err = s1.Upsert(ctx, "default", []domain.Entry{{Text: "persisted", Vector: domain.Vector{0, 1, 0}}})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLite(SQLiteConfig{Path: path, Dimensions: testDims, Logger: testLogger()})
	require.NoError(t, err)
	defer s2.Close()

	matches, err := s2.Query(ctx, "default", domain.Vector{0, 1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "persisted", matches[0].Text)

	names, err := s2.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, names)
}

func TestSQLite_DimensionFixedAtCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	s1, err := NewSQLite(SQLiteConfig{Path: path, Dimensions: 3, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	_, err = NewSQLite(SQLiteConfig{Path: path, Dimensions: 4, Logger: testLogger()})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestSQLite_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	for i := 0; i < 2; i++ {
		s, err := NewSQLite(SQLiteConfig{Path: path, Dimensions: testDims, Logger: testLogger()})
		require.NoError(t, err)
		v, err := getSchemaVersion(s.db)
		require.NoError(t, err)
		assert.Equal(t, schemaVersion, v)
		require.NoError(t, s.Close())
	}
}

func TestSQLite_BaseSchemaHasWriteOrder(t *testing.T) {
	s, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "index.db"), Dimensions: testDims, Logger: testLogger()})
	require.NoError(t, err)
	defer s.Close()

	var applied int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&applied))
	assert.Equal(t, 1, applied, "a fresh database needs exactly one migration")

	var seqCols int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('records') WHERE name = 'seq'`).Scan(&seqCols))
	assert.Equal(t, 1, seqCols)

	var idx string
	require.NoError(t, s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_records_ns_seq'`).Scan(&idx))
	assert.Equal(t, "idx_records_ns_seq", idx)
}

func TestVectorBytesRoundTrip(t *testing.T) {
	v := domain.Vector{0.25, -1.5, 3e-7, 0}
	assert.Equal(t, v, bytesToVector(vectorToBytes(v)))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine(domain.Vector{1, 2, 3}, domain.Vector{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine(domain.Vector{1, 0}, domain.Vector{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine(domain.Vector{1, 0}, domain.Vector{-1, 0}), 1e-9)
	assert.Zero(t, Cosine(domain.Vector{0, 0}, domain.Vector{1, 0}))
	assert.Zero(t, Cosine(domain.Vector{1}, domain.Vector{1, 0}))
}

func TestNew_Backends(t *testing.T) {
	cfg := config.Defaults().Index
	cfg.Backend = "memory"
	idx, err := New(cfg, testDims, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, idx)

	cfg.Backend = "sqlite"
	cfg.DBPath = filepath.Join(t.TempDir(), "x.db")
	idx, err = New(cfg, testDims, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, idx)
	idx.Close()

	cfg.Backend = "faiss"
	_, err = New(cfg, testDims, testLogger())
	assert.Error(t, err)
}

// fakeQdrant is a minimal in-memory imitation of the Qdrant REST endpoints used by Qdrant.
type fakeQdrant struct {
	mu      sync.Mutex
	exists  bool
	size    int
	points  map[string]qdrantPoint
	creates int
	apiKey  string
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKey = r.Header.Get("api-key")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/collections/kb":
		if !f.exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size}}},
		}})
	case r.Method == http.MethodPut && r.URL.Path == "/collections/kb":
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.exists, f.size = true, body.Vectors.Size
		f.creates++
		w.Write([]byte(`{"result":true}`))
	case r.Method == http.MethodPut && r.URL.Path == "/collections/kb/index":
		w.Write([]byte(`{"result":{}}`))
	case r.Method == http.MethodPut && r.URL.Path == "/collections/kb/points":
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		w.Write([]byte(`{"result":{"status":"completed"}}`))
	case r.Method == http.MethodPost && r.URL.Path == "/collections/kb/points/search":
		var body struct {
			Vector []float32    `json:"vector"`
			Limit  int          `json:"limit"`
			Filter qdrantFilter `json:"filter"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		ns := body.Filter.Must[0].Match.Value
		var result []map[string]any
		for _, p := range f.points {
			if p.Payload["namespace"] != ns {
				continue
			}
			result = append(result, map[string]any{
				"id":      p.ID,
				"score":   Cosine(body.Vector, p.Vector),
				"payload": p.Payload,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"result": result})
	case r.Method == http.MethodPost && r.URL.Path == "/collections/kb/facet":
		counts := map[string]int{}
		for _, p := range f.points {
			counts[p.Payload["namespace"].(string)]++
		}
		hits := []map[string]any{}
		for ns, n := range counts {
			hits = append(hits, map[string]any{"value": ns, "count": n})
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"hits": hits}})
	case r.Method == http.MethodPost && r.URL.Path == "/collections/kb/points/count":
		var body struct {
			Filter qdrantFilter `json:"filter"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		n := 0
		for _, p := range f.points {
			if p.Payload["namespace"] == body.Filter.Must[0].Match.Value {
				n++
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"count": n}})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func newTestQdrant(t *testing.T) (*Qdrant, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{points: make(map[string]qdrantPoint)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	q, err := NewQdrant(QdrantConfig{
		URL:        srv.URL + "/",
		APIKey:     "qd-key",
		Collection: "kb",
		Dimensions: testDims,
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	return q, fake
}

func TestQdrant_UpsertQueryCount(t *testing.T) {
	q, fake := newTestQdrant(t)
	ctx := context.Background()

	res, err := q.Upsert(ctx, "default", []domain.Entry{
		{ID: "b-0", Text: "The sky is blue.", Vector: domain.Vector{1, 0, 0}},
		{ID: "b-1", Text: "Water boils at 100C.", Vector: domain.Vector{0, 1, 0}},
		{ID: "b-2", Text: "bad", Vector: domain.Vector{1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Len(t, res.Skipped, 1)
	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, testDims, fake.size)
	assert.Equal(t, "qd-key", fake.apiKey)

	matches, err := q.Query(ctx, "default", domain.Vector{1, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "The sky is blue.", matches[0].Text)
	assert.Equal(t, "b-0", matches[0].ID)

	matches, err = q.Query(ctx, "other", domain.Vector{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, matches)

	n, err := q.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	names, err := q.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, names)

	// The collection is provisioned once per process.
	_, err = q.Upsert(ctx, "default", []domain.Entry{{Text: "more", Vector: domain.Vector{0, 0, 1}}})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.creates)
}

func TestQdrant_ExistingCollectionWrongSize(t *testing.T) {
	q, fake := newTestQdrant(t)
	fake.exists, fake.size = true, 768

	_, err := q.Query(context.Background(), "default", domain.Vector{1, 0, 0}, 3)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestQdrant_PointIDsAreStableUUIDs(t *testing.T) {
	a := pointID("default", "batch-0")
	assert.Equal(t, a, pointID("default", "batch-0"))
	assert.NotEqual(t, a, pointID("other", "batch-0"))
	assert.Len(t, strings.ReplaceAll(a, "-", ""), 32)
}
