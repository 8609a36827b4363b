package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

const (
	defaultMaxUpload = 20 << 20 // 20MB
	defaultSearchK   = 3
	maxSearchK       = 50
)

// KnowledgeBase is the part of the knowledge engine the admin API drives.
type KnowledgeBase interface {
	IngestInto(ctx context.Context, namespace string, docs []domain.Document) (*domain.IngestReport, error)
	Search(ctx context.Context, query string, topK int, namespace string) ([]domain.Match, error)
	Health(ctx context.Context) error
	Stats(ctx context.Context) ([]domain.NamespaceStats, error)
}

// Admin serves the document upload, search and health endpoints.
type Admin struct {
	kb        KnowledgeBase
	token     string
	maxUpload int64
	version   string
	cfg       *config.Config // served read-only by /api/config
	logger    *slog.Logger
}

type AdminConfig struct {
	Knowledge   KnowledgeBase
	Token       string // bearer token; empty disables auth
	MaxUploadMB int
	Version     string
	Config      *config.Config
	Logger      *slog.Logger
}

func NewAdmin(cfg AdminConfig) *Admin {
	maxUpload := int64(cfg.MaxUploadMB) << 20
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Admin{
		kb:        cfg.Knowledge,
		token:     cfg.Token,
		maxUpload: maxUpload,
		version:   cfg.Version,
		cfg:       cfg.Config,
		logger:    cfg.Logger,
	}
}

// Register mounts the admin routes on mux.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", a.requireAuth(a.handleUpload))
	mux.HandleFunc("GET /api/search", a.requireAuth(a.handleSearch))
	mux.HandleFunc("GET /api/config", a.requireAuth(a.handleGetConfig))
	mux.HandleFunc("GET /healthz", a.handleHealth) // public endpoint
}

// requireAuth wraps a handler with bearer-token auth when a token is configured.
func (a *Admin) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			next(rw, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
			rw.Header().Set("WWW-Authenticate", `Bearer realm="ragbot"`)
			writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(rw, r)
	}
}

// handleUpload ingests every file in the multipart field "files".
func (a *Admin) handleUpload(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(rw, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds limit"})
			return
		}
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": `no files in field "files"`})
		return
	}

	docs := make([]domain.Document, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("open %s: %v", fh.Filename, err)})
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("read %s: %v", fh.Filename, err)})
			return
		}
		docs = append(docs, domain.Document{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Content:  content,
		})
	}

	namespace := r.FormValue("namespace")
	report, err := a.kb.IngestInto(r.Context(), namespace, docs)
	if err != nil {
		a.logger.Error("upload ingestion failed", "documents", len(docs), "err", err)
		if report == nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusBadGateway, report)
		return
	}

	a.logger.Info("documents uploaded", "documents", len(docs), "written", report.Written, "namespace", report.Namespace)
	writeJSON(rw, http.StatusOK, report)
}

type searchResponse struct {
	Query     string         `json:"query"`
	Namespace string         `json:"namespace,omitempty"`
	Results   []domain.Match `json:"results"`
}

func (a *Admin) handleSearch(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	k := defaultSearchK
	if raw := q.Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchK {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("k must be between 1 and %d", maxSearchK)})
			return
		}
		k = n
	}

	matches, err := a.kb.Search(r.Context(), query, k, q.Get("namespace"))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, searchResponse{Query: query, Namespace: q.Get("namespace"), Results: matches})
}

func (a *Admin) handleHealth(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := map[string]any{
		"status":  "ok",
		"version": a.version,
		"time":    time.Now().Format(time.RFC3339),
	}
	if err := a.kb.Health(ctx); err != nil {
		status["status"] = "degraded"
		status["error"] = err.Error()
		writeJSON(rw, http.StatusServiceUnavailable, status)
		return
	}
	if stats, err := a.kb.Stats(ctx); err != nil {
		a.logger.Warn("namespace stats unavailable", "err", err)
	} else {
		status["namespaces"] = stats
	}
	writeJSON(rw, http.StatusOK, status)
}

func (a *Admin) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	if a.cfg == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "config not loaded"})
		return
	}
	writeJSON(rw, http.StatusOK, config.Sanitize(a.cfg))
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(v)
}
