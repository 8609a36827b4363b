// Package inbox watches a directory and feeds new documents to ingestion.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/extract"
)

const defaultDebounce = 500 * time.Millisecond

// Ingester is the ingestion entry point the watcher calls.
type Ingester interface {
	IngestInto(ctx context.Context, namespace string, docs []domain.Document) (*domain.IngestReport, error)
}

type stamp struct {
	size    int64
	modTime time.Time
}

// Watcher ingests each supported file that appears in (or is rewritten in)
// a directory. Bursts of events for one file are coalesced, and a file whose
// size and modification time are unchanged is not ingested again.
type Watcher struct {
	dir       string
	ingester  Ingester
	namespace string
	debounce  time.Duration
	scan      bool
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]stamp
}

type WatcherConfig struct {
	Dir          string
	Ingester     Ingester
	Namespace    string
	Debounce     time.Duration // default: 500ms
	ScanExisting bool          // ingest files already present at start
	Logger       *slog.Logger
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		dir:       cfg.Dir,
		ingester:  cfg.Ingester,
		namespace: cfg.Namespace,
		debounce:  cfg.Debounce,
		scan:      cfg.ScanExisting,
		logger:    cfg.Logger,
		pending:   make(map[string]*time.Timer),
		seen:      make(map[string]stamp),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("inbox: %s is not a directory", w.dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}

	ready := make(chan string, 64)
	defer w.stopTimers()

	if w.scan {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return fmt.Errorf("inbox: read %s: %w", w.dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				w.schedule(ctx, filepath.Join(w.dir, e.Name()), ready)
			}
		}
	}

	w.logger.Info("inbox watching", "dir", w.dir, "namespace", w.namespace)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopping")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.schedule(ctx, ev.Name, ready)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", "err", err)
		case path := <-ready:
			w.ingest(ctx, path)
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	if !Eligible(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// ingest reads path and ingests it unless it was already ingested unchanged.
// It reports whether an ingestion was attempted.
func (w *Watcher) ingest(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	st := stamp{size: info.Size(), modTime: info.ModTime()}

	w.mu.Lock()
	prev, ok := w.seen[path]
	w.mu.Unlock()
	if ok && prev == st {
		w.logger.Debug("inbox file unchanged, skipping", "path", path)
		return false
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("inbox read failed", "path", path, "err", err)
		return false
	}

	report, err := w.ingester.IngestInto(ctx, w.namespace, []domain.Document{{
		Name:    filepath.Base(path),
		Content: content,
	}})
	if err != nil {
		w.logger.Error("inbox ingestion failed", "path", path, "err", err)
		return true
	}

	w.mu.Lock()
	w.seen[path] = st
	w.mu.Unlock()

	doc := report.Documents[0]
	w.logger.Info("inbox file ingested", "path", path, "status", doc.Status, "chunks", doc.ChunkCount, "detail", doc.Detail)
	return true
}

// Eligible reports whether path names a visible file of a supported format.
func Eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	return extract.DetectFormat(base, "") != domain.FormatUnknown
}
