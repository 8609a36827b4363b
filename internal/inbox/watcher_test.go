package inbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

type recordingIngester struct {
	mu    sync.Mutex
	names []string
	ns    string
}

func (r *recordingIngester) IngestInto(_ context.Context, ns string, docs []domain.Document) (*domain.IngestReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ns = ns
	rep := &domain.IngestReport{Namespace: ns}
	for _, d := range docs {
		r.names = append(r.names, d.Name)
		rep.Documents = append(rep.Documents, domain.DocumentReport{Name: d.Name, Status: domain.StatusProcessed})
	}
	return rep, nil
}

func (r *recordingIngester) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newTestWatcher(dir string, ing Ingester, scan bool) *Watcher {
	return NewWatcher(WatcherConfig{
		Dir:          dir,
		Ingester:     ing,
		Namespace:    "inbox",
		Debounce:     30 * time.Millisecond,
		ScanExisting: scan,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestEligible(t *testing.T) {
	tests := map[string]bool{
		"notes.txt":       true,
		"/a/b/report.PDF": true,
		"manual.docx":     true,
		"readme.md":       true,
		".hidden.txt":     false,
		"~$lock.docx":     false,
		"image.png":       false,
		"no-extension":    false,
	}
	for path, want := range tests {
		assert.Equal(t, want, Eligible(path), path)
	}
}

func TestIngest_OnceUntilChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))

	ing := &recordingIngester{}
	w := newTestWatcher(dir, ing, false)
	ctx := context.Background()

	assert.True(t, w.ingest(ctx, path))
	assert.False(t, w.ingest(ctx, path), "unchanged file is not ingested twice")

	require.NoError(t, os.WriteFile(path, []byte("second, longer"), 0o644))
	assert.True(t, w.ingest(ctx, path))

	assert.False(t, w.ingest(ctx, filepath.Join(dir, "missing.txt")))
	assert.Equal(t, []string{"a.txt", "a.txt"}, ing.calls())
	assert.Equal(t, "inbox", ing.ns)
}

func TestRun_IngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	w := newTestWatcher(dir, ing, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "facts.txt"), []byte("The sky is blue."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.png"), []byte{1, 2, 3}, 0o644))

	require.Eventually(t, func() bool { return len(ing.calls()) == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"facts.txt"}, ing.calls())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestRun_ScanExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.md"), []byte("# Old notes"), 0o644))

	ing := &recordingIngester{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = newTestWatcher(dir, ing, true).Run(ctx) }()

	require.Eventually(t, func() bool { return len(ing.calls()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "old.md", ing.calls()[0])
}

func TestRun_MissingDir(t *testing.T) {
	w := newTestWatcher(filepath.Join(t.TempDir(), "nope"), &recordingIngester{}, false)
	assert.Error(t, w.Run(context.Background()))
}
