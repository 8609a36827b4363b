package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"

	_ "modernc.org/sqlite"
)

var _ domain.VectorIndex = (*SQLite)(nil)

// SQLite persists records in a single SQLite file and ranks them in process.
type SQLite struct {
	db         *sql.DB
	dimensions int
	logger     *slog.Logger
}

type SQLiteConfig struct {
	Path       string
	Dimensions int
	Logger     *slog.Logger
}

// NewSQLite opens (creating if needed) the index database at cfg.Path.
// The dimension is stored on first open; reopening with a different one
// fails with domain.ErrDimensionMismatch.
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.New("invalid dimension")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db, dimensions: cfg.Dimensions, logger: cfg.Logger}

	if err := runMigrations(db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	if err := s.checkMeta(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) checkMeta() error {
	var stored string
	err := s.db.QueryRow(`SELECT value FROM index_meta WHERE key = 'dimensions'`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec(
			`INSERT INTO index_meta (key, value) VALUES ('dimensions', ?), ('metric', 'cosine')`,
			strconv.Itoa(s.dimensions),
		)
		return err
	}
	if err != nil {
		return fmt.Errorf("read index metadata: %w", err)
	}
	if stored != strconv.Itoa(s.dimensions) {
		return fmt.Errorf("%w: index was created with %s dimensions, embedder produces %d",
			domain.ErrDimensionMismatch, stored, s.dimensions)
	}
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, namespace string, entries []domain.Entry) (domain.UpsertResult, error) {
	if err := checkNamespace(namespace); err != nil {
		return domain.UpsertResult{}, err
	}
	records, skipped := prepare(namespace, entries, s.dimensions)
	if len(records) == 0 {
		return domain.UpsertResult{Skipped: skipped}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO namespaces (name) VALUES (?)`, namespace); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("provision namespace %s: %w", namespace, err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM records WHERE namespace = ?`, namespace,
	).Scan(&seq); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("read sequence: %w", err)
	}

	written := 0
	for _, r := range records {
		seq++
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO records (namespace, id, text, vector, seq) VALUES (?, ?, ?, ?, ?)`,
			namespace, r.ID, r.Text, vectorToBytes(r.Vector), seq,
		)
		if err != nil {
			s.logger.Warn("record write failed", "namespace", namespace, "id", r.ID, "err", err)
			skipped = append(skipped, domain.SkippedRecord{Position: r.pos, Reason: err.Error()})
			continue
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	return domain.UpsertResult{Written: written, Skipped: skipped}, nil
}

func (s *SQLite) Query(ctx context.Context, namespace string, vector domain.Vector, topK int) ([]domain.Match, error) {
	if err := checkQuery(namespace, vector, topK, s.dimensions); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, vector FROM records WHERE namespace = ? ORDER BY seq`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var (
			id, text string
			blob     []byte
		)
		if err := rows.Scan(&id, &text, &blob); err != nil {
			return nil, err
		}
		vec := bytesToVector(blob)
		if len(vec) != s.dimensions {
			s.logger.Warn("stored record has wrong dimension", "namespace", namespace, "id", id)
			continue
		}
		matches = append(matches, domain.Match{ID: id, Text: text, Score: Cosine(vector, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if matches == nil {
		return []domain.Match{}, nil
	}
	return rank(matches, topK), nil
}

func (s *SQLite) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE namespace = ?`, namespace).Scan(&n)
	return n, err
}

// Namespaces lists provisioned namespaces in creation order.
func (s *SQLite) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM namespaces ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLite) Dimensions() int { return s.dimensions }

func (s *SQLite) Close() error { return s.db.Close() }

func vectorToBytes(v domain.Vector) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(b []byte) domain.Vector {
	v := make(domain.Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
