package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/narvanalabs/agent-gateway/internal/models"
)

var _ Store = (*SQLiteStore)(nil)

// sqliteTimeFormat is fixed-width UTC so lexicographic order on the
// stored text equals chronological order.
const sqliteTimeFormat = "2006-01-02 15:04:05.000000000"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS invocations (
	id          TEXT PRIMARY KEY,
	tool        TEXT NOT NULL,
	task_id     TEXT NOT NULL DEFAULT '',
	provenance  TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
)`

const sqliteIndex = `
CREATE INDEX IF NOT EXISTS idx_invocations_created_at
ON invocations(created_at)`

// SQLiteStore implements Store on an embedded SQLite database. The
// writer connection is limited to a single connection to avoid
// "database is locked" errors under WAL; reads go through a small pool.
type SQLiteStore struct {
	writer *sql.DB
	reader *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (and if needed creates) the journal database at
// path, creating parent directories and the schema.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		path,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("pinging journal writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening journal reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("pinging journal reader: %w", err)
	}

	for _, stmt := range []string{sqliteSchema, sqliteIndex} {
		if _, err := writer.Exec(stmt); err != nil {
			reader.Close()
			writer.Close()
			return nil, fmt.Errorf("creating journal schema: %w", err)
		}
	}

	logger.Info("journal opened", "driver", "sqlite", "path", path)
	return &SQLiteStore{writer: writer, reader: reader, logger: logger}, nil
}

// Record inserts one invocation.
func (s *SQLiteStore) Record(ctx context.Context, inv *models.Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO invocations (id, tool, task_id, provenance, outcome, detail, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.writer.ExecContext(ctx, query,
		inv.ID,
		inv.Tool,
		inv.TaskID,
		inv.Provenance,
		inv.Outcome,
		inv.Detail,
		inv.Duration,
		inv.CreatedAt.UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}
	return nil
}

// ListRecent returns the most recent invocations, newest first.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*models.Invocation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	const query = `
		SELECT id, tool, task_id, provenance, outcome, detail, duration_ms, created_at
		FROM invocations
		ORDER BY created_at DESC, id
		LIMIT ?`

	rows, err := s.reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer rows.Close()

	var list []*models.Invocation
	for rows.Next() {
		inv := &models.Invocation{}
		var createdAt string
		if err := rows.Scan(
			&inv.ID,
			&inv.Tool,
			&inv.TaskID,
			&inv.Provenance,
			&inv.Outcome,
			&inv.Detail,
			&inv.Duration,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		inv.CreatedAt, err = time.Parse(sqliteTimeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing invocation timestamp: %w", err)
		}
		list = append(list, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocations: %w", err)
	}
	return list, nil
}

// Purge deletes invocations older than the cutoff.
func (s *SQLiteStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `DELETE FROM invocations WHERE created_at < ?`

	res, err := s.writer.ExecContext(ctx, query, olderThan.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return 0, fmt.Errorf("purging invocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged invocations: %w", err)
	}
	return n, nil
}

// Ping verifies the journal database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.reader.PingContext(ctx)
}

// Close closes both connections. Returns the first error encountered.
func (s *SQLiteStore) Close() error {
	var firstErr error
	if err := s.reader.Close(); err != nil {
		firstErr = fmt.Errorf("closing journal reader: %w", err)
	}
	if err := s.writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing journal writer: %w", err)
	}
	return firstErr
}
