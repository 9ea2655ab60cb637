package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/narvanalabs/agent-gateway/internal/models"
)

var _ Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS invocations (
	id          TEXT PRIMARY KEY,
	tool        TEXT NOT NULL,
	task_id     TEXT NOT NULL DEFAULT '',
	provenance  TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
)`

const postgresIndex = `
CREATE INDEX IF NOT EXISTS idx_invocations_created_at
ON invocations(created_at)`

// PostgresStore implements Store on PostgreSQL, for deployments where
// several gateway replicas share one journal.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenPostgres connects to the journal database and creates the schema.
func OpenPostgres(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging journal database: %w", err)
	}

	for _, stmt := range []string{postgresSchema, postgresIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating journal schema: %w", err)
		}
	}

	logger.Info("journal opened", "driver", "postgres")
	return &PostgresStore{db: db, logger: logger}, nil
}

// Record inserts one invocation.
func (s *PostgresStore) Record(ctx context.Context, inv *models.Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO invocations (id, tool, task_id, provenance, outcome, detail, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		inv.ID,
		inv.Tool,
		inv.TaskID,
		inv.Provenance,
		inv.Outcome,
		inv.Detail,
		inv.Duration,
		inv.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}
	return nil
}

// ListRecent returns the most recent invocations, newest first.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*models.Invocation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	const query = `
		SELECT id, tool, task_id, provenance, outcome, detail, duration_ms, created_at
		FROM invocations
		ORDER BY created_at DESC, id
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer rows.Close()

	var list []*models.Invocation
	for rows.Next() {
		inv := &models.Invocation{}
		if err := rows.Scan(
			&inv.ID,
			&inv.Tool,
			&inv.TaskID,
			&inv.Provenance,
			&inv.Outcome,
			&inv.Detail,
			&inv.Duration,
			&inv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		list = append(list, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocations: %w", err)
	}
	return list, nil
}

// Purge deletes invocations older than the cutoff.
func (s *PostgresStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `DELETE FROM invocations WHERE created_at < $1`

	res, err := s.db.ExecContext(ctx, query, olderThan.UTC())
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
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
