// Package journal records tool invocations for auditing. Rows carry
// the credential provenance label and outcome, never credential values.
// Journal failures are the caller's to log; they must never fail the
// call being journaled.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/agent-gateway/internal/models"
	"github.com/narvanalabs/agent-gateway/pkg/config"
)

// Store is the invocation journal.
type Store interface {
	// Record inserts one invocation. Empty ID and zero CreatedAt are
	// filled in.
	Record(ctx context.Context, inv *models.Invocation) error
	// ListRecent returns the most recent invocations, newest first.
	ListRecent(ctx context.Context, limit int) ([]*models.Invocation, error)
	// Purge deletes invocations older than the cutoff and reports how
	// many rows went away.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// defaultListLimit bounds ListRecent when the caller passes no limit.
const defaultListLimit = 50

// Open creates the journal store selected by cfg. The "none" driver
// returns a nil Store; callers treat a nil journal as journaling
// disabled.
func Open(cfg config.JournalConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case config.JournalDriverSQLite:
		return OpenSQLite(cfg.Path, logger)
	case config.JournalDriverPostgres:
		return OpenPostgres(cfg.DSN, logger)
	case config.JournalDriverNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}
