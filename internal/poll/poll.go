// Package poll watches upstream tasks until they settle. Polling backs
// off exponentially while nothing changes and snaps back to the base
// interval on every status transition.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/narvanalabs/agent-gateway/internal/models"
)

// ErrTimeout is returned when the watcher's own deadline expires before
// the task settles. The last observed task accompanies it.
var ErrTimeout = errors.New("timed out waiting for task")

// Fetch looks up the current state of the watched task.
type Fetch func(ctx context.Context) (*models.Task, error)

// Settled stops waiting when the caller has something to act on: the
// task finished or the agent is blocked on a reply.
func Settled(t *models.Task) bool {
	return t.Status.IsTerminal() || t.Status == models.TaskStatusAwaitingInput
}

// Terminal stops only on final statuses. Event streams use this so
// subscribers see the awaiting_input transition and keep receiving.
func Terminal(t *models.Task) bool {
	return t.Status.IsTerminal()
}

// Config holds watcher timing.
type Config struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	Timeout     time.Duration
}

// Watcher polls tasks with exponential backoff.
type Watcher struct {
	interval    time.Duration
	maxInterval time.Duration
	multiplier  float64
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a watcher. Zero config fields get working defaults.
func New(cfg Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 15 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 1.5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Watcher{
		interval:    cfg.Interval,
		maxInterval: cfg.MaxInterval,
		multiplier:  cfg.Multiplier,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Wait polls fetch until done reports true, the watcher times out, or
// ctx is cancelled. onChange, when non-nil, fires for the first
// observation and every status transition after it. On timeout the last
// observed task is returned together with ErrTimeout.
func (w *Watcher) Wait(ctx context.Context, fetch Fetch, done func(*models.Task) bool, onChange func(*models.Task)) (*models.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	interval := w.interval
	var last *models.Task

	for {
		task, err := fetch(ctx)
		if err != nil {
			return last, err
		}

		if last == nil || task.Status != last.Status {
			if last != nil {
				w.logger.Debug("task status changed",
					"task_id", task.ID,
					"from", last.Status,
					"to", task.Status,
				)
			}
			if onChange != nil {
				onChange(task)
			}
			interval = w.interval
		} else {
			interval = time.Duration(float64(interval) * w.multiplier)
			if interval > w.maxInterval {
				interval = w.maxInterval
			}
		}
		last = task

		if done(task) {
			return task, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return last, ErrTimeout
			}
			return last, ctx.Err()
		case <-time.After(interval):
		}
	}
}
