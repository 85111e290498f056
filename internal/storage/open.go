package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kabinh07/team-bot/pkg/logx"
)

// Store is the persistence API used by the task service and the notifier.
type Store interface {
	// CreateTask persists a new pending task and returns it with its
	// store-assigned id. Fails with ErrEmptyDescription when the description
	// is blank after trimming.
	CreateTask(ctx context.Context, chatID int64, description, createdBy string) (Task, error)

	// ListTasks returns the chat's tasks in insertion order, optionally
	// restricted to tasks created within the given day window.
	ListTasks(ctx context.Context, chatID int64, window *DayWindow) ([]Task, error)

	// TaskByOrdinal resolves the 1-based position within the chat's full
	// listing at call time. The mapping is inherently racy against concurrent
	// inserts in the same chat: a task added between the user's /listtasks and
	// their /done can shift what N refers to. Callers show the task back to
	// the user so mistakes are visible.
	TaskByOrdinal(ctx context.Context, chatID int64, ordinal int) (Task, error)

	// CompleteTask flips the task to done and stamps the elapsed duration in a
	// single atomic update. Fails with ErrTaskDone when the row is no longer
	// pending.
	CompleteTask(ctx context.Context, t Task) (Task, error)

	// Dedup state for the notify pipeline.
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	PruneDedup(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
