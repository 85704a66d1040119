package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"actionwatch/internal/action"
	logx "actionwatch/pkg/logx"
)

// Store is the persistence API used by the service layer.
//
// GetOrCreateInstance is the only operation with a concurrency contract:
// it is an atomic insert-if-absent keyed by (schedule_id, window_index).
// Concurrent callers for the same window all observe the single winning
// row; losing an internal race is never surfaced as an error.
type Store interface {
	CreateDefinition(ctx context.Context, def action.Definition) error
	GetDefinition(ctx context.Context, id string) (action.Definition, error)
	UpdateDefinition(ctx context.Context, def action.Definition) error
	// DeleteDefinition cascades to the definition's instances.
	DeleteDefinition(ctx context.Context, id string) error
	ListDefinitions(ctx context.Context, q DefinitionQuery) ([]action.Definition, int, error)

	GetOrCreateInstance(ctx context.Context, scheduleID string, w action.Window) (action.Instance, error)
	GetInstance(ctx context.Context, id string) (action.Instance, error)
	// SetInstanceCompletion overwrites the completion fields. It does not
	// enforce the overwrite policy; that belongs to the service layer.
	SetInstanceCompletion(ctx context.Context, id string, completedAt time.Time, message string) (action.Instance, error)
	ListInstances(ctx context.Context, scheduleID string, q InstanceQuery) ([]action.Instance, int, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return newMemoryStore(cfg, log), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// opCtx derives the bounded per-operation context shared by all backends.
func opCtx(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.opTimeout())
}

// mapErr converts deadline/cancellation failures into the typed
// store-unavailable outcome; anything else passes through.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return action.ErrStoreUnavailable
	}
	return err
}
