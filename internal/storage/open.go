package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"signupbot/internal/signup"
	logx "signupbot/pkg/logx"
)

// Store is the persistence API used by the poller and notifier.
type Store interface {
	SaveSnapshot(ctx context.Context, s signup.Snapshot) error
	// LoadSnapshot returns ok=false when nothing was saved yet.
	LoadSnapshot(ctx context.Context) (s signup.Snapshot, ok bool, err error)

	AppendDelivery(ctx context.Context, r DeliveryRecord) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
