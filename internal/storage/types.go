package storage

import (
	"context"
	"errors"
	"time"

	"autoposter/internal/destination"
	"autoposter/internal/eventlog"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": document file + events journal
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the app.
type Store interface {
	// Load returns the saved document. A missing document is not an error;
	// it yields an empty Document.
	Load(ctx context.Context) (destination.Document, error)
	Save(ctx context.Context, doc destination.Document) error
	AppendEvent(ctx context.Context, r eventlog.Record) error
	// RecentEvents returns up to n journaled records, oldest first.
	RecentEvents(ctx context.Context, n int) ([]eventlog.Record, error)
	Close() error
}
