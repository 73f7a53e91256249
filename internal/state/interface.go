package state

import (
	"context"
	"io"
)

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// RunStore persists and lists finished runs.
type RunStore interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// Ledger is the full run-history backend.
type Ledger interface {
	io.Closer
	Migrator
	RunStore
}

var (
	_ Ledger   = (*DB)(nil)
	_ RunStore = (*DB)(nil)
)
