// Package engine defines the record store contract and its embedded and relational implementations.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

var (
	// ErrNotFound is the root of every lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrRecordNotFound is returned when no record has the requested email.
	ErrRecordNotFound = fmt.Errorf("record %w", ErrNotFound)
	// ErrUserNotFound is returned when a requested user does not exist.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
)

// WriteError reports a failed record update. The record is left unchanged.
type WriteError struct {
	Email string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("update record %s: %v", e.Email, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// RecordReader fetches enrichment records.
type RecordReader interface {
	FetchRecords(ctx context.Context, filter schema.Filter) ([]schema.Record, error)
}

// RecordWriter applies operator corrections. Only the fields carried by the
// patch are written; a failure returns a *WriteError and writes nothing.
type RecordWriter interface {
	UpdateRecord(ctx context.Context, email string, patch schema.Patch) error
}

// Directory reads record owners.
type Directory interface {
	FetchUsers(ctx context.Context) ([]schema.User, error)
	FetchUser(ctx context.Context, userID string) (schema.User, error)
	FetchConnections(ctx context.Context, filter schema.ConnectionFilter) ([]schema.Connection, error)
}

// ActionLog is the append-only audit trail of corrections.
type ActionLog interface {
	AppendActionLog(ctx context.Context, entry schema.ActionLogEntry) error
	// ListActionLogs returns up to limit entries, newest first. A limit <= 0 returns all.
	ListActionLogs(ctx context.Context, limit int) ([]schema.ActionLogEntry, error)
}

// Store is the full data-access contract. The embedded engines and the remote
// SDK client all implement it.
type Store interface {
	RecordReader
	RecordWriter
	Directory
	ActionLog
}

// Importer bulk-loads data, replacing rows with the same key. It is used by
// migrations and seeding, never by the workflows.
type Importer interface {
	PutRecords(ctx context.Context, records []schema.Record) error
	PutUsers(ctx context.Context, users []schema.User) error
	PutConnections(ctx context.Context, conns []schema.Connection) error
	AppendActionLog(ctx context.Context, entry schema.ActionLogEntry) error
}
