package sdk

import (
	"github.com/celerix-dev/celerix-enrich/internal/engine"
)

// Re-exported so callers outside the module only import this package.
type (
	// RecordReader fetches enrichment records.
	RecordReader = engine.RecordReader
	// RecordWriter applies operator corrections.
	RecordWriter = engine.RecordWriter
	// Directory reads record owners.
	Directory = engine.Directory
	// ActionLog is the append-only audit trail.
	ActionLog = engine.ActionLog
	// Store is the full data-access contract.
	Store = engine.Store
	// Importer bulk-loads data.
	Importer = engine.Importer
)

// Backend is a store opened by New. Close flushes pending writes and
// releases connections.
type Backend interface {
	Store
	Importer
	Close() error
}
