package engine

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// Snapshot file names inside the data directory.
const (
	RecordsFile     = "records.json"
	UsersFile       = "users.json"
	ConnectionsFile = "connections.json"
	ActionLogsFile  = "action_logs.json"
)

// Snapshot is the complete content of an embedded store.
type Snapshot struct {
	Records     []schema.Record         `json:"records"`
	Users       []schema.User           `json:"users"`
	Connections []schema.Connection     `json:"connections"`
	ActionLogs  []schema.ActionLogEntry `json:"action_logs"`
}

// Persistence handles the disk I/O for the MemStore.
type Persistence struct {
	DataDir string
	logger  *zap.Logger
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string, logger *zap.Logger) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persistence{DataDir: dir, logger: logger}, nil
}

// Save writes v to name inside the data directory atomically.
func (p *Persistence) Save(name string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filePath := filepath.Join(p.DataDir, name)
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return err
	}

	// Rename replaces the file in one step: a crash leaves the old or the new
	// file, never a torn one.
	return os.Rename(tempPath, filePath)
}

// LoadAll reads every snapshot file found in the data directory. Missing
// files are empty; unreadable ones are skipped with a warning.
func (p *Persistence) LoadAll() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := &Snapshot{}
	files := []struct {
		name   string
		target any
	}{
		{RecordsFile, &snap.Records},
		{UsersFile, &snap.Users},
		{ConnectionsFile, &snap.Connections},
		{ActionLogsFile, &snap.ActionLogs},
	}

	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(p.DataDir, f.name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			p.logger.Warn("could not read snapshot file", zap.String("file", f.name), zap.Error(err))
			continue
		}
		if err := json.Unmarshal(content, f.target); err != nil {
			p.logger.Warn("could not unmarshal snapshot file", zap.String("file", f.name), zap.Error(err))
			continue
		}
	}
	return snap, nil
}

// ReadSnapshot loads a single-file JSON snapshot, the export format of the pipeline.
func ReadSnapshot(path string) (*Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
