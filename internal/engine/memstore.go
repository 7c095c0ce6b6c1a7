package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// MemStore is the embedded, thread-safe record store. Record updates are
// persisted synchronously so a failed disk write fails the update; action
// log appends are persisted in the background.
type MemStore struct {
	mu      sync.RWMutex
	records []schema.Record
	index   map[string]int // email -> position in records
	users   []schema.User
	conns   []schema.Connection
	logs    []schema.ActionLogEntry
	logIDs  mapset.Set[string]

	persister *Persistence
	logger    *zap.Logger
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and a persister; both may be nil.
func NewMemStore(initial *Snapshot, p *Persistence, logger *zap.Logger) *MemStore {
	if initial == nil {
		initial = &Snapshot{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MemStore{
		index:     make(map[string]int),
		logIDs:    mapset.NewThreadUnsafeSet[string](),
		persister: p,
		logger:    logger,
		now:       time.Now,
	}
	m.putRecords(initial.Records)
	m.users = append(m.users, initial.Users...)
	m.conns = append(m.conns, initial.Connections...)
	m.logs = append(m.logs, initial.ActionLogs...)
	for _, e := range initial.ActionLogs {
		m.logIDs.Add(e.ID)
	}
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// --- Store implementation ---

func (m *MemStore) FetchRecords(_ context.Context, filter schema.Filter) ([]schema.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]schema.Record, 0, len(m.records))
	for _, r := range m.records {
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemStore) UpdateRecord(_ context.Context, email string, patch schema.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.index[email]
	if !ok {
		return &WriteError{Email: email, Err: ErrRecordNotFound}
	}
	if patch.IsEmpty() {
		return nil
	}

	previous := m.records[pos]
	updated := previous
	patch.Apply(&updated)
	updated.UpdatedAt = m.now().UTC()
	m.records[pos] = updated

	if m.persister != nil {
		if err := m.persister.Save(RecordsFile, m.records); err != nil {
			m.records[pos] = previous
			return &WriteError{Email: email, Err: err}
		}
	}
	return nil
}

func (m *MemStore) FetchUsers(_ context.Context) ([]schema.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]schema.User(nil), m.users...), nil
}

func (m *MemStore) FetchUser(_ context.Context, userID string) (schema.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.UserID == userID {
			return u, nil
		}
	}
	return schema.User{}, ErrUserNotFound
}

func (m *MemStore) FetchConnections(_ context.Context, filter schema.ConnectionFilter) ([]schema.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []schema.Connection
	for _, c := range m.conns {
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemStore) AppendActionLog(_ context.Context, entry schema.ActionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now().UTC()
	}

	m.mu.Lock()
	// Entries are keyed by ID; a resent entry is already in the log.
	if !m.logIDs.Add(entry.ID) {
		m.mu.Unlock()
		return nil
	}
	m.logs = append(m.logs, entry)
	snapshot := append([]schema.ActionLogEntry(nil), m.logs...)
	m.mu.Unlock()

	// Persist in background
	if m.persister != nil {
		m.wg.Add(1)
		go func(logs []schema.ActionLogEntry) {
			defer m.wg.Done()
			if err := m.persister.Save(ActionLogsFile, logs); err != nil {
				m.logger.Error("persist action log", zap.Error(err))
			}
		}(snapshot)
	}
	return nil
}

func (m *MemStore) ListActionLogs(_ context.Context, limit int) ([]schema.ActionLogEntry, error) {
	m.mu.RLock()
	out := make([]schema.ActionLogEntry, len(m.logs))
	// Reverse first so equal timestamps list the latest append first.
	for i, l := range m.logs {
		out[len(m.logs)-1-i] = l
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Importer implementation ---

func (m *MemStore) PutRecords(_ context.Context, records []schema.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putRecords(records)
	return m.persist(RecordsFile, m.records)
}

func (m *MemStore) PutUsers(_ context.Context, users []schema.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range users {
		replaced := false
		for i := range m.users {
			if m.users[i].UserID == u.UserID {
				m.users[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			m.users = append(m.users, u)
		}
	}
	return m.persist(UsersFile, m.users)
}

func (m *MemStore) PutConnections(_ context.Context, conns []schema.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range conns {
		if c.ConnectionID == "" {
			c.ConnectionID = uuid.NewString()
		}
		replaced := false
		for i := range m.conns {
			if m.conns[i].ConnectionID == c.ConnectionID {
				m.conns[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			m.conns = append(m.conns, c)
		}
	}
	return m.persist(ConnectionsFile, m.conns)
}

// putRecords upserts by email. It MUST be called while holding m.mu.Lock.
func (m *MemStore) putRecords(records []schema.Record) {
	for _, r := range records {
		if pos, ok := m.index[r.Email]; ok {
			m.records[pos] = r
			continue
		}
		m.index[r.Email] = len(m.records)
		m.records = append(m.records, r)
	}
}

// persist MUST be called while holding m.mu.Lock.
func (m *MemStore) persist(name string, v any) error {
	if m.persister == nil {
		return nil
	}
	return m.persister.Save(name, v)
}
