package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

func ptr(s string) *string { return &s }

func testSnapshot() *Snapshot {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &Snapshot{
		Records: []schema.Record{
			{ProfileID: "p1", Email: "amy@example.com", Firstname: "Amy", Status: schema.StatusCompleted, BatchTag: "b1"},
			{ProfileID: "p2", Email: "rory@example.com", Firstname: "Rory", Status: schema.StatusFailed},
			{ProfileID: "p3", Email: "clara@example.com", Status: schema.StatusProcessing, BatchTag: "b1"},
		},
		Users: []schema.User{{UserID: "u1", FullName: "River Song", CreatedAt: at}},
		Connections: []schema.Connection{
			{ConnectionID: "c1", UserID: "u1", ProfileID: "p1", CreatedAt: at},
			{ConnectionID: "c2", UserID: "u1", ProfileID: "p2", CreatedAt: at},
			{ConnectionID: "c3", UserID: "u2", ProfileID: "p3", CreatedAt: at},
		},
	}
}

func TestMemStore_FetchAndUpdate(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(testSnapshot(), nil, nil)

	records, err := ms.FetchRecords(ctx, schema.Filter{Statuses: []string{schema.StatusCompleted, schema.StatusFailed}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "amy@example.com", records[0].Email)
	assert.Equal(t, "rory@example.com", records[1].Email)

	err = ms.UpdateRecord(ctx, "amy@example.com", schema.Patch{City: ptr("Paris")})
	require.NoError(t, err)

	records, err = ms.FetchRecords(ctx, schema.Filter{Emails: []string{"amy@example.com"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Paris", records[0].City)
	assert.Equal(t, "Amy", records[0].Firstname)
	assert.False(t, records[0].UpdatedAt.IsZero())
}

func TestMemStore_UpdateUnknownEmail(t *testing.T) {
	ms := NewMemStore(testSnapshot(), nil, nil)

	err := ms.UpdateRecord(context.Background(), "nobody@example.com", schema.Patch{City: ptr("Paris")})

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "nobody@example.com", werr.Email)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_UsersAndConnections(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(testSnapshot(), nil, nil)

	u, err := ms.FetchUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "River Song", u.FullName)

	_, err = ms.FetchUser(ctx, "u9")
	assert.ErrorIs(t, err, ErrUserNotFound)

	conns, err := ms.FetchConnections(ctx, schema.ConnectionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	all, err := ms.FetchConnections(ctx, schema.ConnectionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemStore_ActionLogNewestFirst(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(nil, nil, nil)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, ms.AppendActionLog(ctx, schema.ActionLogEntry{UserName: "a", ActionType: schema.ActionTriageFix, CreatedAt: base}))
	require.NoError(t, ms.AppendActionLog(ctx, schema.ActionLogEntry{UserName: "b", ActionType: schema.ActionTriageFix, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, ms.AppendActionLog(ctx, schema.ActionLogEntry{UserName: "c", ActionType: schema.ActionTriageFix, CreatedAt: base.Add(time.Minute)}))

	logs, err := ms.ListActionLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{logs[0].UserName, logs[1].UserName, logs[2].UserName})
	assert.NotEmpty(t, logs[0].ID)

	logs, err = ms.ListActionLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "c", logs[0].UserName)
}

func TestMemStore_ActionLogIgnoresKnownID(t *testing.T) {
	ctx := context.Background()
	entry := schema.ActionLogEntry{ID: "log-1", UserName: "a", ActionType: schema.ActionTriageFix}
	ms := NewMemStore(&Snapshot{ActionLogs: []schema.ActionLogEntry{entry}}, nil, nil)

	require.NoError(t, ms.AppendActionLog(ctx, entry))
	require.NoError(t, ms.AppendActionLog(ctx, schema.ActionLogEntry{ID: "log-2", UserName: "b"}))
	require.NoError(t, ms.AppendActionLog(ctx, schema.ActionLogEntry{ID: "log-2", UserName: "b"}))

	logs, err := ms.ListActionLogs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestPersistence(t *testing.T) {
	tmpDir := t.TempDir()

	p, err := NewPersistence(tmpDir, nil)
	require.NoError(t, err)

	users := []schema.User{{UserID: "u1", FullName: "River Song"}}
	require.NoError(t, p.Save(UsersFile, users))

	_, err = os.Stat(filepath.Join(tmpDir, UsersFile))
	require.NoError(t, err, "users file was not created")

	snap, err := p.LoadAll()
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "River Song", snap.Users[0].FullName)
	assert.Empty(t, snap.Records)
}

func TestPersistence_SkipsCorruptFiles(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, RecordsFile), []byte("{broken"), 0644))

	p, err := NewPersistence(tmpDir, nil)
	require.NoError(t, err)

	snap, err := p.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
}

func TestMemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	p, err := NewPersistence(tmpDir, nil)
	require.NoError(t, err)
	ms := NewMemStore(nil, p, nil)

	require.NoError(t, ms.PutRecords(ctx, testSnapshot().Records))
	require.NoError(t, ms.UpdateRecord(ctx, "rory@example.com", schema.Patch{LinkedinURL: ptr("https://linkedin.com/in/rory")}))
	require.NoError(t, ms.AppendActionLog(ctx, schema.ActionLogEntry{UserName: "op", ActionType: schema.ActionOpsTriggerLaunched}))

	ms.Wait() // Wait for background persistence

	snap, err := p.LoadAll()
	require.NoError(t, err)
	ms2 := NewMemStore(snap, p, nil)

	records, err := ms2.FetchRecords(ctx, schema.Filter{Emails: []string{"rory@example.com"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://linkedin.com/in/rory", records[0].LinkedinURL)

	logs, err := ms2.ListActionLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestMemStore_FailedPersistRollsBack(t *testing.T) {
	ctx := context.Background()
	tmpDir := filepath.Join(t.TempDir(), "data")

	p, err := NewPersistence(tmpDir, nil)
	require.NoError(t, err)
	ms := NewMemStore(testSnapshot(), p, nil)

	// Pull the directory away so the snapshot write fails.
	require.NoError(t, os.RemoveAll(tmpDir))

	err = ms.UpdateRecord(ctx, "amy@example.com", schema.Patch{City: ptr("Paris")})
	var werr *WriteError
	require.ErrorAs(t, err, &werr)

	records, err := ms.FetchRecords(ctx, schema.Filter{Emails: []string{"amy@example.com"}})
	require.NoError(t, err)
	assert.Empty(t, records[0].City)
}

func TestMemStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(testSnapshot(), nil, nil)
	const (
		numGoroutines = 10
		numOps        = 100
	)
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				city := fmt.Sprintf("city-%d-%d", id, j)
				_ = ms.UpdateRecord(ctx, "amy@example.com", schema.Patch{City: &city})
				_, _ = ms.FetchRecords(ctx, schema.Filter{})
				_ = ms.AppendActionLog(ctx, schema.ActionLogEntry{UserName: "op"})
			}
		}(i)
	}
	wg.Wait()

	logs, err := ms.ListActionLogs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, logs, numGoroutines*numOps)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	src := NewMemStore(testSnapshot(), nil, nil)
	require.NoError(t, src.AppendActionLog(ctx, schema.ActionLogEntry{UserName: "op", ActionType: schema.ActionTriageFix, CreatedAt: time.Unix(100, 0)}))
	require.NoError(t, src.AppendActionLog(ctx, schema.ActionLogEntry{UserName: "op", ActionType: schema.ActionOpsValidate, CreatedAt: time.Unix(200, 0)}))

	dst := NewMemStore(nil, nil, nil)
	require.NoError(t, Migrate(ctx, src, dst))

	records, _ := dst.FetchRecords(ctx, schema.Filter{})
	assert.Len(t, records, 3)
	users, _ := dst.FetchUsers(ctx)
	assert.Len(t, users, 1)
	conns, _ := dst.FetchConnections(ctx, schema.ConnectionFilter{})
	assert.Len(t, conns, 3)

	logs, _ := dst.ListActionLogs(ctx, 0)
	require.Len(t, logs, 2)
	assert.Equal(t, schema.ActionOpsValidate, logs[0].ActionType)

	require.NoError(t, Migrate(ctx, src, dst), "migrating twice is harmless")
	logs, _ = dst.ListActionLogs(ctx, 0)
	assert.Len(t, logs, 2)
}
