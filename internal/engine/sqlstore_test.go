package engine

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := OpenSQL("sqlite", filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	s := NewSQLStore(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

func TestSQLStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	snap := testSnapshot()
	snap.Records[0].CreatedOn = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	snap.Records[1].CreatedOn = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap.Records[0].SchoolsAttended = schema.ListOf("Oxford")
	require.NoError(t, s.PutRecords(ctx, snap.Records))
	require.NoError(t, s.PutUsers(ctx, snap.Users))
	require.NoError(t, s.PutConnections(ctx, snap.Connections))

	records, err := s.FetchRecords(ctx, schema.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	// clara has a zero created_on and sorts first.
	assert.Equal(t, "clara@example.com", records[0].Email)
	assert.Equal(t, "rory@example.com", records[1].Email)
	assert.Equal(t, "amy@example.com", records[2].Email)
	assert.Equal(t, schema.CollectionList, records[2].SchoolsAttended.Kind)
	assert.Equal(t, schema.CollectionNull, records[1].SchoolsAttended.Kind)

	tag := "b1"
	records, err = s.FetchRecords(ctx, schema.Filter{BatchTag: &tag, Statuses: []string{schema.StatusCompleted}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].ProfileID)

	conns, err := s.FetchConnections(ctx, schema.ConnectionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	_, err = s.FetchUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSQLStore_UpdateRecord(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.PutRecords(ctx, testSnapshot().Records))

	require.NoError(t, s.UpdateRecord(ctx, "amy@example.com", schema.Patch{City: ptr("Paris"), Status: ptr("not_resolved_yet")}))

	records, err := s.FetchRecords(ctx, schema.Filter{Emails: []string{"amy@example.com"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Paris", records[0].City)
	assert.Equal(t, "not_resolved_yet", records[0].Status)
	assert.Equal(t, "Amy", records[0].Firstname)

	err = s.UpdateRecord(ctx, "nobody@example.com", schema.Patch{City: ptr("Paris")})
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLStore_ActionLogs(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.AppendActionLog(ctx, schema.ActionLogEntry{UserName: "a", ActionType: schema.ActionTriageFix, CreatedAt: time.Unix(100, 0).UTC()}))
	require.NoError(t, s.AppendActionLog(ctx, schema.ActionLogEntry{UserName: "b", ActionType: schema.ActionOpsValidate, CreatedAt: time.Unix(200, 0).UTC()}))

	logs, err := s.ListActionLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].UserName)
	assert.NotEmpty(t, logs[0].ID)

	logs, err = s.ListActionLogs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	resent := logs[0]
	resent.Details = "second copy"
	require.NoError(t, s.AppendActionLog(ctx, resent))
	logs, err = s.ListActionLogs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2, "an entry with a known id is stored once")
}

func TestSQLStore_MigrateFromMemory(t *testing.T) {
	ctx := context.Background()
	src := NewMemStore(testSnapshot(), nil, nil)
	dst := newSQLiteStore(t)

	require.NoError(t, Migrate(ctx, src, dst))

	users, err := dst.FetchUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewSQLStore(db), mock
}

func TestSQLStore_UpdateFailureIsWriteError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "enrichment_records" SET`)).
		WillReturnError(errors.New("connection reset"))

	err := s.UpdateRecord(context.Background(), "amy@example.com", schema.Patch{City: ptr("Paris")})

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "amy@example.com", werr.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "enrichment_records" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateRecord(context.Background(), "ghost@example.com", schema.Patch{Bio: ptr("hi")})

	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL("oracle", "")
	assert.Error(t, err)

	_, err = OpenSQL("postgres", "")
	assert.Error(t, err)
}
