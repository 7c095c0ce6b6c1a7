package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

const importBatchSize = 500

// OpenSQL opens a gorm connection for driver "sqlite" or "postgres".
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "enrich.db"
		}
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres store requires a dsn")
		}
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	return nil, fmt.Errorf("unsupported sql driver %q", driver)
}

// SQLStore implements Store on a relational database through gorm.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates the store tables.
func (s *SQLStore) AutoMigrate() error {
	return s.db.AutoMigrate(&schema.Record{}, &schema.User{}, &schema.Connection{}, &schema.ActionLogEntry{})
}

func (s *SQLStore) FetchRecords(ctx context.Context, filter schema.Filter) ([]schema.Record, error) {
	q := s.db.WithContext(ctx).Model(&schema.Record{})
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.BatchTag != nil {
		q = q.Where("batch_tag = ?", *filter.BatchTag)
	}
	if len(filter.ProfileIDs) > 0 {
		q = q.Where("profile_id IN ?", filter.ProfileIDs)
	}
	if len(filter.Emails) > 0 {
		q = q.Where("email IN ?", filter.Emails)
	}

	var records []schema.Record
	if err := q.Order("created_on ASC").Order("email ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	return records, nil
}

func (s *SQLStore) UpdateRecord(ctx context.Context, email string, patch schema.Patch) error {
	if patch.IsEmpty() {
		return nil
	}
	cols := patch.Columns()
	cols["updated_at"] = s.now().UTC()

	res := s.db.WithContext(ctx).Model(&schema.Record{}).Where("email = ?", email).Updates(cols)
	if res.Error != nil {
		return &WriteError{Email: email, Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &WriteError{Email: email, Err: ErrRecordNotFound}
	}
	return nil
}

func (s *SQLStore) FetchUsers(ctx context.Context) ([]schema.User, error) {
	var users []schema.User
	if err := s.db.WithContext(ctx).Order("user_id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	return users, nil
}

func (s *SQLStore) FetchUser(ctx context.Context, userID string) (schema.User, error) {
	var u schema.User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return schema.User{}, ErrUserNotFound
	}
	if err != nil {
		return schema.User{}, fmt.Errorf("fetch user %s: %w", userID, err)
	}
	return u, nil
}

func (s *SQLStore) FetchConnections(ctx context.Context, filter schema.ConnectionFilter) ([]schema.Connection, error) {
	q := s.db.WithContext(ctx).Model(&schema.Connection{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	var conns []schema.Connection
	if err := q.Order("created_at ASC").Order("connection_id ASC").Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("fetch connections: %w", err)
	}
	return conns, nil
}

func (s *SQLStore) AppendActionLog(ctx context.Context, entry schema.ActionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	// A resent entry with a known ID is ignored.
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return nil
}

func (s *SQLStore) ListActionLogs(ctx context.Context, limit int) ([]schema.ActionLogEntry, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var logs []schema.ActionLogEntry
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	return logs, nil
}

// --- Importer implementation ---

func (s *SQLStore) PutRecords(ctx context.Context, records []schema.Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(records, importBatchSize).Error
}

func (s *SQLStore) PutUsers(ctx context.Context, users []schema.User) error {
	if len(users) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(users, importBatchSize).Error
}

func (s *SQLStore) PutConnections(ctx context.Context, conns []schema.Connection) error {
	if len(conns) == 0 {
		return nil
	}
	for i := range conns {
		if conns[i].ConnectionID == "" {
			conns[i].ConnectionID = uuid.NewString()
		}
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(conns, importBatchSize).Error
}
