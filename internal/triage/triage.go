// Package triage serves single-field corrections: pick a completed record
// missing one field, fix that field, log the fix.
package triage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/internal/cache"
	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/pkg/resolution"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// Fields lists the fields the triage queue works on, in display order.
var Fields = []schema.Field{
	schema.FieldProfilePic,
	schema.FieldLastname,
	schema.FieldCity,
	schema.FieldLinkedinURL,
	schema.FieldBio,
}

var fieldSet = mapset.NewSet(Fields...)

var (
	// ErrNoCandidate is returned by Next when every completed record has the field.
	ErrNoCandidate = fmt.Errorf("triage candidate %w", engine.ErrNotFound)
	// ErrUnknownField is returned for a field outside Fields.
	ErrUnknownField = errors.New("unknown triage field")
)

// Stats holds per-field missing counts over completed records.
type Stats struct {
	Missing map[schema.Field]int `json:"missing"`
	Total   int                  `json:"total"`
}

// Queue is the triage workflow. It holds no per-operator state; the store is
// shared and concurrent fixes to one record are last-write-wins.
type Queue struct {
	store  engine.Store
	rules  *resolution.Rules
	cache  cache.ViewCache
	logger *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithRules overrides the presence rules.
func WithRules(r *resolution.Rules) Option { return func(q *Queue) { q.rules = r } }

// WithCache sets the view cache invalidated after every fix.
func WithCache(c cache.ViewCache) Option { return func(q *Queue) { q.cache = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.logger = l } }

// New creates a Queue over store.
func New(store engine.Store, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		rules:  resolution.Default,
		cache:  cache.Nop{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ParseField validates a triage field name.
func ParseField(name string) (schema.Field, error) {
	f := schema.Field(name)
	if !fieldSet.Contains(f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

func (q *Queue) completed(ctx context.Context) ([]schema.Record, error) {
	return q.store.FetchRecords(ctx, schema.Filter{Statuses: []string{schema.StatusCompleted}})
}

// Stats counts, for each triage field, the completed records missing it.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	records, err := q.completed(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch completed records: %w", err)
	}
	st := Stats{Missing: make(map[schema.Field]int, len(Fields)), Total: len(records)}
	for _, f := range Fields {
		st.Missing[f] = 0
	}
	for _, rec := range records {
		for _, f := range Fields {
			if !q.rules.Present(rec, f) {
				st.Missing[f]++
			}
		}
	}
	return st, nil
}

// Next returns a completed record missing field. The choice is the smallest
// profile_id, then email, so calling Next again without a fix returns the
// same record.
func (q *Queue) Next(ctx context.Context, field schema.Field) (schema.Record, error) {
	if !fieldSet.Contains(field) {
		return schema.Record{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	records, err := q.completed(ctx)
	if err != nil {
		return schema.Record{}, fmt.Errorf("fetch completed records: %w", err)
	}

	var candidates []schema.Record
	for _, rec := range records {
		if !q.rules.Present(rec, field) {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return schema.Record{}, ErrNoCandidate
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ProfileID != candidates[j].ProfileID {
			return candidates[i].ProfileID < candidates[j].ProfileID
		}
		return candidates[i].Email < candidates[j].Email
	})
	return candidates[0], nil
}

// ApplyFix writes value to exactly one field of the record identified by
// email. A failed write returns the store's *engine.WriteError and logs
// nothing. After a successful write a triage_fix entry is appended and the
// view cache is invalidated; failures of either are logged, not returned.
func (q *Queue) ApplyFix(ctx context.Context, op schema.Operator, email string, field schema.Field, value string) error {
	if !fieldSet.Contains(field) {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	var patch schema.Patch
	if err := patch.Set(field, value); err != nil {
		return err
	}
	if err := q.store.UpdateRecord(ctx, email, patch); err != nil {
		return err
	}

	entry := schema.ActionLogEntry{
		UserName:   op.DisplayName(),
		ActionType: schema.ActionTriageFix,
		Details:    fmt.Sprintf("Fixed missing %s", field),
	}
	if recs, err := q.store.FetchRecords(ctx, schema.Filter{Emails: []string{email}}); err == nil && len(recs) > 0 {
		entry.ProfileID = recs[0].ProfileID
	}
	if err := q.store.AppendActionLog(ctx, entry); err != nil {
		q.logger.Error("append triage log",
			zap.String("email", email),
			zap.String("field", string(field)),
			zap.Error(err))
	}
	// After the log append, so cached leaderboard and owner views see it.
	if err := q.cache.Invalidate(ctx); err != nil {
		q.logger.Warn("invalidate view cache", zap.Error(err))
	}
	return nil
}
