// Package records implements the admin tools: record lookup, free edits and
// re-run requests.
package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/internal/cache"
	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// ErrEmailRequired is returned when an operation needs a record email.
var ErrEmailRequired = errors.New("email required")

// Service is the admin record tool.
type Service struct {
	store    engine.Store
	cache    cache.ViewCache
	logger   *zap.Logger
	resubmit string
}

// New creates a Service. resubmit is the status written by Rerun.
func New(store engine.Store, c cache.ViewCache, logger *zap.Logger, resubmit string) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if resubmit == "" {
		resubmit = "not_resolved_yet"
	}
	return &Service{store: store, cache: c, logger: logger, resubmit: resubmit}
}

// Search looks a record up by exact email, then exact LinkedIn URL, then by
// case-insensitive first name substring. The first stage with a hit wins.
func (s *Service) Search(ctx context.Context, query string) ([]schema.Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	all, err := s.store.FetchRecords(ctx, schema.Filter{})
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}

	stages := []func(schema.Record) bool{
		func(r schema.Record) bool { return r.Email == query },
		func(r schema.Record) bool { return r.LinkedinURL == query },
		func(r schema.Record) bool {
			return strings.Contains(strings.ToLower(r.Firstname), strings.ToLower(query))
		},
	}
	for _, match := range stages {
		var hits []schema.Record
		for _, r := range all {
			if match(r) {
				hits = append(hits, r)
			}
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}
	return nil, nil
}

// Edit applies an arbitrary patch of editable fields and logs it as a manual edit.
func (s *Service) Edit(ctx context.Context, op schema.Operator, email string, patch schema.Patch) error {
	if email == "" {
		return ErrEmailRequired
	}
	if patch.IsEmpty() {
		return nil
	}
	fields := make([]string, 0, len(patch.Fields()))
	for _, f := range patch.Fields() {
		fields = append(fields, string(f))
	}
	return s.write(ctx, op, email, patch, schema.ActionManualEdit, "Edited "+strings.Join(fields, ", "))
}

// Rerun sends a record back to the enrichment pipeline by resetting its status.
func (s *Service) Rerun(ctx context.Context, op schema.Operator, email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	status := s.resubmit
	return s.write(ctx, op, email, schema.Patch{Status: &status}, schema.ActionRerunRequested,
		fmt.Sprintf("Re-run triggered for %s", email))
}

func (s *Service) write(ctx context.Context, op schema.Operator, email string, patch schema.Patch, action, details string) error {
	if err := s.store.UpdateRecord(ctx, email, patch); err != nil {
		return err
	}
	entry := schema.ActionLogEntry{UserName: op.DisplayName(), ActionType: action, Details: details}
	if recs, err := s.store.FetchRecords(ctx, schema.Filter{Emails: []string{email}}); err == nil && len(recs) > 0 {
		entry.ProfileID = recs[0].ProfileID
	}
	if err := s.store.AppendActionLog(ctx, entry); err != nil {
		s.logger.Error("append admin log", zap.String("email", email), zap.String("action", action), zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate view cache", zap.Error(err))
	}
	return nil
}
