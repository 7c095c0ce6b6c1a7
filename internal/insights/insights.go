// Package insights computes the dashboard views over the record store.
// Views are cached until the next correction invalidates them.
package insights

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/celerix-enrich/internal/cache"
	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/pkg/resolution"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// processed are the statuses the dashboards report on; records still in the
// pipeline are left out.
var processed = []string{schema.StatusCompleted, schema.StatusFailed}

// Service computes dashboard views.
type Service struct {
	store  engine.Store
	rules  *resolution.Rules
	cache  cache.ViewCache
	logger *zap.Logger
}

// New creates a Service. A nil cache disables caching.
func New(store engine.Store, rules *resolution.Rules, c cache.ViewCache, logger *zap.Logger) *Service {
	if rules == nil {
		rules = resolution.Default
	}
	if c == nil {
		c = cache.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, rules: rules, cache: c, logger: logger}
}

// dataset is one consistent read of everything a view may need.
type dataset struct {
	records []schema.Record
	users   []schema.User
	conns   []schema.Connection
	logs    []schema.ActionLogEntry
}

type need struct {
	filter schema.Filter
	people bool
	logs   bool
}

func (s *Service) load(ctx context.Context, n need) (*dataset, error) {
	ds := &dataset{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := s.store.FetchRecords(ctx, n.filter)
		if err != nil {
			return fmt.Errorf("fetch records: %w", err)
		}
		ds.records = recs
		return nil
	})
	if n.people {
		g.Go(func() error {
			users, err := s.store.FetchUsers(ctx)
			if err != nil {
				return fmt.Errorf("fetch users: %w", err)
			}
			ds.users = users
			return nil
		})
		g.Go(func() error {
			conns, err := s.store.FetchConnections(ctx, schema.ConnectionFilter{})
			if err != nil {
				return fmt.Errorf("fetch connections: %w", err)
			}
			ds.conns = conns
			return nil
		})
	}
	if n.logs {
		g.Go(func() error {
			logs, err := s.store.ListActionLogs(ctx, 0)
			if err != nil {
				return fmt.Errorf("list action logs: %w", err)
			}
			ds.logs = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Overview is the global resolution picture over processed records.
type Overview struct {
	resolution.Summary
	Percent map[resolution.Tier]float64 `json:"percent"`
}

// Overview summarizes all completed and failed records.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	return cache.Load(ctx, s.cache, "overview", func(ctx context.Context) (Overview, error) {
		ds, err := s.load(ctx, need{filter: schema.Filter{Statuses: processed}})
		if err != nil {
			return Overview{}, err
		}
		sum := s.rules.Summarize(ds.records, nil)
		return Overview{Summary: sum, Percent: sum.Percentages()}, nil
	})
}

// BatchRow is one batch of the batches view.
type BatchRow struct {
	resolution.BatchSummary
	Percent map[resolution.Tier]float64 `json:"percent"`
}

// Batches is the per-batch view with grand totals.
type Batches struct {
	Rows    []BatchRow                  `json:"rows"`
	Totals  resolution.Counts           `json:"totals"`
	Percent map[resolution.Tier]float64 `json:"percent"`
}

// Batches summarizes every record, including those still in the pipeline,
// grouped by batch tag.
func (s *Service) Batches(ctx context.Context) (Batches, error) {
	return cache.Load(ctx, s.cache, "batches", func(ctx context.Context) (Batches, error) {
		ds, err := s.load(ctx, need{})
		if err != nil {
			return Batches{}, err
		}
		var out Batches
		for _, b := range s.rules.ByBatch(ds.records) {
			out.Rows = append(out.Rows, BatchRow{BatchSummary: b, Percent: b.Percentages()})
		}
		out.Totals = s.rules.Summarize(ds.records, s.rules.ClassifyStatus).Counts
		out.Percent = make(map[resolution.Tier]float64, len(resolution.Tiers))
		for _, t := range resolution.Tiers {
			out.Percent[t] = out.Totals.Percent(t)
		}
		return out, nil
	})
}

// OwnerRow is one user of the owners view.
type OwnerRow struct {
	resolution.OwnerSummary
	Percent map[resolution.Tier]float64 `json:"percent"`
}

// Owners summarizes each user's network of processed records.
func (s *Service) Owners(ctx context.Context) ([]OwnerRow, error) {
	return cache.Load(ctx, s.cache, "owners", func(ctx context.Context) ([]OwnerRow, error) {
		ds, err := s.load(ctx, need{filter: schema.Filter{Statuses: processed}, people: true, logs: true})
		if err != nil {
			return nil, err
		}
		summaries := s.rules.ByOwner(ds.records, ds.users, ds.conns, ds.logs, nil)
		rows := make([]OwnerRow, 0, len(summaries))
		for _, o := range summaries {
			rows = append(rows, OwnerRow{OwnerSummary: o, Percent: o.Percentages()})
		}
		return rows, nil
	})
}

// Ops is the headline of the ops dashboard.
type Ops struct {
	PartiallyToDo  int                  `json:"partially_to_do"`
	Fully          int                  `json:"fully"`
	NotResolved    int                  `json:"not_resolved"`
	TotalToProceed int                  `json:"total_to_proceed"`
	AvgPerUser     int                  `json:"avg_per_user"`
	Missing        map[schema.Field]int `json:"missing"`
	Users          []OwnerRow           `json:"users"`
}

// Ops reports how much review work remains, overall and per user.
func (s *Service) Ops(ctx context.Context) (Ops, error) {
	return cache.Load(ctx, s.cache, "ops", func(ctx context.Context) (Ops, error) {
		ds, err := s.load(ctx, need{filter: schema.Filter{Statuses: processed}, people: true, logs: true})
		if err != nil {
			return Ops{}, err
		}
		sum := s.rules.Summarize(ds.records, nil)
		out := Ops{
			PartiallyToDo: sum.Counts.Partially,
			Fully:         sum.Counts.Fully,
			NotResolved:   sum.Counts.Failed,
			Missing:       sum.Missing,
		}
		out.TotalToProceed = out.PartiallyToDo + out.NotResolved
		if len(ds.users) > 0 {
			out.AvgPerUser = int(math.Round(float64(out.TotalToProceed) / float64(len(ds.users))))
		}
		for _, o := range s.rules.ByOwner(ds.records, ds.users, ds.conns, ds.logs, nil) {
			out.Users = append(out.Users, OwnerRow{OwnerSummary: o, Percent: o.Percentages()})
		}
		return out, nil
	})
}

// ProfileRow is one record of the profiles listing.
type ProfileRow struct {
	Record     schema.Record   `json:"record"`
	Tier       resolution.Tier `json:"tier"`
	OwnerName  string          `json:"owner_name,omitempty"`
	OwnerTitle string          `json:"owner_title,omitempty"`
}

// Profiles lists processed records newest first with their tier and the
// user owning them. A limit <= 0 lists all. One full listing is cached and
// sliced per call.
func (s *Service) Profiles(ctx context.Context, limit int) ([]ProfileRow, error) {
	rows, err := cache.Load(ctx, s.cache, "profiles", func(ctx context.Context) ([]ProfileRow, error) {
		ds, err := s.load(ctx, need{filter: schema.Filter{Statuses: processed}, people: true})
		if err != nil {
			return nil, err
		}
		owners := resolution.Owners(ds.users, ds.conns)
		recs := newestFirst(ds.records, 0)
		rows := make([]ProfileRow, 0, len(recs))
		for _, rec := range recs {
			row := ProfileRow{Record: rec, Tier: s.rules.Classify(rec)}
			if u, ok := owners[rec.ProfileID]; ok {
				row.OwnerName = u.FullName
				row.OwnerTitle = u.Title
			}
			rows = append(rows, row)
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// newestFirst returns up to limit records ordered by created_on descending.
func newestFirst(records []schema.Record, limit int) []schema.Record {
	out := append([]schema.Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedOn.After(out[j].CreatedOn)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
