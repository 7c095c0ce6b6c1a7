package resolution

import (
	"math"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// Unlabeled is the batch key for records without a batch tag.
const Unlabeled = "unlabeled"

// FieldFullName is the derived breakdown bucket for a missing first or last name.
const FieldFullName schema.Field = "full_name"

// Counts holds per-tier record counts.
type Counts struct {
	Fully     int `json:"fully"`
	Partially int `json:"partially"`
	Failed    int `json:"failed"`
	InQueue   int `json:"in_queue"`
	Total     int `json:"total"`
}

func (c *Counts) add(t Tier) {
	switch t {
	case TierFully:
		c.Fully++
	case TierPartially:
		c.Partially++
	case TierFailed:
		c.Failed++
	case TierInQueue:
		c.InQueue++
	}
	c.Total++
}

// Get returns the count for tier t.
func (c Counts) Get(t Tier) int {
	switch t {
	case TierFully:
		return c.Fully
	case TierPartially:
		return c.Partially
	case TierFailed:
		return c.Failed
	case TierInQueue:
		return c.InQueue
	}
	return 0
}

// Percent returns the share of tier t in percent, rounded to one decimal.
// An empty group reports 0.
func (c Counts) Percent(t Tier) float64 {
	total := c.Total
	if total == 0 {
		total = 1
	}
	return math.Round(float64(c.Get(t))*1000/float64(total)) / 10
}

// Summary is the aggregate view of a record set.
type Summary struct {
	Counts Counts `json:"counts"`
	// Missing counts absent required fields among partially resolved records only.
	Missing map[schema.Field]int `json:"missing"`
	// AvgProcessingSeconds is the rounded mean over records that report a duration.
	AvgProcessingSeconds int `json:"avg_processing_seconds"`
}

// Percentages returns Percent for every tier.
func (s Summary) Percentages() map[Tier]float64 {
	out := make(map[Tier]float64, len(Tiers))
	for _, t := range Tiers {
		out[t] = s.Counts.Percent(t)
	}
	return out
}

func newSummary() Summary {
	missing := make(map[schema.Field]int, len(Required)+1)
	for _, f := range Required {
		missing[f] = 0
	}
	missing[FieldFullName] = 0
	return Summary{Missing: missing}
}

type summarizer struct {
	rules    *Rules
	classify Classifier
	sum      Summary
	timeSum  float64
	timeN    int
}

func (r *Rules) newSummarizer(classify Classifier) *summarizer {
	if classify == nil {
		classify = r.Classify
	}
	return &summarizer{rules: r, classify: classify, sum: newSummary()}
}

func (s *summarizer) add(rec schema.Record) {
	t := s.classify(rec)
	s.sum.Counts.add(t)
	if rec.ProcessingSeconds != nil {
		s.timeSum += *rec.ProcessingSeconds
		s.timeN++
	}
	if t != TierPartially {
		return
	}
	for _, f := range s.rules.Missing(rec) {
		s.sum.Missing[f]++
	}
	if !s.rules.Present(rec, schema.FieldFirstname) || !s.rules.Present(rec, schema.FieldLastname) {
		s.sum.Missing[FieldFullName]++
	}
}

func (s *summarizer) result() Summary {
	if s.timeN > 0 {
		s.sum.AvgProcessingSeconds = int(math.Round(s.timeSum / float64(s.timeN)))
	}
	return s.sum
}

// Summarize folds records into tier counts and the partial-record missing
// field breakdown. A nil classify uses the status-agnostic Classify.
func (r *Rules) Summarize(records []schema.Record, classify Classifier) Summary {
	s := r.newSummarizer(classify)
	for _, rec := range records {
		s.add(rec)
	}
	return s.result()
}

// BatchSummary is the status-aware summary of one batch.
type BatchSummary struct {
	BatchTag string `json:"batch_tag"`
	Summary
}

// ByBatch groups records by batch tag and summarizes each group with the
// status-aware classifier. Groups are ordered by size, largest first.
func (r *Rules) ByBatch(records []schema.Record) []BatchSummary {
	groups := make(map[string]*summarizer)
	for _, rec := range records {
		tag := rec.BatchTag
		if tag == "" {
			tag = Unlabeled
		}
		s, ok := groups[tag]
		if !ok {
			s = r.newSummarizer(r.ClassifyStatus)
			groups[tag] = s
		}
		s.add(rec)
	}

	out := make([]BatchSummary, 0, len(groups))
	for tag, s := range groups {
		out = append(out, BatchSummary{BatchTag: tag, Summary: s.result()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Counts.Total != out[j].Counts.Total {
			return out[i].Counts.Total > out[j].Counts.Total
		}
		return out[i].BatchTag < out[j].BatchTag
	})
	return out
}

// OwnerSummary is the summary of one user's network.
type OwnerSummary struct {
	User schema.User `json:"user"`
	// NetworkSize counts the distinct profiles connected to the user.
	NetworkSize int `json:"network_size"`
	// TotalChecked counts action log entries on profiles of the network.
	TotalChecked int `json:"total_checked"`
	Summary
}

// ByOwner summarizes each user's network. A record connected to several
// users counts for each of them. Rows are ordered by network size, largest first.
func (r *Rules) ByOwner(records []schema.Record, users []schema.User, conns []schema.Connection, logs []schema.ActionLogEntry, classify Classifier) []OwnerSummary {
	networks := make(map[string]mapset.Set[string], len(users))
	for _, c := range conns {
		set, ok := networks[c.UserID]
		if !ok {
			set = mapset.NewThreadUnsafeSet[string]()
			networks[c.UserID] = set
		}
		set.Add(c.ProfileID)
	}

	out := make([]OwnerSummary, 0, len(users))
	for _, u := range users {
		network, ok := networks[u.UserID]
		if !ok {
			network = mapset.NewThreadUnsafeSet[string]()
		}
		s := r.newSummarizer(classify)
		for _, rec := range records {
			if network.Contains(rec.ProfileID) {
				s.add(rec)
			}
		}
		checked := 0
		for _, l := range logs {
			if l.ProfileID != "" && network.Contains(l.ProfileID) {
				checked++
			}
		}
		out = append(out, OwnerSummary{
			User:         u,
			NetworkSize:  network.Cardinality(),
			TotalChecked: checked,
			Summary:      s.result(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NetworkSize != out[j].NetworkSize {
			return out[i].NetworkSize > out[j].NetworkSize
		}
		return out[i].User.UserID < out[j].User.UserID
	})
	return out
}

// Owners maps each profile id to the user owning it for display: the user of
// the earliest connection, ties broken by connection id then user id.
func Owners(users []schema.User, conns []schema.Connection) map[string]schema.User {
	byID := make(map[string]schema.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	sorted := append([]schema.Connection(nil), conns...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.ConnectionID != b.ConnectionID {
			return a.ConnectionID < b.ConnectionID
		}
		return a.UserID < b.UserID
	})

	owners := make(map[string]schema.User)
	for _, c := range sorted {
		if _, seen := owners[c.ProfileID]; seen {
			continue
		}
		if u, ok := byID[c.UserID]; ok {
			owners[c.ProfileID] = u
		}
	}
	return owners
}

// FilterStatus keeps the records whose status is one of statuses.
func FilterStatus(records []schema.Record, statuses ...string) []schema.Record {
	f := schema.Filter{Statuses: statuses}
	out := make([]schema.Record, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Summarize aggregates under the default rules.
func Summarize(records []schema.Record, classify Classifier) Summary {
	return Default.Summarize(records, classify)
}
