package resolution

import (
	"strings"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// Tier is the resolution category of a record. It is derived on every read
// and never stored.
type Tier string

const (
	// TierFully records have a LinkedIn URL and every required field.
	TierFully Tier = "fully"
	// TierPartially records have a LinkedIn URL but miss at least one required field.
	TierPartially Tier = "partially"
	// TierFailed records have no LinkedIn URL: the pipeline found no match.
	TierFailed Tier = "failed"
	// TierInQueue records are still being produced by the pipeline.
	TierInQueue Tier = "in_queue"
)

// Tiers lists the tiers in reporting order.
var Tiers = []Tier{TierFully, TierPartially, TierFailed, TierInQueue}

// Classifier maps a record to its tier.
type Classifier func(schema.Record) Tier

// HasLinkedin reports whether the record carries a LinkedIn URL, the gate
// between a match and no match.
func (r *Rules) HasLinkedin(rec schema.Record) bool {
	return r.Present(rec, schema.FieldLinkedinURL)
}

// HasAllRequired reports whether every required field is present.
func (r *Rules) HasAllRequired(rec schema.Record) bool {
	for _, f := range Required {
		if !r.Present(rec, f) {
			return false
		}
	}
	return true
}

// Classify returns fully, partially or failed, ignoring status.
func (r *Rules) Classify(rec schema.Record) Tier {
	if !r.HasLinkedin(rec) {
		return TierFailed
	}
	if r.HasAllRequired(rec) {
		return TierFully
	}
	return TierPartially
}

// ClassifyStatus is Classify for status-aware views: records the pipeline has
// not finished are in_queue, and a failed status is failed whatever the fields say.
func (r *Rules) ClassifyStatus(rec schema.Record) Tier {
	switch strings.ToLower(strings.TrimSpace(rec.Status)) {
	case schema.StatusCompleted:
		return r.Classify(rec)
	case schema.StatusFailed:
		return TierFailed
	}
	return TierInQueue
}

// Missing lists the required fields absent from rec, in Required order.
func (r *Rules) Missing(rec schema.Record) []schema.Field {
	var out []schema.Field
	for _, f := range Required {
		if !r.Present(rec, f) {
			out = append(out, f)
		}
	}
	return out
}

// Classify classifies under the default rules.
func Classify(rec schema.Record) Tier { return Default.Classify(rec) }

// ClassifyStatus classifies status-aware under the default rules.
func ClassifyStatus(rec schema.Record) Tier { return Default.ClassifyStatus(rec) }

// Missing lists absent required fields under the default rules.
func Missing(rec schema.Record) []schema.Field { return Default.Missing(rec) }
