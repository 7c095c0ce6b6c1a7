package insights

import (
	"context"
	"fmt"
	"math"

	"github.com/celerix-dev/celerix-enrich/internal/cache"
	"github.com/celerix-dev/celerix-enrich/pkg/resolution"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

const (
	// SampleSize bounds the quality and persona views to the newest records.
	SampleSize = 2000
	// MaxScore is the best quality score.
	MaxScore = 6
	// LowScore is the highest score reported as low quality.
	LowScore = 2
)

const lowListLimit = 20

// scoredFields each add one point to the quality score when present.
var scoredFields = []schema.Field{
	schema.FieldLinkedinURL,
	schema.FieldBio,
	schema.FieldCity,
	schema.FieldOrganizations,
	schema.FieldSchoolsAttended,
	schema.FieldProfilePic,
}

// Score returns the 0..6 quality score of rec.
func Score(rules *resolution.Rules, rec schema.Record) int {
	score := 0
	for _, f := range scoredFields {
		if rules.Present(rec, f) {
			score++
		}
	}
	return score
}

// ScoredRecord is a low quality record.
type ScoredRecord struct {
	Email       string `json:"email"`
	Score       int    `json:"score"`
	Status      string `json:"status"`
	Probability string `json:"probability"`
}

// Quality is the score distribution of a sample.
type Quality struct {
	Probability string            `json:"probability"`
	Sampled     int               `json:"sampled"`
	Average     float64           `json:"average"`
	Histogram   [MaxScore + 1]int `json:"histogram"`
	LowCount    int               `json:"low_count"`
	Low         []ScoredRecord    `json:"low"`
}

// Quality scores the newest SampleSize records. A non-empty probability keeps
// only records with that match probability ("high", "medium", "low").
func (s *Service) Quality(ctx context.Context, probability string) (Quality, error) {
	return cache.Load(ctx, s.cache, "quality:"+probability, func(ctx context.Context) (Quality, error) {
		ds, err := s.load(ctx, need{})
		if err != nil {
			return Quality{}, fmt.Errorf("quality: %w", err)
		}
		return s.score(newestFirst(ds.records, SampleSize), probability), nil
	})
}

func (s *Service) score(records []schema.Record, probability string) Quality {
	q := Quality{Probability: probability}
	sum := 0
	for _, rec := range records {
		if probability != "" && rec.Probability != probability {
			continue
		}
		sc := Score(s.rules, rec)
		q.Sampled++
		q.Histogram[sc]++
		sum += sc
		if sc <= LowScore {
			q.LowCount++
			if len(q.Low) < lowListLimit {
				q.Low = append(q.Low, ScoredRecord{
					Email:       rec.Email,
					Score:       sc,
					Status:      rec.Status,
					Probability: rec.Probability,
				})
			}
		}
	}
	if q.Sampled > 0 {
		q.Average = math.Round(float64(sum)*100/float64(q.Sampled)) / 100
	}
	return q
}
