package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/celerix-dev/celerix-enrich/internal/cache"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// Count is one bar of a persona chart.
type Count struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Persona describes who the enriched contacts are.
type Persona struct {
	Cities      []Count `json:"cities"`
	Schools     []Count `json:"schools"`
	JobTitles   []Count `json:"job_titles"`
	Companies   []Count `json:"companies"`
	Probability []Count `json:"probability"`
}

const (
	topCities    = 20
	topSchools   = 50
	topTitles    = 10
	topCompanies = 20
	companyWidth = 30
	otherTitle   = "Other"
)

type titleBucket struct {
	name  string
	terms []string
}

// Checked in order; the first matching bucket wins.
var titleBuckets = []titleBucket{
	{"Founder / Co-Founder", []string{"founder", "co-founder", "founding"}},
	{"CEO", []string{"ceo", "chief executive officer"}},
	{"CTO", []string{"cto", "chief technology officer"}},
	{"Product Manager / Head", []string{"product manager", "pm", "head of product", "vp product"}},
	{"Engineer / Developer", []string{"engineer", "developer"}},
	{"Designer", []string{"designer", "ux", "ui"}},
	{"Investor / VC", []string{"investor", "partner", "vc"}},
	{"Director", []string{"director"}},
	{"Manager", []string{"manager"}},
	{"Consultant", []string{"consultant"}},
	{"Student", []string{"student"}},
	{"Researcher / Scientist", []string{"researcher", "scientist"}},
}

// NormalizeJobTitle maps a free-text title to a coarse bucket.
func NormalizeJobTitle(title string) string {
	t := strings.ToLower(title)
	for _, b := range titleBuckets {
		for _, term := range b.terms {
			if strings.Contains(t, term) {
				return b.name
			}
		}
	}
	return otherTitle
}

// Persona charts cities, schools, job titles, employers and match
// probability over the newest SampleSize records.
func (s *Service) Persona(ctx context.Context) (Persona, error) {
	return cache.Load(ctx, s.cache, "persona", func(ctx context.Context) (Persona, error) {
		ds, err := s.load(ctx, need{})
		if err != nil {
			return Persona{}, fmt.Errorf("persona: %w", err)
		}
		return s.persona(newestFirst(ds.records, SampleSize)), nil
	})
}

func (s *Service) persona(records []schema.Record) Persona {
	cities := map[string]int{}
	schools := map[string]int{}
	titles := map[string]int{}
	companies := map[string]int{}
	probability := map[string]int{}

	for _, rec := range records {
		if s.rules.Text(rec.City) {
			cities[strings.TrimSpace(rec.City)]++
		}
		if rec.SchoolsAttended.Kind == schema.CollectionList {
			for _, e := range rec.SchoolsAttended.Items {
				name := e.Name
				if name == "" {
					name = "Unknown"
				}
				schools[name]++
			}
		}
		if rec.Organizations.Kind == schema.CollectionList {
			title := ""
			for _, e := range rec.Organizations.Items {
				if e.Title != "" {
					title = e.Title
				}
				if e.Name != "" {
					companies[e.Name]++
				}
			}
			if title != "" {
				titles[NormalizeJobTitle(title)]++
			}
		}
		p := rec.Probability
		if p == "" {
			p = "Unknown"
		}
		probability[p]++
	}
	delete(titles, otherTitle)

	out := Persona{
		Cities:      top(cities, topCities),
		Schools:     top(schools, topSchools),
		JobTitles:   top(titles, topTitles),
		Companies:   top(companies, topCompanies),
		Probability: top(probability, 0),
	}
	for i, c := range out.Companies {
		if len(c.Name) > companyWidth {
			out.Companies[i].Name = c.Name[:companyWidth] + "..."
		}
	}
	return out
}

// top sorts counts by value descending then name, keeping n (all when n <= 0).
func top(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for name, v := range counts {
		out = append(out, Count{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
