// Package resolution decides how complete an enrichment record is.
//
// Field presence rules feed a classifier that puts every record in one of
// the resolution tiers, and the aggregation helpers fold record sets into
// dashboard counts. Everything here is pure: no I/O, no errors, and the same
// input always yields the same output.
package resolution

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// DefaultSentinels are text values the pipeline writes when it found nothing.
var DefaultSentinels = []string{"not specified", "not_specified", "n/a", "na", ""}

// Required is the field set a record needs, on top of a LinkedIn URL, to be
// fully resolved.
var Required = []schema.Field{
	schema.FieldProfilePic,
	schema.FieldFirstname,
	schema.FieldLastname,
	schema.FieldCity,
	schema.FieldJobTitle,
	schema.FieldCompany,
	schema.FieldBio,
	schema.FieldSchoolsAttended,
	schema.FieldOrganizations,
	schema.FieldSocialProfiles,
}

// Rules holds the presence configuration.
type Rules struct {
	sentinels mapset.Set[string]
}

// NewRules returns rules using the given sentinels, or DefaultSentinels when none are given.
// Sentinels compare case-insensitively after trimming.
func NewRules(sentinels ...string) *Rules {
	if len(sentinels) == 0 {
		sentinels = DefaultSentinels
	}
	set := mapset.NewThreadUnsafeSet[string]()
	for _, s := range sentinels {
		set.Add(strings.ToLower(strings.TrimSpace(s)))
	}
	return &Rules{sentinels: set}
}

// Default are the rules used by the package-level helpers.
var Default = NewRules()

// Text reports whether a scalar text value counts as present.
func (r *Rules) Text(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	return !r.sentinels.Contains(strings.ToLower(v))
}

// URL reports whether a profile picture URL is present.
func (r *Rules) URL(v string) bool {
	return strings.TrimSpace(v) != ""
}

// List reports whether a schools or organizations collection is present:
// a non-empty list or keyed structure. Malformed values are absent.
func (r *Rules) List(c schema.Collection) bool {
	switch c.Kind {
	case schema.CollectionList, schema.CollectionKeyed:
		return c.Len() > 0
	}
	return false
}

// Social reports whether social profiles are present. Anything non-null
// counts, including an empty structure: a non-null value means the pipeline
// ran its social lookup.
func (r *Rules) Social(c schema.Collection) bool {
	return c.Kind != schema.CollectionNull
}

// Present reports whether field f of rec counts as present. Unknown fields are absent.
func (r *Rules) Present(rec schema.Record, f schema.Field) bool {
	switch f {
	case schema.FieldProfilePic:
		return r.URL(rec.ProfilePic)
	case schema.FieldSchoolsAttended:
		return r.List(rec.SchoolsAttended)
	case schema.FieldOrganizations:
		return r.List(rec.Organizations)
	case schema.FieldSocialProfiles:
		return r.Social(rec.SocialProfiles)
	case schema.FieldFirstname, schema.FieldLastname, schema.FieldCity,
		schema.FieldJobTitle, schema.FieldCompany, schema.FieldBio,
		schema.FieldLinkedinURL:
		return r.Text(rec.Text(f))
	case schema.FieldEmail, schema.FieldProfileID, schema.FieldStatus:
		return strings.TrimSpace(rec.Text(f)) != ""
	}
	return false
}

// Present reports field presence under the default rules.
func Present(rec schema.Record, f schema.Field) bool {
	return Default.Present(rec, f)
}
