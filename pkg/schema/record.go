package schema

import (
	"errors"
	"fmt"
	"time"
)

// Field names a column of an enrichment record.
type Field string

const (
	FieldProfileID       Field = "profile_id"
	FieldEmail           Field = "email"
	FieldFirstname       Field = "firstname"
	FieldLastname        Field = "lastname"
	FieldCity            Field = "city"
	FieldJobTitle        Field = "job_title"
	FieldCompany         Field = "company"
	FieldBio             Field = "bio"
	FieldProfilePic      Field = "profile_pic"
	FieldLinkedinURL     Field = "linkedin_url"
	FieldSchoolsAttended Field = "schools_attended"
	FieldOrganizations   Field = "organizations"
	FieldSocialProfiles  Field = "social_profiles"
	FieldStatus          Field = "status"
)

// Pipeline status values known to this service. Status is free text; other
// values are tolerated and treated as still processing.
const (
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusProcessing = "processing"
	StatusPending    = "pending"
)

// ErrNotEditable is returned when a patch targets a field operators may not write.
var ErrNotEditable = errors.New("field is not editable")

// Record is one enrichment result, keyed externally by Email and internally by ProfileID.
type Record struct {
	ProfileID         string     `json:"profile_id" gorm:"column:profile_id;index;type:varchar(64)"`
	Email             string     `json:"email" gorm:"column:email;primaryKey;type:varchar(320)"`
	Firstname         string     `json:"firstname" gorm:"column:firstname"`
	Lastname          string     `json:"lastname" gorm:"column:lastname"`
	City              string     `json:"city" gorm:"column:city"`
	JobTitle          string     `json:"job_title" gorm:"column:job_title"`
	Company           string     `json:"company" gorm:"column:company"`
	Bio               string     `json:"bio" gorm:"column:bio"`
	ProfilePic        string     `json:"profile_pic" gorm:"column:profile_pic"`
	LinkedinURL       string     `json:"linkedin_url" gorm:"column:linkedin_url"`
	SchoolsAttended   Collection `json:"schools_attended" gorm:"column:schools_attended;type:text"`
	Organizations     Collection `json:"organizations" gorm:"column:organizations;type:text"`
	SocialProfiles    Collection `json:"social_profiles" gorm:"column:social_profiles;type:text"`
	Status            string     `json:"status" gorm:"column:status;index"`
	Probability       string     `json:"probability,omitempty" gorm:"column:probability"`
	ProcessingSeconds *float64   `json:"processing_seconds" gorm:"column:processing_seconds"`
	BatchTag          string     `json:"batch_tag,omitempty" gorm:"column:batch_tag;index"`
	CreatedOn         time.Time  `json:"created_on" gorm:"column:created_on"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Record) TableName() string { return "enrichment_records" }

// Text returns the value of a scalar text field, or "" for collection or unknown fields.
func (r Record) Text(f Field) string {
	switch f {
	case FieldProfileID:
		return r.ProfileID
	case FieldEmail:
		return r.Email
	case FieldFirstname:
		return r.Firstname
	case FieldLastname:
		return r.Lastname
	case FieldCity:
		return r.City
	case FieldJobTitle:
		return r.JobTitle
	case FieldCompany:
		return r.Company
	case FieldBio:
		return r.Bio
	case FieldProfilePic:
		return r.ProfilePic
	case FieldLinkedinURL:
		return r.LinkedinURL
	case FieldStatus:
		return r.Status
	}
	return ""
}

// Filter restricts a record fetch. Empty slices and a nil BatchTag match everything.
type Filter struct {
	Statuses   []string `json:"statuses,omitempty"`
	BatchTag   *string  `json:"batch_tag,omitempty"`
	ProfileIDs []string `json:"profile_ids,omitempty"`
	Emails     []string `json:"emails,omitempty"`
}

// Match reports whether r passes every clause of the filter.
func (f Filter) Match(r Record) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, r.Status) {
		return false
	}
	if f.BatchTag != nil && r.BatchTag != *f.BatchTag {
		return false
	}
	if len(f.ProfileIDs) > 0 && !contains(f.ProfileIDs, r.ProfileID) {
		return false
	}
	if len(f.Emails) > 0 && !contains(f.Emails, r.Email) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Patch is a partial update of the operator-editable fields of a record.
// A nil pointer leaves the field untouched.
type Patch struct {
	Firstname   *string `json:"firstname,omitempty"`
	Lastname    *string `json:"lastname,omitempty"`
	City        *string `json:"city,omitempty"`
	ProfilePic  *string `json:"profile_pic,omitempty"`
	LinkedinURL *string `json:"linkedin_url,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// EditableFields lists every field a Patch can carry, in column order.
var EditableFields = []Field{
	FieldFirstname, FieldLastname, FieldCity, FieldProfilePic,
	FieldLinkedinURL, FieldBio, FieldStatus,
}

func (p *Patch) slot(f Field) **string {
	switch f {
	case FieldFirstname:
		return &p.Firstname
	case FieldLastname:
		return &p.Lastname
	case FieldCity:
		return &p.City
	case FieldProfilePic:
		return &p.ProfilePic
	case FieldLinkedinURL:
		return &p.LinkedinURL
	case FieldBio:
		return &p.Bio
	case FieldStatus:
		return &p.Status
	}
	return nil
}

// Set assigns value to field f.
func (p *Patch) Set(f Field, value string) error {
	s := p.slot(f)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNotEditable, f)
	}
	*s = &value
	return nil
}

// Get returns the value carried for f and whether it is set.
func (p Patch) Get(f Field) (string, bool) {
	s := p.slot(f)
	if s == nil || *s == nil {
		return "", false
	}
	return **s, true
}

// Fields returns the fields set on the patch.
func (p Patch) Fields() []Field {
	var out []Field
	for _, f := range EditableFields {
		if _, ok := p.Get(f); ok {
			out = append(out, f)
		}
	}
	return out
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Columns returns the patch as a column/value map.
func (p Patch) Columns() map[string]any {
	cols := make(map[string]any)
	for _, f := range p.Fields() {
		v, _ := p.Get(f)
		cols[string(f)] = v
	}
	return cols
}

// Apply writes the patch onto r.
func (p Patch) Apply(r *Record) {
	for _, f := range p.Fields() {
		v, _ := p.Get(f)
		switch f {
		case FieldFirstname:
			r.Firstname = v
		case FieldLastname:
			r.Lastname = v
		case FieldCity:
			r.City = v
		case FieldProfilePic:
			r.ProfilePic = v
		case FieldLinkedinURL:
			r.LinkedinURL = v
		case FieldBio:
			r.Bio = v
		case FieldStatus:
			r.Status = v
		}
	}
}
