package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCollection_Shapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  CollectionKind
		len   int
	}{
		{"null", `null`, CollectionNull, 0},
		{"blank", ``, CollectionNull, 0},
		{"empty list", `[]`, CollectionEmpty, 0},
		{"empty object", `{}`, CollectionEmpty, 0},
		{"list", `[{"name":"MIT"},{"name":"ETH"}]`, CollectionList, 2},
		{"keyed", `{"twitter":"@amy","github":"amy"}`, CollectionKeyed, 2},
		{"string encoded list", `"[{\"name\":\"MIT\"}]"`, CollectionList, 1},
		{"string encoded empty", `"[]"`, CollectionEmpty, 0},
		{"empty string", `""`, CollectionNull, 0},
		{"number", `42`, CollectionMalformed, 0},
		{"string not json", `"Stanford, MIT"`, CollectionMalformed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := ParseCollection([]byte(tt.input))
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.len, c.Len())
		})
	}
}

func TestParseCollection_MalformedReportsValidationError(t *testing.T) {
	c, err := ParseCollection([]byte(`"{not json"`))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CollectionMalformed, c.Kind)
}

func TestCollection_EntryNames(t *testing.T) {
	c, err := ParseCollection([]byte(`[{"school":"EPFL","degree":"MSc"},"HEC",{"company":"Acme","title":"CTO"}]`))
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	assert.Equal(t, "EPFL", c.Items[0].Name)
	assert.Equal(t, "MSc", c.Items[0].Title)
	assert.Equal(t, "HEC", c.Items[1].Name)
	assert.Equal(t, "Acme", c.Items[2].Name)
	assert.Equal(t, "CTO", c.Items[2].Title)
}

func TestCollection_RecordJSONRoundTrip(t *testing.T) {
	in := `{"email":"amy@example.com","schools_attended":"[\"MIT\"]","organizations":null,"social_profiles":{}}`

	var r Record
	require.NoError(t, json.Unmarshal([]byte(in), &r))
	assert.Equal(t, CollectionList, r.SchoolsAttended.Kind)
	assert.Equal(t, CollectionNull, r.Organizations.Kind)
	assert.Equal(t, CollectionEmpty, r.SocialProfiles.Kind)

	out, err := json.Marshal(r)
	require.NoError(t, err)

	var back map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &back))
	assert.JSONEq(t, `["MIT"]`, string(back["schools_attended"]))
	assert.Equal(t, "null", string(back["organizations"]))
	assert.JSONEq(t, `{}`, string(back["social_profiles"]))
}

func TestCollection_ScanValue(t *testing.T) {
	var c Collection
	require.NoError(t, c.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, CollectionList, c.Kind)

	v, err := c.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	require.NoError(t, c.Scan(nil))
	v, err = c.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, c.Scan("plain text"))
	assert.Equal(t, CollectionMalformed, c.Kind)
	v, err = c.Value()
	require.NoError(t, err)
	assert.Equal(t, `"plain text"`, v)
}

func TestPatch_FieldsAndApply(t *testing.T) {
	var p Patch
	assert.True(t, p.IsEmpty())

	require.NoError(t, p.Set(FieldCity, "Paris"))
	require.NoError(t, p.Set(FieldStatus, "not_resolved_yet"))
	assert.ErrorIs(t, p.Set(FieldCompany, "Acme"), ErrNotEditable)

	assert.Equal(t, []Field{FieldCity, FieldStatus}, p.Fields())
	assert.Equal(t, map[string]any{"city": "Paris", "status": "not_resolved_yet"}, p.Columns())

	r := Record{City: "", Status: "failed", Company: "Acme"}
	p.Apply(&r)
	assert.Equal(t, "Paris", r.City)
	assert.Equal(t, "not_resolved_yet", r.Status)
	assert.Equal(t, "Acme", r.Company)
}

func TestFilter_Match(t *testing.T) {
	tag := "b1"
	r := Record{Email: "a@x.io", ProfileID: "p1", Status: StatusCompleted, BatchTag: "b1"}

	assert.True(t, Filter{}.Match(r))
	assert.True(t, Filter{Statuses: []string{StatusCompleted, StatusFailed}}.Match(r))
	assert.False(t, Filter{Statuses: []string{StatusFailed}}.Match(r))
	assert.True(t, Filter{BatchTag: &tag}.Match(r))
	assert.False(t, Filter{ProfileIDs: []string{"p2"}}.Match(r))
	assert.True(t, Filter{Emails: []string{"a@x.io"}}.Match(r))
}
