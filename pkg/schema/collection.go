package schema

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CollectionKind tags the shape a collection field arrived in.
type CollectionKind int

const (
	// CollectionNull is a missing value.
	CollectionNull CollectionKind = iota
	// CollectionEmpty is an empty list or object.
	CollectionEmpty
	// CollectionList is a non-empty ordered list.
	CollectionList
	// CollectionKeyed is a non-empty object.
	CollectionKeyed
	// CollectionMalformed is a non-null value that could not be decoded.
	CollectionMalformed
)

func (k CollectionKind) String() string {
	switch k {
	case CollectionNull:
		return "null"
	case CollectionEmpty:
		return "empty"
	case CollectionList:
		return "list"
	case CollectionKeyed:
		return "keyed"
	case CollectionMalformed:
		return "malformed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ValidationError reports a collection value that could not be decoded.
type ValidationError struct {
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("malformed collection %q: %v", e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Entry is one element of a collection, such as a school or an employer.
type Entry struct {
	Key   string          `json:"-"`
	Name  string          `json:"-"`
	Title string          `json:"-"`
	Raw   json.RawMessage `json:"-"`
}

// Collection is the normalized form of schools_attended, organizations and
// social_profiles. The pipeline writes these as arrays, objects or
// JSON-encoded strings; all three decode to the same shape here.
type Collection struct {
	Kind  CollectionKind
	Items []Entry
	raw   json.RawMessage
}

// Len returns the number of entries.
func (c Collection) Len() int { return len(c.Items) }

// ParseCollection decodes data into a Collection. A value that cannot be
// decoded yields a Malformed collection together with a *ValidationError;
// the collection is usable either way.
func ParseCollection(data []byte) (Collection, error) {
	return parseCollection(bytes.TrimSpace(data), true)
}

func parseCollection(data []byte, unwrap bool) (Collection, error) {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Collection{Kind: CollectionNull}, nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return malformed(data, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return Collection{Kind: CollectionNull}, nil
		}
		if !unwrap {
			return malformed(data, fmt.Errorf("nested string encoding"))
		}
		inner := []byte(s)
		if !json.Valid(inner) {
			return malformed(data, fmt.Errorf("string is not json"))
		}
		return parseCollection(inner, false)

	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return malformed(data, err)
		}
		if len(items) == 0 {
			return Collection{Kind: CollectionEmpty, raw: json.RawMessage("[]")}, nil
		}
		c := Collection{Kind: CollectionList, raw: compact(data)}
		for _, item := range items {
			c.Items = append(c.Items, newEntry("", item))
		}
		return c, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return malformed(data, err)
		}
		if len(obj) == 0 {
			return Collection{Kind: CollectionEmpty, raw: json.RawMessage("{}")}, nil
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		c := Collection{Kind: CollectionKeyed, raw: compact(data)}
		for _, k := range keys {
			c.Items = append(c.Items, newEntry(k, obj[k]))
		}
		return c, nil
	}

	return malformed(data, fmt.Errorf("unexpected %s value", string(data[:1])))
}

func malformed(data []byte, err error) (Collection, error) {
	var raw json.RawMessage
	if json.Valid(data) {
		raw = compact(data)
	} else {
		raw, _ = json.Marshal(string(data))
	}
	value := string(data)
	if len(value) > 64 {
		value = value[:64] + "..."
	}
	return Collection{Kind: CollectionMalformed, raw: raw}, &ValidationError{Value: value, Err: err}
}

func compact(data []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return append(json.RawMessage(nil), data...)
	}
	return buf.Bytes()
}

var (
	nameKeys  = []string{"name", "school", "school_name", "company", "company_name", "organization", "handle", "url"}
	titleKeys = []string{"title", "job_title", "position", "role", "degree"}
)

func newEntry(key string, raw json.RawMessage) Entry {
	e := Entry{Key: key, Raw: raw}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		e.Name = strings.TrimSpace(s)
		return e
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return e
	}
	e.Name = firstString(obj, nameKeys)
	e.Title = firstString(obj, titleKeys)
	return e
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// ListOf builds a list collection of plain names.
func ListOf(names ...string) Collection {
	if len(names) == 0 {
		return Collection{Kind: CollectionEmpty, raw: json.RawMessage("[]")}
	}
	data, _ := json.Marshal(names)
	c, _ := ParseCollection(data)
	return c
}

// KeyedOf builds a keyed collection, such as social handles by network.
func KeyedOf(values map[string]string) Collection {
	if len(values) == 0 {
		return Collection{Kind: CollectionEmpty, raw: json.RawMessage("{}")}
	}
	data, _ := json.Marshal(values)
	c, _ := ParseCollection(data)
	return c
}

// MarshalJSON writes the normalized form; string-encoded input is emitted decoded.
func (c Collection) MarshalJSON() ([]byte, error) {
	if c.Kind == CollectionNull || len(c.raw) == 0 {
		return []byte("null"), nil
	}
	return c.raw, nil
}

// UnmarshalJSON never fails: undecodable input becomes a Malformed collection.
func (c *Collection) UnmarshalJSON(data []byte) error {
	*c, _ = ParseCollection(data)
	return nil
}

// Value implements driver.Valuer.
func (c Collection) Value() (driver.Value, error) {
	if c.Kind == CollectionNull || len(c.raw) == 0 {
		return nil, nil
	}
	return string(c.raw), nil
}

// Scan implements sql.Scanner.
func (c *Collection) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = Collection{Kind: CollectionNull}
	case []byte:
		*c, _ = ParseCollection(v)
	case string:
		*c, _ = ParseCollection([]byte(v))
	default:
		return fmt.Errorf("collection: unsupported scan type %T", src)
	}
	return nil
}
