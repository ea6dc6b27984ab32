package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// OdooDateTimeLayout is the server-side datetime format used by Odoo (always UTC).
const OdooDateTimeLayout = "2006-01-02 15:04:05"

// OdooString is a custom string type that handles Odoo's dynamic typing.
// Odoo returns `false` (boolean) for empty text fields instead of an empty string.
type OdooString string

// UnmarshalJSON handles dynamic typing from Odoo
func (os *OdooString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*os = OdooString(s)
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		// false means "no value"; a true in a text field is kept verbatim
		if !b {
			*os = ""
			return nil
		}
		*os = "true"
		return nil
	}

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*os = ""
		return nil
	}

	return errors.New("OdooString: cannot unmarshal value into string")
}

// Value implements driver.Valuer interface for database storage
func (os OdooString) Value() (driver.Value, error) {
	return string(os), nil
}

// Scan implements sql.Scanner interface for database retrieval
func (os *OdooString) Scan(value interface{}) error {
	if value == nil {
		*os = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*os = OdooString(v)
	case []byte:
		*os = OdooString(string(v))
	default:
		return fmt.Errorf("failed to scan OdooString: %v", value)
	}
	return nil
}

// String returns native string value
func (os OdooString) String() string {
	return strings.TrimSpace(string(os))
}

// Many2One is a normalized Odoo many2one reference.
// Depending on the call, Odoo sends `[id, "label"]`, a bare id, or `false`.
type Many2One struct {
	ID   int64
	Name string
}

// ParseMany2One extracts a many2one reference from any decoded wire value.
// It is the only place that knows about the different Odoo encodings.
func ParseMany2One(v interface{}) (Many2One, bool) {
	switch t := v.(type) {
	case nil, bool:
		return Many2One{}, false
	case []interface{}:
		if len(t) == 0 {
			return Many2One{}, false
		}
		ref, ok := ParseMany2One(t[0])
		if !ok {
			return Many2One{}, false
		}
		if len(t) > 1 {
			if label, isStr := t[1].(string); isStr {
				ref.Name = label
			}
		}
		return ref, true
	case float64:
		if t <= 0 || t != math.Trunc(t) {
			return Many2One{}, false
		}
		return Many2One{ID: int64(t)}, true
	case json.Number:
		id, err := t.Int64()
		if err != nil || id <= 0 {
			return Many2One{}, false
		}
		return Many2One{ID: id}, true
	case int:
		return positiveRef(int64(t))
	case int32:
		return positiveRef(int64(t))
	case int64:
		return positiveRef(t)
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return Many2One{}, false
		}
		return positiveRef(id)
	case map[string]interface{}:
		// JSON-RPC web controllers sometimes answer {"id": .., "display_name": ..}
		ref, ok := ParseMany2One(t["id"])
		if !ok {
			return Many2One{}, false
		}
		if label, isStr := t["display_name"].(string); isStr {
			ref.Name = label
		}
		return ref, true
	}
	return Many2One{}, false
}

func positiveRef(id int64) (Many2One, bool) {
	if id <= 0 {
		return Many2One{}, false
	}
	return Many2One{ID: id}, true
}

// Valid reports whether the reference points at a record
func (m Many2One) Valid() bool { return m.ID > 0 }

// UnmarshalJSON decodes every Odoo many2one encoding through ParseMany2One
func (m *Many2One) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("Many2One: %w", err)
	}
	ref, _ := ParseMany2One(raw)
	*m = ref
	return nil
}

// MarshalJSON writes the reference in Odoo's pair form, or false when empty
func (m Many2One) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return []byte("false"), nil
	}
	return json.Marshal([]interface{}{m.ID, m.Name})
}

// Value stores only the id; empty references are NULL
func (m Many2One) Value() (driver.Value, error) {
	if !m.Valid() {
		return nil, nil
	}
	return m.ID, nil
}

// Scan implements sql.Scanner
func (m *Many2One) Scan(value interface{}) error {
	if value == nil {
		*m = Many2One{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		value = string(v)
	}
	ref, _ := ParseMany2One(value)
	*m = ref
	return nil
}

// OdooTime is an Odoo datetime, `false` when unset.
type OdooTime struct {
	time.Time
}

// NewOdooTime wraps t, normalised to UTC
func NewOdooTime(t time.Time) OdooTime {
	return OdooTime{Time: t.UTC()}
}

// UnmarshalJSON accepts "2006-01-02 15:04:05", a plain date, RFC3339 or false
func (t *OdooTime) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("OdooTime: %w", err)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseOdooTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON writes the Odoo layout, or false when unset
func (t OdooTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("false"), nil
	}
	return json.Marshal(t.UTC().Format(OdooDateTimeLayout))
}

// OdooString renders the value for use inside an Odoo domain
func (t OdooTime) OdooString() string {
	return t.UTC().Format(OdooDateTimeLayout)
}

// Ptr returns nil for an unset time
func (t OdooTime) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

// Value implements driver.Valuer
func (t OdooTime) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UTC(), nil
}

// Scan implements sql.Scanner
func (t *OdooTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case string:
		parsed, err := ParseOdooTime(v)
		if err != nil {
			return err
		}
		t.Time = parsed
	case []byte:
		parsed, err := ParseOdooTime(string(v))
		if err != nil {
			return err
		}
		t.Time = parsed
	default:
		return fmt.Errorf("failed to scan OdooTime: %v", value)
	}
	return nil
}

// ParseOdooTime parses the formats Odoo and the supported databases produce
func ParseOdooTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{
		OdooDateTimeLayout,
		"2006-01-02",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
	}
	for _, layout := range layouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("OdooTime: unsupported datetime %q", s)
}
