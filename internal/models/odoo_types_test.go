package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMany2One(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want Many2One
		ok   bool
	}{
		{"pair", []interface{}{float64(5), "All / Drinks"}, Many2One{ID: 5, Name: "All / Drinks"}, true},
		{"bare id", float64(12), Many2One{ID: 12}, true},
		{"int", 3, Many2One{ID: 3}, true},
		{"numeric string", " 42 ", Many2One{ID: 42}, true},
		{"json number", json.Number("8"), Many2One{ID: 8}, true},
		{"object", map[string]interface{}{"id": float64(9), "display_name": "Units"}, Many2One{ID: 9, Name: "Units"}, true},
		{"false", false, Many2One{}, false},
		{"nil", nil, Many2One{}, false},
		{"empty pair", []interface{}{}, Many2One{}, false},
		{"zero", float64(0), Many2One{}, false},
		{"fraction", 1.5, Many2One{}, false},
		{"text", "abc", Many2One{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseMany2One(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMany2One_JSON(t *testing.T) {
	var rec struct {
		Categ Many2One `json:"categ_id"`
		Uom   Many2One `json:"uom_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"categ_id":[4,"Grocery"],"uom_id":false}`), &rec))
	assert.Equal(t, Many2One{ID: 4, Name: "Grocery"}, rec.Categ)
	assert.False(t, rec.Uom.Valid())

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"categ_id":[4,"Grocery"],"uom_id":false}`, string(out))
}

func TestMany2One_ValueScan(t *testing.T) {
	v, err := Many2One{ID: 7, Name: "x"}.Value()
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = Many2One{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var m Many2One
	require.NoError(t, m.Scan(int64(11)))
	assert.Equal(t, int64(11), m.ID)
	require.NoError(t, m.Scan([]byte("13")))
	assert.Equal(t, int64(13), m.ID)
	require.NoError(t, m.Scan(nil))
	assert.False(t, m.Valid())
}

func TestOdooString_False(t *testing.T) {
	var rec struct {
		Barcode OdooString `json:"barcode"`
		Code    OdooString `json:"default_code"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"barcode":false,"default_code":" SKU-1 "}`), &rec))
	assert.Equal(t, "", rec.Barcode.String())
	assert.Equal(t, "SKU-1", rec.Code.String())
}

func TestOdooTime(t *testing.T) {
	var rec struct {
		WriteDate OdooTime `json:"write_date"`
		DateEnd   OdooTime `json:"date_end"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"write_date":"2024-03-01 10:15:00","date_end":false}`), &rec))
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC), rec.WriteDate.Time)
	assert.True(t, rec.DateEnd.IsZero())
	assert.Nil(t, rec.DateEnd.Ptr())
	assert.Equal(t, "2024-03-01 10:15:00", rec.WriteDate.OdooString())

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"write_date":"2024-03-01 10:15:00","date_end":false}`, string(out))
}

func TestParseOdooTime(t *testing.T) {
	for _, s := range []string{
		"2024-03-01 10:15:00",
		"2024-03-01T10:15:00Z",
		"2024-03-01 10:15:00.000000+00:00",
	} {
		got, err := ParseOdooTime(s)
		require.NoError(t, err, s)
		assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC), got, s)
	}

	d, err := ParseOdooTime("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Day())

	_, err = ParseOdooTime("yesterday")
	assert.Error(t, err)
}
