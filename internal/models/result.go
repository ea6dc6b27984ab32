package models

import "fmt"

// RecordError is a per-record failure reported alongside the counts of a batch
type RecordError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// NewRecordError formats any id
func NewRecordError(id interface{}, err error) RecordError {
	return RecordError{ID: fmt.Sprint(id), Message: err.Error()}
}

// ImportResult summarises an import pass; partial success is the normal case
type ImportResult struct {
	Imported int           `json:"imported"`
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Repaired int           `json:"repaired"`
	Errors   []RecordError `json:"errors"`
}

// Fail records a failed record
func (r *ImportResult) Fail(id interface{}, err error) {
	r.Errors = append(r.Errors, NewRecordError(id, err))
}
