package timeseries

import "time"

// Record is a single row of the flat long-format signal table. One logical
// series is the set of records sharing a UUID, ordered by Systime. Any subset
// of the typed value fields may be set; absent values are nil.
type Record struct {
	UUID         string
	Systime      time.Time
	ValueBool    *bool
	ValueInteger *int64
	ValueDouble  *float64
	ValueString  *string
	IsDelta      bool
}

// Bool returns a pointer to v. Convenience for building records.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
