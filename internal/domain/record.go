package domain

import (
	"strconv"

	"github.com/trafficgeo/accident-etl/internal/geom"
)

// Value is a typed cell value: int64, float64, string, bool or nil.
type Value = any

// Record is one source row: typed column values plus an optional geometry.
type Record struct {
	Fields map[string]Value
	Shape  *geom.Shape
}

// Clone deep-copies the field map. Shapes are immutable after construction
// and are shared.
func (r Record) Clone() Record {
	fields := make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{Fields: fields, Shape: r.Shape}
}

// RecordSet is an ordered collection of records with an explicit column
// order. The column order is part of the set's identity: loaders emit
// columns in this order so output is byte-stable across runs.
type RecordSet struct {
	Columns []string
	Records []Record
}

// NewRecordSet returns an empty set with the given column order.
func NewRecordSet(columns ...string) RecordSet {
	return RecordSet{Columns: columns}
}

// Len returns the number of records.
func (rs RecordSet) Len() int {
	return len(rs.Records)
}

// HasColumn reports whether the set declares the column.
func (rs RecordSet) HasColumn(name string) bool {
	for _, c := range rs.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn appends a column to the order if not already present.
func (rs *RecordSet) AddColumn(name string) {
	if !rs.HasColumn(name) {
		rs.Columns = append(rs.Columns, name)
	}
}

// Append adds a record to the set.
func (rs *RecordSet) Append(r Record) {
	rs.Records = append(rs.Records, r)
}

// Clone deep-copies the set.
func (rs RecordSet) Clone() RecordSet {
	out := RecordSet{Columns: append([]string(nil), rs.Columns...)}
	out.Records = make([]Record, 0, len(rs.Records))
	for _, r := range rs.Records {
		out.Records = append(out.Records, r.Clone())
	}
	return out
}

// Rename renames a column in the order and in every record. A no-op when
// the column is absent.
func (rs *RecordSet) Rename(from, to string) {
	if from == to {
		return
	}
	found := false
	for i, c := range rs.Columns {
		if c == from {
			rs.Columns[i] = to
			found = true
			break
		}
	}
	if !found {
		return
	}
	for _, r := range rs.Records {
		if v, ok := r.Fields[from]; ok {
			r.Fields[to] = v
			delete(r.Fields, from)
		}
	}
}

// Drop removes columns from the order and from every record.
func (rs *RecordSet) Drop(names ...string) {
	for _, name := range names {
		for i, c := range rs.Columns {
			if c == name {
				rs.Columns = append(rs.Columns[:i], rs.Columns[i+1:]...)
				break
			}
		}
		for _, r := range rs.Records {
			delete(r.Fields, name)
		}
	}
}

// FormatValue renders a value as its canonical string form, used for record
// identifiers and join keys. Nil renders as the empty string.
func FormatValue(v Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// ToFloat coerces a numeric value to float64. Returns false for non-numeric
// or nil values.
func ToFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToInt coerces an integral value to int64. Returns false for non-integral
// or nil values.
func ToInt(v Value) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), t == float64(int64(t))
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
