// Package cache persists named tabular datasets between evaluation runs.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrSchemaMismatch reports a table whose rows do not conform to its fields.
var ErrSchemaMismatch = errors.New("cache: schema mismatch")

// FieldType is the storage type of a column.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldFloat  FieldType = "float"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldTime   FieldType = "time"
)

func (ft FieldType) valid() bool {
	switch ft {
	case FieldString, FieldFloat, FieldInt, FieldBool, FieldTime:
		return true
	}
	return false
}

// Field names and types one column.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Table is an ordered set of rows sharing one schema. Cells hold string,
// float64, int64, bool or time.Time according to the field type; nil is null.
type Table struct {
	Fields []Field
	Rows   [][]any
}

// NewTable returns an empty table with the given schema.
func NewTable(fields ...Field) *Table {
	return &Table{Fields: fields}
}

// Append adds a row. The row is not checked; see Validate.
func (t *Table) Append(cells ...any) {
	t.Rows = append(t.Rows, cells)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Columns resolves field names to column indexes.
func (t *Table) Columns(names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		idx[i] = -1
		for j, f := range t.Fields {
			if f.Name == name {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("%w: missing field %q", ErrSchemaMismatch, name)
		}
	}
	return idx, nil
}

// Validate checks that every field type is known, names are unique and every
// row matches the schema.
func (t *Table) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil table", ErrSchemaMismatch)
	}
	names := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		if !f.Type.valid() {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrSchemaMismatch, f.Name, f.Type)
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrSchemaMismatch, f.Name)
		}
		names[f.Name] = struct{}{}
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Fields) {
			return fmt.Errorf("%w: row %d has %d cells, want %d", ErrSchemaMismatch, i, len(row), len(t.Fields))
		}
		for j, cell := range row {
			if cell == nil {
				continue
			}
			if !cellMatches(t.Fields[j].Type, cell) {
				return fmt.Errorf("%w: row %d field %q holds %T", ErrSchemaMismatch, i, t.Fields[j].Name, cell)
			}
		}
	}
	return nil
}

func cellMatches(ft FieldType, v any) bool {
	switch v.(type) {
	case string:
		return ft == FieldString
	case float64:
		return ft == FieldFloat
	case int64:
		return ft == FieldInt
	case bool:
		return ft == FieldBool
	case time.Time:
		return ft == FieldTime
	}
	return false
}

type tableJSON struct {
	Fields []Field `json:"fields"`
	Rows   [][]any `json:"rows"`
}

// MarshalJSON encodes the table with its schema. Times are RFC 3339 strings
// and non-finite floats become null.
func (t Table) MarshalJSON() ([]byte, error) {
	rows := make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		out := make([]any, len(row))
		for j, cell := range row {
			switch v := cell.(type) {
			case time.Time:
				out[j] = v.UTC().Format(time.RFC3339Nano)
			case float64:
				if math.IsNaN(v) || math.IsInf(v, 0) {
					out[j] = nil
				} else {
					out[j] = v
				}
			default:
				out[j] = v
			}
		}
		rows[i] = out
	}
	return json.Marshal(tableJSON{Fields: t.Fields, Rows: rows})
}

// UnmarshalJSON decodes a table and restores cell types from the schema.
func (t *Table) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw tableJSON
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	rows := make([][]any, len(raw.Rows))
	for i, row := range raw.Rows {
		if len(row) != len(raw.Fields) {
			return fmt.Errorf("%w: row %d has %d cells, want %d", ErrSchemaMismatch, i, len(row), len(raw.Fields))
		}
		out := make([]any, len(row))
		for j, cell := range row {
			v, err := coerce(raw.Fields[j].Type, cell)
			if err != nil {
				return fmt.Errorf("row %d field %q: %w", i, raw.Fields[j].Name, err)
			}
			out[j] = v
		}
		rows[i] = out
	}
	t.Fields = raw.Fields
	t.Rows = rows
	return nil
}

// coerce converts a decoded JSON value to the Go type of ft.
func coerce(ft FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ft {
	case FieldString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case FieldFloat:
		if n, ok := v.(json.Number); ok {
			return n.Float64()
		}
	case FieldInt:
		if n, ok := v.(json.Number); ok {
			return n.Int64()
		}
	case FieldBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case FieldTime:
		if s, ok := v.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	}
	return nil, fmt.Errorf("%w: %T is not %s", ErrSchemaMismatch, v, ft)
}

// String returns the cell as a string, or "" when null.
func String(cell any) string {
	s, _ := cell.(string)
	return s
}

// Float returns the cell as a float64, or NaN when null.
func Float(cell any) float64 {
	if f, ok := cell.(float64); ok {
		return f
	}
	return math.NaN()
}

// FloatPtr returns the cell as a *float64, or nil when null.
func FloatPtr(cell any) *float64 {
	f, ok := cell.(float64)
	if !ok {
		return nil
	}
	return &f
}

// Int returns the cell as an int64, or 0 when null.
func Int(cell any) int64 {
	n, _ := cell.(int64)
	return n
}

// BoolPtr returns the cell as a *bool, or nil when null.
func BoolPtr(cell any) *bool {
	b, ok := cell.(bool)
	if !ok {
		return nil
	}
	return &b
}

// Time returns the cell as a time.Time, or the zero time when null.
func Time(cell any) time.Time {
	t, _ := cell.(time.Time)
	return t
}

// Nullable returns *p, or nil when p is nil. It is the inverse of FloatPtr
// and BoolPtr for building rows.
func Nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// NullString returns s, or nil when s is empty.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
