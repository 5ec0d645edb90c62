// Package query implements a declarative field map and an OData-style
// filter/order AST compiler that produces parameterized SQL predicates.
package query

import "strings"

// Kind is the semantic type a Field's value is coerced to.
type Kind int

const (
	KindString Kind = iota
	KindI64
	KindF64
	KindDecimal
	KindBool
	KindUuid
	KindDateTimeUtc
	KindDate
	KindTime
)

// String renders a Kind the way it appears in error messages.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindI64:
		return "I64"
	case KindF64:
		return "F64"
	case KindDecimal:
		return "Decimal"
	case KindBool:
		return "Bool"
	case KindUuid:
		return "Uuid"
	case KindDateTimeUtc:
		return "DateTimeUtc"
	case KindDate:
		return "Date"
	case KindTime:
		return "Time"
	default:
		return "Unknown"
	}
}

// Column is an opaque handle to a physical SQL column or expression. Call
// sites never interpolate raw column names; Column.Expr() is the only way to
// surface the underlying text, and only this package's compiler and the
// pagination engine call it.
type Column struct {
	expr string
}

// Col wraps a SQL column name (or expression) as an opaque Column handle.
func Col(expr string) Column { return Column{expr: expr} }

// Expr returns the underlying SQL text for the column.
func (c Column) Expr() string { return c.expr }

// Row is the minimal surface a cursor extractor needs: read-only access to
// already-scanned column values for one result row, keyed by API field name.
// Both pgx.Rows and database/sql.Rows can be adapted into this shape by the
// caller after a Scan.
type Row interface {
	Value(apiName string) (any, bool)
}

// MapRow adapts a plain map into a Row.
type MapRow map[string]any

// Value implements Row.
func (m MapRow) Value(apiName string) (any, bool) {
	v, ok := m[strings.ToLower(apiName)]
	return v, ok
}

// Extractor renders a field's value for a given row as the lexical string
// used in keyset cursors. ok is false if the row has no value for the field.
type Extractor func(row Row) (string, bool)

// Field is a single declarative schema entry: an API-facing name, the
// physical column it maps to, its semantic Kind, and an optional cursor
// extractor. A Field without an extractor can be filtered and ordered on but
// never participates in cursor construction.
type Field struct {
	APIName   string
	Column    Column
	Kind      Kind
	Extractor Extractor
}

// HasExtractor reports whether this field can be used in keyset cursors.
func (f Field) HasExtractor() bool { return f.Extractor != nil }

// FieldMap is a per-entity declarative schema: API field name (matched
// case-insensitively) to column, kind, and optional extractor.
type FieldMap struct {
	fields map[string]Field
}

// NewFieldMap creates an empty FieldMap.
func NewFieldMap() *FieldMap {
	return &FieldMap{fields: make(map[string]Field)}
}

func normalize(name string) string { return strings.ToLower(name) }

// Insert adds a field without a cursor extractor and returns the receiver for
// chaining, matching the builder style used throughout this package.
func (m *FieldMap) Insert(apiName string, col Column, kind Kind) *FieldMap {
	m.fields[normalize(apiName)] = Field{APIName: apiName, Column: col, Kind: kind}
	return m
}

// InsertWithExtractor adds a field with a cursor extractor.
func (m *FieldMap) InsertWithExtractor(apiName string, col Column, kind Kind, extractor Extractor) *FieldMap {
	m.fields[normalize(apiName)] = Field{APIName: apiName, Column: col, Kind: kind, Extractor: extractor}
	return m
}

// Get looks up a field by API name, case-insensitively.
func (m *FieldMap) Get(name string) (Field, bool) {
	f, ok := m.fields[normalize(name)]
	return f, ok
}

// EncodeModelKey renders the given row's value for fieldName using that
// field's extractor. It returns false if the field is unknown, has no
// extractor, or its extractor reports no value for the row.
func (m *FieldMap) EncodeModelKey(row Row, fieldName string) (string, bool) {
	f, ok := m.Get(fieldName)
	if !ok || !f.HasExtractor() {
		return "", false
	}
	return f.Extractor(row)
}
