package dataset

import (
	"fmt"
	"math"
	"strconv"
)

// Kind is the physical type of a field. Values are always one of
// nil, string, int64, float64 or bool.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
)

// String returns string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindString:
		return "STRING"
	case KindInt:
		return "INT64"
	case KindFloat:
		return "DOUBLE"
	case KindBool:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// Widen returns the narrowest kind able to hold values of both a and b.
// INT64 and DOUBLE widen to DOUBLE, any other conflict widens to STRING.
func Widen(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a == KindNull:
		return b
	case b == KindNull:
		return a
	case (a == KindInt && b == KindFloat) || (a == KindFloat && b == KindInt):
		return KindFloat
	default:
		return KindString
	}
}

// KindOf reports the kind of a normalized value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case bool:
		return KindBool
	default:
		return KindString
	}
}

// Normalize converts Go scalar values into the small set of value types a
// batch stores. Unknown types are rendered with fmt.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return strconv.FormatUint(x, 10)
		}
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Coerce converts a normalized value to kind k. Null stays null.
func Coerce(v any, k Kind) any {
	if v == nil {
		return nil
	}
	switch k {
	case KindFloat:
		switch x := v.(type) {
		case int64:
			return float64(x)
		case float64:
			return x
		}
	case KindInt:
		if x, ok := v.(int64); ok {
			return x
		}
	case KindBool:
		if x, ok := v.(bool); ok {
			return x
		}
	case KindString:
		return FormatValue(v)
	case KindNull:
		return nil
	}
	return FormatValue(v)
}

// FormatValue renders a value for use inside identity keys. Null renders as
// a byte no real value can start with.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Field is one named, typed column of a schema.
type Field struct {
	Name string
	Kind Kind
}

// Schema is an ordered field registry. Fields keep the order in which they
// were first observed; kinds widen as conflicting values are observed.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema creates a schema holding the given fields in order
func NewSchema(fields ...Field) *Schema {
	s := &Schema{index: make(map[string]int, len(fields))}
	for _, f := range fields {
		s.Add(f.Name, f.Kind)
	}
	return s
}

// Add registers name with kind k, widening the kind if the field exists.
func (s *Schema) Add(name string, k Kind) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[name]; ok {
		s.fields[i].Kind = Widen(s.fields[i].Kind, k)
		return
	}
	s.index[name] = len(s.fields)
	s.fields = append(s.fields, Field{Name: name, Kind: k})
}

// Union adds every field of other to s.
func (s *Schema) Union(other *Schema) {
	if other == nil {
		return
	}
	for _, f := range other.fields {
		s.Add(f.Name, f.Kind)
	}
}

func (s *Schema) Len() int {
	return len(s.fields)
}

// Fields returns a copy of the fields in registration order
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Kind returns the kind of the named field, KindNull when absent.
func (s *Schema) Kind(name string) Kind {
	if i, ok := s.index[name]; ok {
		return s.fields[i].Kind
	}
	return KindNull
}

// Names returns field names in registration order
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Clone returns an independent copy of s
func (s *Schema) Clone() *Schema {
	return NewSchema(s.fields...)
}

// Coordinate addresses one partition: a table type inside a group and
// sub-group (e.g. player_stats / EPL / 2024-2025). An empty SubGroup
// addresses the whole group.
type Coordinate struct {
	Table    string
	Group    string
	SubGroup string
}

func (c Coordinate) String() string {
	if c.SubGroup == "" {
		return c.Table + "/" + c.Group
	}
	return c.Table + "/" + c.Group + "/" + c.SubGroup
}

// WithTable returns the same group/sub-group for another table type
func (c Coordinate) WithTable(table string) Coordinate {
	c.Table = table
	return c
}
