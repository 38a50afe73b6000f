package variable

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Type is the persisted variable discriminant. It selects the codec.
type Type string

const (
	TypeDataFrame    Type = "dataframe"
	TypeDictionary   Type = "dictionary"
	TypeListComplex  Type = "list_complex"
	TypeJSON         Type = "json"
	TypeCustomObject Type = "custom_object"
	TypeIterable     Type = "iterable"
)

// DefaultPartition is used when a key carries no partition.
const DefaultPartition = "default"

// Key addresses one variable.
type Key struct {
	Pipeline  string
	Block     string
	Name      string
	Partition string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s@%s", k.Pipeline, k.Block, k.Name, k.partition())
}

func (k Key) partition() string {
	if k.Partition == "" {
		return DefaultPartition
	}
	return k.Partition
}

// child returns the key of the i-th element of an iterable variable.
func (k Key) child(i int) Key {
	k.Name = fmt.Sprintf("%s/%d", k.Name, i)
	return k
}

// ColumnType is the logical type of a DataFrame column.
type ColumnType string

const (
	ColumnInt      ColumnType = "int"
	ColumnFloat    ColumnType = "float"
	ColumnString   ColumnType = "string"
	ColumnBool     ColumnType = "bool"
	ColumnDatetime ColumnType = "datetime"
	// ColumnObject holds arbitrary nested values. They are stored as JSON text.
	ColumnObject ColumnType = "object"
	// ColumnBytes holds binary blobs. They are stored base64 encoded.
	ColumnBytes ColumnType = "bytes"
)

// Column is one named, typed column of a DataFrame.
type Column struct {
	Name   string
	Type   ColumnType
	Values []any
}

// DataFrame is a columnar table. All columns have the same length.
type DataFrame struct {
	Columns []Column
}

// NewDataFrame builds a DataFrame, rejecting ragged columns.
func NewDataFrame(cols ...Column) (*DataFrame, error) {
	for i := 1; i < len(cols); i++ {
		if len(cols[i].Values) != len(cols[0].Values) {
			return nil, fmt.Errorf("column %q has %d rows, expected %d",
				cols[i].Name, len(cols[i].Values), len(cols[0].Values))
		}
	}
	return &DataFrame{Columns: cols}, nil
}

// Len returns the number of rows.
func (df *DataFrame) Len() int {
	if df == nil || len(df.Columns) == 0 {
		return 0
	}
	return len(df.Columns[0].Values)
}

// Column returns the named column.
func (df *DataFrame) Column(name string) (Column, bool) {
	for _, c := range df.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Head returns a copy limited to the first rows rows and cols columns.
// Non-positive limits mean no limit.
func (df *DataFrame) Head(rows, cols int) *DataFrame {
	out := &DataFrame{}
	if df == nil {
		return out
	}
	columns := df.Columns
	if cols > 0 && len(columns) > cols {
		columns = columns[:cols]
	}
	for _, c := range columns {
		values := c.Values
		if rows > 0 && len(values) > rows {
			values = values[:rows]
		}
		out.Columns = append(out.Columns, Column{Name: c.Name, Type: c.Type, Values: append([]any(nil), values...)})
	}
	return out
}

// Object is an opaque binary artifact (a model, an image) that is persisted
// as-is and read back only as its text preview.
type Object struct {
	TypeName string
	Data     []byte
	Repr     string
}

// Iterable is a batched value whose items are stored as child variables.
type Iterable struct {
	Items []any
}

// ColumnDescriptor records a column's logical type and how it was encoded.
type ColumnDescriptor struct {
	Name      string     `json:"name"`
	Type      ColumnType `json:"type"`
	EncodedAs string     `json:"encoded_as,omitempty"`
}

// Descriptor is the type side-car stored next to every variable.
type Descriptor struct {
	Type       Type               `json:"type"`
	Length     int                `json:"length"`
	Columns    []ColumnDescriptor `json:"columns,omitempty"`
	ItemType   Type               `json:"item_type,omitempty"`
	ObjectType string             `json:"object_type,omitempty"`
	WrittenAt  time.Time          `json:"written_at"`
}

// InferType picks the codec for a value.
func InferType(value any) Type {
	switch value.(type) {
	case *DataFrame, DataFrame:
		return TypeDataFrame
	case *Object, Object:
		return TypeCustomObject
	case *Iterable, Iterable:
		return TypeIterable
	case nil, []byte, time.Time:
		return TypeJSON
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Struct:
		return TypeDictionary
	case reflect.Slice, reflect.Array:
		return TypeListComplex
	default:
		return TypeJSON
	}
}

// EmptyValue returns the value a non-strict read of a missing variable of
// type t yields.
func EmptyValue(t Type) any {
	switch t {
	case TypeDataFrame:
		return &DataFrame{}
	case TypeDictionary:
		return map[string]any{}
	case TypeListComplex, TypeIterable:
		return []any{}
	case TypeCustomObject:
		return ""
	default:
		return nil
	}
}

// IsOutputVariable reports whether name is a block output rather than an
// incidental captured value.
func IsOutputVariable(name string) bool {
	return name == "df" || strings.HasPrefix(name, "output")
}

// OutputName returns the name of the i-th output of a block.
func OutputName(i int) string {
	return fmt.Sprintf("output_%d", i)
}
