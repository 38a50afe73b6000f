package variable

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// File names inside a variable directory.
const (
	fileType         = "type.json"
	fileFrame        = "data.msgpack"
	fileFrameSample  = "sample_data.msgpack"
	fileJSON         = "data.json"
	fileJSONSample   = "sample_data.json"
	fileObject       = "object.bin"
	fileObjectRepr   = "repr.txt"
	encodingJSONText = "json_text"
	encodingBase64   = "base64"
)

// frameFile is the on-disk shape of a DataFrame.
type frameFile struct {
	Columns []frameColumn `msgpack:"columns"`
}

type frameColumn struct {
	Name   string `msgpack:"name"`
	Type   string `msgpack:"type"`
	Values []any  `msgpack:"values"`
}

// encodeFrame serializes df and returns the column descriptors recording how
// lossy column types were encoded.
func encodeFrame(df *DataFrame) ([]byte, []ColumnDescriptor, error) {
	ff := frameFile{Columns: make([]frameColumn, 0, len(df.Columns))}
	descs := make([]ColumnDescriptor, 0, len(df.Columns))

	for _, c := range df.Columns {
		fc := frameColumn{Name: c.Name, Type: string(c.Type), Values: make([]any, len(c.Values))}
		desc := ColumnDescriptor{Name: c.Name, Type: c.Type}

		switch c.Type {
		case ColumnObject:
			desc.EncodedAs = encodingJSONText
			for i, v := range c.Values {
				if v == nil {
					continue
				}
				text, err := json.Marshal(v)
				if err != nil {
					return nil, nil, fmt.Errorf("column %q row %d: %w", c.Name, i, err)
				}
				fc.Values[i] = string(text)
			}
		case ColumnBytes:
			desc.EncodedAs = encodingBase64
			for i, v := range c.Values {
				if v == nil {
					continue
				}
				b, ok := v.([]byte)
				if !ok {
					return nil, nil, fmt.Errorf("column %q row %d: expected []byte, got %T", c.Name, i, v)
				}
				fc.Values[i] = base64.StdEncoding.EncodeToString(b)
			}
		default:
			copy(fc.Values, c.Values)
		}

		ff.Columns = append(ff.Columns, fc)
		descs = append(descs, desc)
	}

	data, err := msgpack.Marshal(&ff)
	if err != nil {
		return nil, nil, err
	}
	return data, descs, nil
}

// decodeFrame reverses encodeFrame. Column descriptors from the side-car
// take precedence over the types embedded in the data file.
func decodeFrame(data []byte, descs []ColumnDescriptor) (*DataFrame, error) {
	var ff frameFile
	if err := msgpack.Unmarshal(data, &ff); err != nil {
		return nil, err
	}

	encoded := make(map[string]ColumnDescriptor, len(descs))
	for _, d := range descs {
		encoded[d.Name] = d
	}

	df := &DataFrame{Columns: make([]Column, 0, len(ff.Columns))}
	for _, fc := range ff.Columns {
		col := Column{Name: fc.Name, Type: ColumnType(fc.Type), Values: make([]any, len(fc.Values))}
		desc, ok := encoded[fc.Name]
		if ok {
			col.Type = desc.Type
		}

		for i, v := range fc.Values {
			if v == nil {
				continue
			}
			out, err := decodeCell(col.Type, desc.EncodedAs, v)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", fc.Name, i, err)
			}
			col.Values[i] = out
		}
		df.Columns = append(df.Columns, col)
	}
	return df, nil
}

// decodeCell normalizes a decoded msgpack value to the Go type of its column.
func decodeCell(t ColumnType, encodedAs string, v any) (any, error) {
	switch {
	case encodedAs == encodingJSONText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected JSON text, got %T", v)
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, err
		}
		return out, nil
	case encodedAs == encodingBase64:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected base64 text, got %T", v)
		}
		return base64.StdEncoding.DecodeString(s)
	}

	switch t {
	case ColumnInt:
		return toInt64(v)
	case ColumnFloat:
		return toFloat64(v)
	case ColumnDatetime:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
		return nil, fmt.Errorf("expected timestamp, got %T", v)
	default:
		return v, nil
	}
}

func toInt64(v any) (any, error) {
	switch n := v.(type) {
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func toFloat64(v any) (any, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("expected number, got %T", v)
	}
	return float64(i.(int64)), nil
}

// sampleJSON truncates composite values to at most n items. Dictionaries keep
// the first n keys in sorted order.
func sampleJSON(value any, n int) any {
	if n <= 0 {
		return value
	}
	switch v := value.(type) {
	case []any:
		if len(v) > n {
			return v[:n]
		}
		return v
	case map[string]any:
		if len(v) <= n {
			return v
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, n)
		for _, k := range keys[:n] {
			out[k] = v[k]
		}
		return out
	default:
		return value
	}
}

// jsonLength is the cardinality recorded for a JSON-encoded value.
func jsonLength(value any) int {
	switch v := value.(type) {
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	case nil:
		return 0
	default:
		return 1
	}
}

// normalizeJSON round-trips value through encoding/json so typed Go values
// (structs, typed slices and maps) take their generic decoded shape.
func normalizeJSON(value any) ([]byte, any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, nil, err
	}
	return data, generic, nil
}
