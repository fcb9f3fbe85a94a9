package source

import (
	"bytes"
	"math"
	"reflect"
	"strconv"
)

// AttributesOf returns a copy of the node's attributes in declaration order.
func AttributesOf(n *Node) []Attribute {
	if n == nil || len(n.Attributes) == 0 {
		return nil
	}
	out := make([]Attribute, len(n.Attributes))
	copy(out, n.Attributes)
	return out
}

// MetadataValue converts an attribute value into a form that survives a JSON
// round trip unchanged.
func MetadataValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case []byte:
		return string(bytes.TrimRight(x, "\x00"))
	case bool:
		return x
	case float32:
		return floatValue(float64(x))
	case float64:
		return floatValue(x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Len() == 1 {
			return MetadataValue(rv.Index(0).Interface())
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = MetadataValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// JSON has no NaN or Inf.
func floatValue(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
