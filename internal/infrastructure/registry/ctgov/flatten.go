package ctgov

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	KeySeparator   = "."
	ValueSeparator = " | "

	rootListKey = "list"
)

// FlattenRecord collapses a decoded JSON value into a single-level map.
// Nested objects join their keys with sep. Arrays of scalars become one
// ValueSeparator-joined string with nulls rendered empty; arrays holding any
// object or array are kept whole as a JSON string for later parsing.
func FlattenRecord(obj any, parentKey, sep string) map[string]any {
	items := make(map[string]any)
	flattenInto(items, obj, parentKey, sep)
	return items
}

func flattenInto(items map[string]any, obj any, parentKey, sep string) {
	switch value := obj.(type) {
	case map[string]any:
		for k, v := range value {
			key := k
			if parentKey != "" {
				key = parentKey + sep + k
			}
			flattenInto(items, v, key, sep)
		}
	case []any:
		key := parentKey
		if key == "" {
			key = rootListKey
		}
		if allScalars(value) {
			items[key] = joinScalars(value)
			return
		}
		items[key] = serializeBlob(value)
	default:
		items[parentKey] = value
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int64, json.Number:
		return true
	default:
		return false
	}
}

func allScalars(values []any) bool {
	for _, v := range values {
		if !isScalar(v) {
			return false
		}
	}
	return true
}

func joinScalars(values []any) string {
	var out []byte
	for i, v := range values {
		if i > 0 {
			out = append(out, ValueSeparator...)
		}
		out = append(out, scalarString(v)...)
	}
	return string(out)
}

func scalarString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case json.Number:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

func serializeBlob(values []any) string {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Sprint(values)
	}
	return string(raw)
}
