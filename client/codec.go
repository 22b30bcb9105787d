package client

import (
	"fmt"
	"math"
)

func toUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint:
		return uint64(n), nil
	case int64:
		if n >= 0 {
			return uint64(n), nil
		}
	case int32:
		if n >= 0 {
			return uint64(n), nil
		}
	case int16:
		if n >= 0 {
			return uint64(n), nil
		}
	case int8:
		if n >= 0 {
			return uint64(n), nil
		}
	case int:
		if n >= 0 {
			return uint64(n), nil
		}
	case float64:
		if n >= 0 && n == math.Trunc(n) {
			return uint64(n), nil
		}
	case float32:
		if n >= 0 && float64(n) == math.Trunc(float64(n)) {
			return uint64(n), nil
		}
	}
	return 0, fmt.Errorf("tntqueue: expected a count, got %T(%v)", v, v)
}

func toStatus(v interface{}) Status {
	switch s := v.(type) {
	case string:
		return Status(s)
	case []byte:
		return Status(s)
	case nil:
		return ""
	default:
		return Status(fmt.Sprint(s))
	}
}

// normalize turns msgpack's map[interface{}]interface{} values into
// string-keyed maps, recursively.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = normalize(item)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = normalize(item)
		}
		return m
	case []interface{}:
		list := make([]interface{}, len(val))
		for i, item := range val {
			list[i] = normalize(item)
		}
		return list
	default:
		return v
	}
}

func field(row []interface{}, idx int) interface{} {
	if idx < len(row) {
		return row[idx]
	}
	return nil
}
