package router

// Helpers for reading MessagePack-decoded parameter values, which arrive
// with whatever integer width the encoder picked.

// Int coerces any integer-valued parameter to int64.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	}

	return 0, false
}

// Float coerces any numeric parameter to float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}

	if i, ok := Int(v); ok {
		return float64(i), true
	}

	return 0, false
}

// String extracts a string parameter.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
