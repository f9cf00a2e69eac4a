package descriptor

import (
	"math"
	"strconv"

	"github.com/wippyai/vbridge/errors"
)

// Int converts a script value to int64. Integral floats are accepted since
// some runtimes carry every number as a double.
func Int(field string, v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, errors.TypeMismatch(errors.PhaseConvert, field, "integer", v)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n >= 1<<63 || n < -(1<<63) {
			return 0, errors.TypeMismatch(errors.PhaseConvert, field, "integer", v)
		}
		return int64(n), nil
	case float32:
		return Int(field, float64(n))
	}
	return 0, errors.TypeMismatch(errors.PhaseConvert, field, "integer", v)
}

// Float converts a script value to float64.
func Float(field string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	}
	return 0, errors.TypeMismatch(errors.PhaseConvert, field, "number", v)
}

// String converts a script value to a string. Numbers are not coerced.
func String(field string, v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.TypeMismatch(errors.PhaseConvert, field, "string", v)
}

// Bool converts a script value to a bool.
func Bool(field string, v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, errors.TypeMismatch(errors.PhaseConvert, field, "boolean", v)
}

// Scalar normalizes a script value to one of nil, int64, float64, string or
// bool. Integral floats stay floats; callers that need an integer use Int.
func Scalar(field string, v any) (any, error) {
	switch n := v.(type) {
	case nil, int64, float64, string, bool:
		return v, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case float32:
		return float64(n), nil
	}
	return nil, errors.TypeMismatch(errors.PhaseConvert, field, "scalar", v)
}

// Format renders a scalar the way script-side string conversion does.
func Format(v any) string {
	switch n := v.(type) {
	case nil:
		return "nil"
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	}
	return "<" + typeName(v) + ">"
}

func typeName(v any) string {
	if s, ok := v.(interface{ Tag() string }); ok {
		return s.Tag()
	}
	return "value"
}
