package alerts

import (
	"fmt"
	"strconv"
	"strings"
)

// evalCondition evaluates a rule condition string against audit event data.
//
// Supported expressions (field operator value):
//
//	fault_type == sensor-stuck
//	severity == critical
//	affected_sensor != pm25
//	fan_intensity >= 75
//	manual_intervention == true
//
// String and boolean fields support == and !=; numeric fields also support
// <, <=, > and >=. An empty condition always fires.
//
// Returns (fires bool, triggering value float64). The value is 0 for
// non-numeric fields. Returns (false, 0) if the expression cannot be parsed.
// A missing boolean field reads as false.
func evalCondition(cond string, data map[string]any) (bool, float64) {
	if strings.TrimSpace(cond) == "" {
		return true, 0
	}
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	v, ok := data[field]
	if !ok && (rhs == "true" || rhs == "false") {
		v, ok = false, true
	}
	if !ok {
		return false, 0
	}

	switch x := v.(type) {
	case bool:
		want, err := strconv.ParseBool(rhs)
		if err != nil {
			return false, 0
		}
		return compareEq(x == want, op), 0
	case string:
		return compareEq(x == rhs, op), 0
	default:
		f, ok := toFloat(v)
		if !ok {
			return compareEq(fmt.Sprint(v) == rhs, op), 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(f, op, threshold), f
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// compareEq applies == or != to an equality result.
func compareEq(equal bool, op string) bool {
	switch op {
	case "==":
		return equal
	case "!=":
		return !equal
	default:
		return false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
