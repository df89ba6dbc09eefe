package schema

import "strconv"

// coerceQueryScalar parses a string filter value into the Go type a field's
// JSONB cast compares against.
func coerceQueryScalar(fieldType, val string) (any, error) {
	switch fieldType {
	case "integer":
		return strconv.ParseInt(val, 10, 64)
	case "float":
		return strconv.ParseFloat(val, 64)
	case "boolean":
		return strconv.ParseBool(val)
	default:
		return val, nil
	}
}
