// Package catalog holds the closed set of field types a schema may use and the
// coercion rule for each. Schema compilation resolves every field type here;
// record writes never see an unknown type token. New types are added with
// Register and require no changes anywhere else.
package catalog

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	DateFormat     = "2006-01-02"
	DateTimeFormat = time.RFC3339
)

// CoerceFunc validates a raw JSON-decoded value and returns its canonical form.
type CoerceFunc func(raw any) (any, error)

var (
	mu    sync.RWMutex
	types = map[string]CoerceFunc{
		"string":   coerceString,
		"integer":  coerceInteger,
		"float":    coerceFloat,
		"boolean":  coerceBoolean,
		"date":     coerceDate,
		"datetime": coerceDateTime,
		"file":     coerceFile,
	}
)

// Register adds or replaces a field type. Intended for process startup.
func Register(name string, fn CoerceFunc) {
	mu.Lock()
	defer mu.Unlock()
	types[name] = fn
}

// Lookup returns the coerce function for a type token.
func Lookup(name string) (CoerceFunc, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := types[name]
	return fn, ok
}

// Names returns all registered type tokens.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	return names
}

func coerceString(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("must be a string")
	}
	return s, nil
}

// coerceInteger accepts only values that convert losslessly to a signed
// integer. JSON numbers arrive as float64, so a fractional part fails.
func coerceInteger(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("must be an integer")
		}
		if v > math.MaxInt64 || v < math.MinInt64 {
			return nil, fmt.Errorf("integer out of range")
		}
		return int64(v), nil
	default:
		return nil, fmt.Errorf("must be an integer")
	}
}

func coerceFloat(raw any) (any, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return nil, fmt.Errorf("must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("must be a finite number")
	}
	return f, nil
}

func coerceBoolean(raw any) (any, error) {
	b, ok := raw.(bool)
	if !ok {
		return nil, fmt.Errorf("must be a boolean")
	}
	return b, nil
}

func coerceDate(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("must be an ISO date string (%s)", DateFormat)
	}
	if _, err := time.Parse(DateFormat, s); err != nil {
		return nil, fmt.Errorf("must be an ISO date string (%s)", DateFormat)
	}
	return s, nil
}

func coerceDateTime(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("must be an RFC3339 datetime string")
	}
	if _, err := time.Parse(DateTimeFormat, s); err != nil {
		return nil, fmt.Errorf("must be an RFC3339 datetime string")
	}
	return s, nil
}

// coerceFile accepts the URL string returned by the file upload endpoint.
func coerceFile(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("must be a file URL string")
	}
	return s, nil
}
