package models

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// The helpers below accept both typed values (from code and other backends) and the
// generic values produced by decoding JSON request bodies.

func toString(field string, v any) (string, error) {
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalid, field, v)
}

func toOptionalString(field string, v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	}
	s, err := toString(field, v)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func toInt64(field string, v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %s out of range", ErrInvalid, field)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalid, field)
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalid, field)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: %s must be an integer, got %T", ErrInvalid, field, v)
}

func toTime(field string, v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return Timestamp(t), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s must be RFC3339: %v", ErrInvalid, field, err)
		}
		return Timestamp(parsed), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be a timestamp, got %T", ErrInvalid, field, v)
}

// decodeInto converts generic JSON-shaped input into target by a JSON round trip.
func decodeInto(field string, v, target any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, field, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, field, err)
	}
	return nil
}

func unknownField(kind, field string) error {
	return fmt.Errorf("%w: %s has no field %q", ErrInvalid, kind, field)
}

func required(kind, field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s.%s is required", ErrInvalid, kind, field)
	}
	return nil
}
