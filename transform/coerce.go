package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

func coerce(v any, f Field) (any, error) {
	if s, ok := v.(string); ok && f.Thousands != "" && (f.Type == TypeInt || f.Type == TypeFloat) {
		v = strings.ReplaceAll(s, f.Thousands, "")
	}

	switch f.Type {
	case TypeInt, TypeUnixTime:
		return toInt(v)
	case TypeFloat:
		return toFloat(v)
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown type %q", f.Type)
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", x.String())
		}
		return integral(f)
	case float64:
		return integral(x)
	case float32:
		return integral(float64(x))
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint32:
		return int64(x), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", x)
		}
		return i, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func integral(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	return int64(f), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", x.String())
		}
		return f, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}
