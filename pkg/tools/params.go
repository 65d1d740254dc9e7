package tools

import (
	"fmt"
	"strconv"
	"strings"
)

// readString reads a string parameter from args, grounded on the
// teacher's ReadString (pkg/agents/tools/params.go).
func readString(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("parameter %q is required", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		if required {
			return "", fmt.Errorf("parameter %q must be a string", key)
		}
		return "", nil
	}
	return strings.TrimSpace(s), nil
}

func readStringDefault(args map[string]any, key, def string) string {
	s, err := readString(args, key, false)
	if err != nil || s == "" {
		return def
	}
	return s
}

func readNumber(args map[string]any, key string, required bool) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return 0, fmt.Errorf("parameter %q is required", key)
		}
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			if required {
				return 0, fmt.Errorf("parameter %q must be a number", key)
			}
			return 0, nil
		}
		return f, nil
	}
	if required {
		return 0, fmt.Errorf("parameter %q must be a number", key)
	}
	return 0, nil
}

func readInt(args map[string]any, key string, required bool) (int, error) {
	n, err := readNumber(args, key, required)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func readIntDefault(args map[string]any, key string, def int) int {
	n, err := readInt(args, key, false)
	if err != nil || n == 0 {
		return def
	}
	return n
}

func readBool(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(strings.TrimSpace(b))
		return lower == "true" || lower == "1" || lower == "yes"
	case float64:
		return b != 0
	}
	return def
}

func readStringSlice(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{arr}
	}
	return nil
}
