package actions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func firstString(details map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringValue(details[k]); v != "" {
			return v
		}
	}
	return ""
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int, int64, bool:
		return fmt.Sprint(x)
	default:
		return ""
	}
}

func numberValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// present follows the loose "set and non-empty" notion used for detail
// fields: false, 0, "", "0", empty lists and maps are all absent.
func present(details map[string]any, key string) bool {
	v, ok := details[key]
	if !ok || v == nil {
		return false
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s != "" && s != "0"
	case bool:
		return x
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		if n, ok := numberValue(v); ok {
			return n != 0
		}
		return true
	}
}

func truthy(details map[string]any, key string) bool {
	v, ok := details[key]
	if !ok {
		return false
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "", "0", "false", "no":
			return false
		}
		return true
	}
	return present(details, key)
}

// DetailPresent reports whether key holds a non-empty value.
func DetailPresent(details map[string]any, key string) bool {
	return present(details, key)
}

// DetailString renders a scalar detail value; other shapes render empty.
func DetailString(details map[string]any, key string) string {
	return stringValue(details[key])
}
