package prompts

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/malbeclabs/askql/lake/pkg/dataset"
)

// Compact shortens rows for inclusion in a prompt: strings longer than
// maxLen are cut to maxLen-3 runes plus "...", whole floats become integers
// and other floats are rounded to two decimals.
func Compact(rows []dataset.Row, maxLen int) []dataset.Row {
	out := make([]dataset.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Map(func(v any) any { return CompactValue(v, maxLen) })
	}
	return out
}

// CompactValue applies the Compact rules to a single value.
func CompactValue(v any, maxLen int) any {
	switch t := v.(type) {
	case string:
		r := []rune(t)
		if len(r) > maxLen {
			return string(r[:maxLen-3]) + "..."
		}
		return t
	case float32:
		return CompactValue(float64(t), maxLen)
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return t
		}
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return math.Round(t*100) / 100
	default:
		return v
	}
}

// JSON renders v as two-space indented JSON without HTML escaping.
func JSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
