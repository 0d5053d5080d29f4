// Package jsonutil decodes loosely typed JSON produced by language models.
package jsonutil

import (
	"encoding/json"
	"strconv"
)

// FlexibleStringValue renders a scalar JSON value as a string. Integers keep
// full precision, null and empty input yield "", and arrays or objects are
// returned as their raw text.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := n.Float64(); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return n.String()
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	return string(raw)
}

// FlexibleStrings applies FlexibleStringValue to each element and drops the
// ones that render empty.
func FlexibleStrings(values []json.RawMessage) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := FlexibleStringValue(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
