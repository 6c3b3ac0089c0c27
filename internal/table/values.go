package table

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// IsMissing reports whether v stands for an absent measurement.
func IsMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case float64:
		return math.IsNaN(x)
	case time.Time:
		return x.IsZero()
	}
	return false
}

// Float returns v as a float64 when it is numeric.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		return ParseNumber(x)
	}
	return 0, false
}

// String formats v for display. Missing values become "".
func String(v any) string {
	if IsMissing(v) {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

// Time returns v as a time when it holds one.
func Time(v any) (time.Time, bool) {
	ts, ok := v.(time.Time)
	return ts, ok && !ts.IsZero()
}

// ParseNumber parses a trimmed decimal number. "nan" and friends are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName lower-cases a source column name and folds any run of
// non-alphanumerics into a single underscore.
func NormalizeName(s string) string {
	s = nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
	return strings.Trim(s, "_")
}

// Units maps a column name to its unit. An empty unit means dimensionless or
// unknown.
type Units map[string]string

// Keys returns the column names in sorted order.
func (u Units) Keys() []string {
	keys := make([]string, 0, len(u))
	for k := range u {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy so callers cannot alter the owner's map.
func (u Units) Clone() Units {
	out := make(Units, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}
