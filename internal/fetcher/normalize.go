package fetcher

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/janiskrasemann/frbcat/internal/astro"
	"github.com/janiskrasemann/frbcat/internal/table"
)

// catalogueRenames maps FRBCAT parameter names onto the short names used
// throughout the population synthesis literature.
var catalogueRenames = map[string]string{
	"mw_dm_limit":          "dm_mw",
	"width":                "w_eff",
	"flux":                 "s_peak",
	"redshift_host":        "z",
	"spectral_index":       "si",
	"dispersion_smearing":  "t_dm",
	"dm_error":             "dm_err",
	"scattering_timescale": "t_scat",
	"sampling_time":        "t_samp",
}

var (
	plusMinusRe = regexp.MustCompile(`^\s*([^&±]*?)\s*(?:&plusmn;?|±)\s*(.*?)\s*$`)
	supSubRe    = regexp.MustCompile(`^\s*([^<]*?)\s*<span[^>]*>\s*<sup>([^<]*)</sup>\s*<sub>([^<]*)</sub>\s*</span>\s*$`)
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// columnMapping decides the normalised name of every raw column. Prefix
// stripping and renames are skipped when they would collide with a name that
// is already taken, so no two raw columns end up sharing a name. A raw column
// that would land on one of the reserved names, which the caller derives
// itself, is kept as source_<name> instead.
func columnMapping(raw []string, renames map[string]string, reserved []string, prefixes ...string) map[string]string {
	sorted := make([]string, len(raw))
	copy(sorted, raw)
	sort.Strings(sorted)

	taken := make(map[string]bool, len(sorted)+len(reserved))
	base := make(map[string]string, len(sorted))
	for _, r := range sorted {
		n := table.NormalizeName(r)
		if n == "" || taken[n] {
			n = table.NormalizeName("raw_" + r)
		}
		base[r] = n
		taken[n] = true
	}

	out := make(map[string]string, len(sorted))
	for _, r := range sorted {
		n := base[r]
		for _, p := range prefixes {
			if s := strings.TrimPrefix(n, p); s != n && s != "" && !taken[s] {
				taken[s] = true
				n = s
				break
			}
		}
		if to, ok := renames[n]; ok && !taken[to] {
			taken[to] = true
			n = to
		}
		out[r] = n
	}

	for _, r := range sorted {
		n := out[r]
		if !slices.Contains(reserved, n) {
			continue
		}
		alt := "source_" + n
		for i := 2; taken[alt] || slices.Contains(reserved, alt); i++ {
			alt = fmt.Sprintf("source_%s_%d", n, i)
		}
		taken[alt] = true
		out[r] = alt
	}
	return out
}

// normalizeCell converts a raw value into its typed form and any split-off
// error terms. The returned extras map is keyed by column suffix.
func normalizeCell(v any) (any, map[string]any) {
	s, ok := v.(string)
	if !ok {
		if f, isFloat := v.(float64); isFloat && math.IsNaN(f) {
			return nil, nil
		}
		return v, nil
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if m := supSubRe.FindStringSubmatch(s); m != nil {
		return numberOrString(m[1]), map[string]any{
			"_err_up":   numberOrString(m[2]),
			"_err_down": numberOrString(m[3]),
		}
	}
	if strings.Contains(s, "&plusmn") || strings.Contains(s, "±") {
		if m := plusMinusRe.FindStringSubmatch(s); m != nil {
			return numberOrString(m[1]), map[string]any{"_err": numberOrString(m[2])}
		}
	}
	return numberOrString(s), nil
}

func numberOrString(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, ok := table.ParseNumber(s); ok {
		return f
	}
	return s
}

// setMissing sets rec[col] unless a value is already there.
func setMissing(rec table.Record, col string, v any) {
	if table.IsMissing(v) {
		if _, ok := rec[col]; !ok {
			rec[col] = nil
		}
		return
	}
	if table.IsMissing(rec[col]) {
		rec[col] = v
	}
}

// addCoordinates derives fractional degree and galactic coordinates from the
// sexagesimal raCol/decCol. Unparseable positions leave the outputs missing.
func addCoordinates(rec table.Record, raCol, decCol string, out [4]string) {
	for _, c := range out {
		rec[c] = nil
	}

	ra, okRA := rec[raCol].(string)
	dec, okDec := rec[decCol].(string)
	if !okRA || !okDec {
		return
	}

	raDeg, decDeg, gl, gb, err := astro.SexagesimalToGal(ra, dec)
	if err != nil {
		return
	}
	rec[raCol] = astro.PadSexagesimal(ra)
	rec[decCol] = astro.PadSexagesimal(dec)
	rec[out[0]], rec[out[1]], rec[out[2]], rec[out[3]] = raDeg, decDeg, gl, gb
}

// classify marks the rows of every name seen at more than one utc as
// repeaters. Several analyses of one burst share its utc, so they count once.
func classify(rows []table.Record, nameCol, utcCol string) {
	bursts := make(map[string]map[string]bool)
	for i, r := range rows {
		n := table.String(r[nameCol])
		if n == "" {
			continue
		}
		at := table.String(r[utcCol])
		if ts, ok := table.Time(r[utcCol]); ok {
			at = ts.Format(time.RFC3339Nano)
		}
		if at == "" {
			at = fmt.Sprintf("row %d", i)
		}
		if bursts[n] == nil {
			bursts[n] = make(map[string]bool)
		}
		bursts[n][at] = true
	}
	for _, r := range rows {
		if len(bursts[table.String(r[nameCol])]) > 1 {
			r["type"] = "repeater"
		} else {
			r["type"] = "one-off"
		}
	}
}

func earlier(col string) func(candidate, current table.Record) bool {
	return func(candidate, current table.Record) bool {
		a, okA := table.Time(candidate[col])
		b, okB := table.Time(current[col])
		if !okB {
			return okA
		}
		return okA && a.Before(b)
	}
}

func newestFirst(col string) func(a, b table.Record) bool {
	return func(a, b table.Record) bool {
		ta, okA := table.Time(a[col])
		tb, okB := table.Time(b[col])
		if okA != okB {
			return okA
		}
		return okA && ta.After(tb)
	}
}
