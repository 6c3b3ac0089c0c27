package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/janiskrasemann/frbcat/internal/table"
)

// DefaultNameServerURL is the Transient Name Server.
const DefaultNameServerURL = "https://www.wis-tns.org"

const (
	defaultPageSize          = 500
	defaultRequestsPerSecond = 1.0
	// objtype 130 is FRB in the TNS object type list
	frbObjectType = "130"
)

// NameServerColumns are guaranteed to be part of every name server table.
var NameServerColumns = []string{"dec_frac", "decl", "gb_frac", "gl_frac", "name", "ra", "ra_frac"}

// IdentifierColumns name an object or report rather than measure it, so they
// carry no unit.
var IdentifierColumns = []string{"internal_name", "name", "photometry_id", "repeater_of_objid", "reports_id", "tns_id"}

var nameServerInputs = []string{"decl", "name", "ra"}

var nameServerRenames = map[string]string{
	"id":            "tns_id",
	"filter_name":   "back_end",
	"obsdate":       "photometry_date",
	"groups":        "group",
	"related_files": "num_files",
	"channels_no":   "num_channels",
	"dec":           "decl",
}

var nameServerDates = map[string]bool{
	"time_received":          true,
	"barycentric_event_time": true,
	"discovery_date":         true,
	"photometry_date":        true,
	"lastmodified":           true,
}

// nameServerText holds free-text columns that must never be split into a
// number and a unit.
var nameServerText = map[string]bool{
	"back_end":             true,
	"discoverer":           true,
	"filename":             true,
	"filetype":             true,
	"group":                true,
	"host_name":            true,
	"obj_type":             true,
	"observer":             true,
	"public_webpage":       true,
	"region_filename":      true,
	"remarks":              true,
	"reporter_name":        true,
	"reporting_group_name": true,
	"source_group_name":    true,
	"telescope":            true,
	"telescope_mode":       true,
}

// defaultUnits are the units TNS uses when neither the header nor the cell
// states one.
var defaultUnits = table.Units{
	"burst_bandwidth": "MHz",
	"burst_width":     "ms",
	"dec_frac":        "frac. degrees",
	"dm":              "pc cm^-3",
	"fluence":         "Jy ms",
	"flux":            "Jy",
	"galactic_max_dm": "pc cm^-3",
	"gb_frac":         "frac. degrees",
	"gl_frac":         "frac. degrees",
	"inst_bandwidth":  "MHz",
	"ra_frac":         "frac. degrees",
	"ref_freq":        "MHz",
	"rm":              "rad m^-2",
	"sampling_time":   "ms",
	"scattering_time": "ms",
}

// unitScale converts between units that show up mixed within one column.
var unitScale = map[[2]string]float64{
	{"GHz", "MHz"}: 1e3,
	{"MHz", "GHz"}: 1e-3,
	{"kHz", "MHz"}: 1e-3,
	{"s", "ms"}:    1e3,
	{"ms", "s"}:    1e-3,
	{"us", "ms"}:   1e-3,
	{"mJy", "Jy"}:  1e-3,
	{"Jy", "mJy"}:  1e3,
}

var (
	headerUnitRe  = regexp.MustCompile(`^(.*?)\s*\(([^()]*)\)\s*$`)
	measurementRe = regexp.MustCompile(`^([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)\s*(?:\(([^()]*)\))?\s*(.*?)$`)
	unitRe        = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9/^*.\-]*(?: [A-Za-z][A-Za-z0-9/^*.\-]*)?$`)
	positionRe    = regexp.MustCompile(`^([-+]?\d[\d:.]*)\s*(?:\(([^()]*)\))?$`)
)

// Credentials identify a TNS user or bot. They are sent verbatim in the
// User-Agent marker TNS requires.
type Credentials struct {
	ID   string
	Name string
}

// NameServerOptions control paging and which bursts are kept.
type NameServerOptions struct {
	// PageSize is the number of rows requested per page.
	PageSize int
	// RequestsPerSecond paces page requests.
	RequestsPerSecond float64
	// OneOffs keeps bursts not attributed to a repeater.
	OneOffs bool
	// Repeaters keeps bursts attributed to a repeater.
	Repeaters bool
	// RepeatBursts keeps every burst of a repeater instead of only the first.
	RepeatBursts bool
}

// DefaultNameServerOptions returns options that keep every burst.
func DefaultNameServerOptions() NameServerOptions {
	return NameServerOptions{
		PageSize:          defaultPageSize,
		RequestsPerSecond: defaultRequestsPerSecond,
		OneOffs:           true,
		Repeaters:         true,
		RepeatBursts:      true,
	}
}

// NameServerResult is what Fetch returns for the name server.
type NameServerResult struct {
	Table *table.Table
	Units table.Units
}

// NameServer queries the Transient Name Server for FRBs.
type NameServer struct {
	client  *http.Client
	baseURL string
	creds   Credentials
	opts    NameServerOptions
	limiter *rate.Limiter

	table *table.Table
	units table.Units
}

// NewNameServer returns a name server fetcher. An empty baseURL selects
// DefaultNameServerURL.
func NewNameServer(client *http.Client, baseURL string, creds Credentials, opts NameServerOptions) *NameServer {
	if baseURL == "" {
		baseURL = DefaultNameServerURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	return &NameServer{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
	}
}

func (n *NameServer) Name() string { return "TNS" }

// Table returns the table of the last successful query, or nil.
func (n *NameServer) Table() *table.Table { return n.table }

// Units returns a copy of the units of the last successful query, or nil.
func (n *NameServer) Units() table.Units {
	if n.units == nil {
		return nil
	}
	return n.units.Clone()
}

func (n *NameServer) Fetch(ctx context.Context) (any, error) {
	t, units, err := n.Query(ctx)
	if err != nil {
		return nil, err
	}
	return NameServerResult{Table: t, Units: units}, nil
}

// Query pages through the FRB search results and returns the normalised table
// together with the unit of every measurement column.
func (n *NameServer) Query(ctx context.Context) (*table.Table, table.Units, error) {
	if strings.TrimSpace(n.creds.ID) == "" || strings.TrimSpace(n.creds.Name) == "" {
		return nil, nil, NewAuthenticationError(n.Name(), "a TNS id and name are required", nil)
	}

	var (
		header []string
		rows   [][]string
	)
	for page := 0; ; page++ {
		h, r, err := n.fetchPage(ctx, page)
		if err != nil {
			return nil, nil, err
		}
		if h == nil {
			break
		}
		if header == nil {
			header = h
		} else if strings.Join(h, "\x00") != strings.Join(header, "\x00") {
			return nil, nil, NewParseError(n.Name(), fmt.Sprintf("page %d has a different header", page), nil)
		}
		rows = append(rows, r...)
		if len(r) < n.opts.PageSize {
			break
		}
	}

	t, units, err := n.normalize(header, rows)
	if err != nil {
		return nil, nil, err
	}
	n.table, n.units = t, units
	return t, units.Clone(), nil
}

func (n *NameServer) fetchPage(ctx context.Context, page int) ([]string, [][]string, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, nil, NewRetrievalError(n.Name(), "waiting for rate limiter", err)
	}

	q := url.Values{}
	q.Set("include_frb", "1")
	q.Set("objtype[]", frbObjectType)
	q.Set("format", "csv")
	q.Set("num_page", strconv.Itoa(n.opts.PageSize))
	q.Set("page", strconv.Itoa(page))

	body, err := download(ctx, n.client, n.Name(), n.baseURL+"/search?"+q.Encode(), http.Header{
		"User-Agent": {n.userAgent()},
		"Accept":     {"text/csv"},
	})
	if err != nil {
		return nil, nil, err
	}
	if looksLikeHTML(body) {
		// TNS answers unknown markers with its HTML front page
		return nil, nil, NewAuthenticationError(n.Name(), "credentials not accepted, got an HTML page instead of CSV", nil)
	}
	if page > 0 && len(bytes.TrimSpace(body)) == 0 {
		// the previous page was full and nothing followed
		return nil, nil, nil
	}

	r := csvReader(body)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, NewParseError(n.Name(), fmt.Sprintf("reading CSV page %d", page), err)
	}
	if len(records) == 0 {
		return nil, nil, NewParseError(n.Name(), fmt.Sprintf("page %d is empty", page), nil)
	}
	return records[0], records[1:], nil
}

// userAgent builds the tns_marker TNS uses to identify and rate limit callers.
func (n *NameServer) userAgent() string {
	marker := struct {
		ID   any    `json:"tns_id"`
		Type string `json:"type"`
		Name string `json:"name"`
	}{Type: "user", Name: n.creds.Name}
	if id, err := strconv.Atoi(n.creds.ID); err == nil {
		marker.ID = id
	} else {
		marker.ID = n.creds.ID
	}
	b, _ := json.Marshal(marker)
	return "tns_marker" + string(b)
}

// column is one source column after header parsing.
type column struct {
	name string
	unit string
}

func (n *NameServer) normalize(header []string, rows [][]string) (*table.Table, table.Units, error) {
	cols := parseHeader(header)

	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.name] = true
	}
	var missing []string
	for _, c := range nameServerInputs {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, nil, NewParseError(n.Name(), "missing columns "+strings.Join(missing, ", "), nil)
	}
	if len(rows) == 0 {
		return nil, nil, NewParseError(n.Name(), "search returned no rows", nil)
	}

	recs := make([]table.Record, len(rows))
	for i := range recs {
		recs[i] = make(table.Record, len(cols))
	}

	declared := make(map[string]string)
	for j, c := range cols {
		cells := make([]string, len(rows))
		for i, r := range rows {
			cells[i] = strings.TrimSpace(r[j])
		}
		unit := normalizeNameServerColumn(c, cells, recs)
		if unit != "" {
			declared[c.name] = unit
		}
	}

	b := table.NewBuilder()
	for _, c := range NameServerColumns {
		b.AddColumn(c)
	}
	for _, r := range recs {
		if tel, ok := r["tel_inst"].(string); ok {
			tele, mode, _ := strings.Cut(tel, "_")
			r["telescope"], r["telescope_mode"] = tele, mode
			delete(r, "tel_inst")
			b.AddColumn("telescope_mode")
		}
		addCoordinates(r, "ra", "decl", [4]string{"ra_frac", "dec_frac", "gl_frac", "gb_frac"})
		b.Add(r)
	}
	t := n.filter(b.Build())
	return t, unitsFor(t, declared), nil
}

func parseHeader(header []string) []column {
	raw := make([]string, len(header))
	units := make(map[string]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		if m := headerUnitRe.FindStringSubmatch(h); m != nil {
			h = m[1]
			units[h] = strings.TrimSpace(m[2])
		}
		raw[i] = h
	}

	reserved := []string{"dec_frac", "gb_frac", "gl_frac", "ra_frac"}
	for _, r := range raw {
		if table.NormalizeName(r) == "tel_inst" {
			reserved = append(reserved, "telescope", "telescope_mode")
			break
		}
	}
	mapping := columnMapping(raw, nameServerRenames, reserved)
	cols := make([]column, len(raw))
	for i, r := range raw {
		cols[i] = column{name: mapping[r], unit: units[r]}
	}
	return cols
}

// normalizeNameServerColumn parses every cell of column c into recs and
// returns the unit the column is expressed in.
func normalizeNameServerColumn(c column, cells []string, recs []table.Record) string {
	switch {
	case slices.Contains(IdentifierColumns, c.name) || nameServerText[c.name] || c.name == "tel_inst":
		for i, s := range cells {
			recs[i][c.name] = emptyToNil(s)
		}
		return c.unit

	case c.name == "ra" || c.name == "decl":
		matches := make([][]string, len(cells))
		hasErr := false
		for i, s := range cells {
			matches[i] = positionRe.FindStringSubmatch(s)
			hasErr = hasErr || (matches[i] != nil && matches[i][2] != "")
		}
		for i, m := range matches {
			if hasErr {
				recs[i][c.name+"_err"] = nil
			}
			if m == nil {
				recs[i][c.name] = emptyToNil(cells[i])
				continue
			}
			recs[i][c.name] = m[1]
			if m[2] != "" {
				recs[i][c.name+"_err"] = numberOrString(m[2])
			}
		}
		return c.unit

	case nameServerDates[c.name]:
		for i, s := range cells {
			if ts, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
				recs[i][c.name] = ts.UTC()
			} else {
				recs[i][c.name] = emptyToNil(s)
			}
		}
		return c.unit
	}

	return normalizeMeasurementColumn(c, cells, recs)
}

type measurement struct {
	value float64
	paren string
	unit  string
}

// normalizeMeasurementColumn handles "value (error) unit" cells. A column is
// only treated as numeric when every non-empty cell parses; otherwise the
// cells are kept as text.
func normalizeMeasurementColumn(c column, cells []string, recs []table.Record) string {
	parsed := make([]*measurement, len(cells))
	unit := c.unit
	for i, s := range cells {
		if s == "" {
			continue
		}
		m, ok := parseMeasurement(s)
		if !ok {
			for k, s := range cells {
				recs[k][c.name] = emptyToNil(s)
			}
			return c.unit
		}
		parsed[i] = m
		if unit == "" {
			unit = m.unit
		}
	}

	hasErr, hasModel := false, false
	for _, m := range parsed {
		if m == nil || m.paren == "" {
			continue
		}
		if _, ok := table.ParseNumber(m.paren); ok {
			hasErr = true
		} else {
			hasModel = true
		}
	}

	for i, m := range parsed {
		rec := recs[i]
		if hasErr {
			rec[c.name+"_err"] = nil
		}
		if hasModel {
			rec[c.name+"_model"] = nil
		}
		if m == nil {
			rec[c.name] = nil
			continue
		}

		scale := 1.0
		if m.unit != "" && unit != "" && m.unit != unit {
			f, ok := unitScale[[2]string{m.unit, unit}]
			if !ok {
				// keep the reading rather than report a number in the wrong unit
				rec[c.name] = cells[i]
				continue
			}
			scale = f
		}

		rec[c.name] = m.value * scale
		if m.paren == "" {
			continue
		}
		if e, ok := table.ParseNumber(m.paren); ok {
			rec[c.name+"_err"] = e * scale
		} else {
			rec[c.name+"_model"] = m.paren
		}
	}
	return unit
}

func parseMeasurement(s string) (*measurement, bool) {
	m := measurementRe.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	v, ok := table.ParseNumber(m[1])
	if !ok {
		return nil, false
	}
	unit := strings.TrimSpace(m[3])
	if unit != "" && !unitRe.MatchString(unit) {
		return nil, false
	}
	return &measurement{value: v, paren: strings.TrimSpace(m[2]), unit: unit}, true
}

// unitsFor returns the unit of every non-identifier column of t. Error and
// model columns share the unit of the value they qualify.
func unitsFor(t *table.Table, declared map[string]string) table.Units {
	units := make(table.Units)
	for _, col := range t.Columns() {
		if slices.Contains(IdentifierColumns, col) {
			continue
		}
		units[col] = lookupUnit(col, declared)
	}
	return units
}

func lookupUnit(col string, declared map[string]string) string {
	if u, ok := declared[col]; ok {
		return u
	}
	if u, ok := defaultUnits[col]; ok {
		return u
	}
	if strings.HasSuffix(col, "_model") {
		return ""
	}
	for _, suffix := range []string{"_err_up", "_err_down", "_err"} {
		if base, ok := strings.CutSuffix(col, suffix); ok {
			return lookupUnit(base, declared)
		}
	}
	return ""
}

func (n *NameServer) filter(t *table.Table) *table.Table {
	isRepeat := func(r table.Record) bool { return !table.IsMissing(r["repeater_of_objid"]) }

	if !n.opts.OneOffs {
		t = t.Filter(isRepeat)
	}
	if !n.opts.Repeaters {
		t = t.Filter(func(r table.Record) bool { return !isRepeat(r) })
	}
	if !n.opts.RepeatBursts {
		t = t.Dedupe("repeater_of_objid", earlier("photometry_date"))
	}
	return t
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
