package fetcher

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/janiskrasemann/frbcat/internal/table"
)

// DefaultCatalogueURL is the FRBCAT products API.
const DefaultCatalogueURL = "https://frbcat.org"

// Catalogue formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// CatalogueColumns are guaranteed to be part of every catalogue table.
var CatalogueColumns = []string{"dec", "decj", "dm", "frb_name", "gb", "gl", "ra", "raj", "telescope", "type", "utc"}

// catalogueInputs must be supplied by the source for the derived columns to
// make sense.
var catalogueInputs = []string{"decj", "dm", "frb_name", "raj", "telescope", "utc"}

// catalogueDerived are computed for every row. Source columns of the same name
// are kept as source_<name>.
var catalogueDerived = []string{"dec", "fluence", "gb", "gl", "ra", "type", "w_arr"}

// catalogueNotes are the per-id pages merged into every analysis, keyed by the
// id column they belong to.
var catalogueNotes = []struct {
	idCol  string
	path   string
	prefix string
}{
	{"frb_id", "/frbnotes/", "frb_notes_"},
	{"rop_id", "/ropnotes/", "rop_notes_"},
	{"rmp_id", "/rmppubs/", "rmp_pub_"},
}

// CatalogueOptions selects which bursts end up in the table.
type CatalogueOptions struct {
	// Format is FormatCSV or FormatJSON.
	Format string
	// OneOffs keeps sources seen only once.
	OneOffs bool
	// Repeaters keeps sources seen more than once.
	Repeaters bool
	// RepeatBursts keeps every burst of a repeater instead of only the first.
	RepeatBursts bool
	// OneEntryPerFRB keeps only the most complete analysis of each burst.
	OneEntryPerFRB bool
}

// DefaultCatalogueOptions returns options that keep every burst once.
func DefaultCatalogueOptions() CatalogueOptions {
	return CatalogueOptions{
		Format:         FormatJSON,
		OneOffs:        true,
		Repeaters:      true,
		RepeatBursts:   true,
		OneEntryPerFRB: true,
	}
}

// Catalogue fetches the FRB catalogue, either as a single CSV document or from
// the FRBCAT JSON API.
type Catalogue struct {
	client  *http.Client
	baseURL string
	opts    CatalogueOptions
	table   *table.Table
}

// NewCatalogue returns a catalogue fetcher. An empty location selects the
// FRBCAT API; for the CSV format location may be a URL or a file path.
func NewCatalogue(client *http.Client, location string, opts CatalogueOptions) *Catalogue {
	if location == "" {
		location = DefaultCatalogueURL
	}
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	return &Catalogue{client: client, baseURL: strings.TrimRight(location, "/"), opts: opts}
}

func (c *Catalogue) Name() string { return "FRBCAT" }

// Table returns the table of the last successful fetch, or nil.
func (c *Catalogue) Table() *table.Table { return c.table }

func (c *Catalogue) Fetch(ctx context.Context) (any, error) {
	t, err := c.FetchTable(ctx)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FetchTable downloads and normalises the catalogue.
func (c *Catalogue) FetchTable(ctx context.Context) (*table.Table, error) {
	var (
		raw []map[string]any
		err error
	)
	switch c.opts.Format {
	case FormatCSV:
		raw, err = c.fetchCSV(ctx)
	case FormatJSON:
		raw, err = c.fetchAPI(ctx)
	default:
		return nil, NewParseError(c.Name(), fmt.Sprintf("unknown catalogue format %q", c.opts.Format), nil)
	}
	if err != nil {
		return nil, err
	}

	t, err := c.normalize(raw)
	if err != nil {
		return nil, err
	}
	c.table = t
	return t, nil
}

func (c *Catalogue) fetchCSV(ctx context.Context) ([]map[string]any, error) {
	body, err := download(ctx, c.client, c.Name(), c.baseURL, nil)
	if err != nil {
		return nil, err
	}
	if looksLikeHTML(body) {
		return nil, NewParseError(c.Name(), "expected CSV, got an HTML page", nil)
	}
	rows, err := readCSV(body)
	if err != nil {
		return nil, NewParseError(c.Name(), "reading CSV", err)
	}
	return rows, nil
}

// readCSV turns a CSV document into one map per row. Columns with an empty
// header, such as the index column pandas writes, carry no field and are
// skipped.
func readCSV(body []byte) ([]map[string]any, error) {
	r := csvReader(body)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, err
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	var rows []map[string]any
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(header))
		for i, h := range header {
			if strings.TrimSpace(h) == "" {
				continue
			}
			row[h] = fields[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func csvReader(body []byte) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(body))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return r
}

// fetchAPI reads the product list and then every analysis of each listed
// burst, as FRBCAT only returns the headline analysis in the list.
func (c *Catalogue) fetchAPI(ctx context.Context) ([]map[string]any, error) {
	list, err := c.fetchProducts(ctx, c.baseURL+"/products/")
	if err != nil {
		return nil, err
	}

	var names []string
	seen := make(map[string]bool)
	for _, p := range list {
		name, ok := p["frb_name"].(string)
		if !ok || name == "" {
			return nil, NewParseError(c.Name(), "product without frb_name", nil)
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	var rows []map[string]any
	for _, name := range names {
		products, err := c.fetchProducts(ctx, c.baseURL+"/product/"+url.PathEscape(name))
		if err != nil {
			return nil, err
		}
		rows = append(rows, products...)
	}

	for _, n := range catalogueNotes {
		if err := c.mergeNotes(ctx, rows, n.idCol, n.path, n.prefix); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// mergeNotes adds the notes page of every distinct id in idCol to the rows
// carrying that id, each field under prefix. Bursts without notes are common,
// so a page the server cannot serve leaves the rows as they are.
func (c *Catalogue) mergeNotes(ctx context.Context, rows []map[string]any, idCol, path, prefix string) error {
	pages := make(map[string][]map[string]any)
	for _, row := range rows {
		id := table.String(row[idCol])
		if id == "" {
			continue
		}
		notes, ok := pages[id]
		if !ok {
			var err error
			notes, err = c.fetchProducts(ctx, c.baseURL+path+url.PathEscape(id))
			if err != nil && !unavailable(err) {
				return err
			}
			pages[id] = notes
		}
		for _, note := range notes {
			for k, v := range note {
				mergeValue(row, prefix+k, v)
			}
		}
	}
	return nil
}

// mergeValue sets row[col] to v, joining distinct values when several notes
// fill the same field.
func mergeValue(row map[string]any, col string, v any) {
	cur, ok := row[col]
	switch {
	case table.IsMissing(v):
		if !ok {
			row[col] = nil
		}
	case !ok || table.IsMissing(cur):
		row[col] = v
	case table.String(cur) != table.String(v):
		row[col] = table.String(cur) + "; " + table.String(v)
	}
}

// unavailable reports whether err means the server answered without a usable
// page, as opposed to not answering at all.
func unavailable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindParse || (e.Kind == KindRetrieval && e.Cause == nil)
}

func (c *Catalogue) fetchProducts(ctx context.Context, location string) ([]map[string]any, error) {
	body, err := download(ctx, c.client, c.Name(), location, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, NewParseError(c.Name(), "invalid JSON from "+location, nil)
	}

	products := gjson.GetBytes(body, "products")
	if !products.IsArray() {
		return nil, NewParseError(c.Name(), "missing products array in "+location, nil)
	}

	var (
		rows   []map[string]any
		badRow bool
	)
	products.ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsObject() {
			badRow = true
			return false
		}
		row := make(map[string]any)
		entry.ForEach(func(k, v gjson.Result) bool {
			row[k.String()] = jsonScalar(v)
			return true
		})
		rows = append(rows, row)
		return true
	})
	if badRow {
		return nil, NewParseError(c.Name(), "products entry is not an object in "+location, nil)
	}
	return rows, nil
}

func jsonScalar(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		return v.Float()
	case gjson.True, gjson.False:
		return v.Bool()
	case gjson.String:
		return v.String()
	}
	return v.Raw
}

func (c *Catalogue) normalize(raw []map[string]any) (*table.Table, error) {
	if len(raw) == 0 {
		return nil, NewParseError(c.Name(), "catalogue has no rows", nil)
	}

	var names []string
	seen := make(map[string]bool)
	for _, r := range raw {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	mapping := columnMapping(names, catalogueRenames, catalogueDerived, "rop_", "rmp_")

	have := make(map[string]bool, len(mapping))
	for _, n := range mapping {
		have[n] = true
	}
	var missing []string
	for _, col := range catalogueInputs {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, NewParseError(c.Name(), "missing columns "+strings.Join(missing, ", "), nil)
	}

	rows := make([]table.Record, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, normalizeCatalogueRow(r, mapping))
	}
	classify(rows, "frb_name", "utc")

	b := table.NewBuilder()
	for _, col := range CatalogueColumns {
		b.AddColumn(col)
	}
	for _, r := range rows {
		b.Add(r)
	}
	return c.filter(b.Build()), nil
}

func normalizeCatalogueRow(raw map[string]any, mapping map[string]string) table.Record {
	rec := make(table.Record, len(raw))
	extras := make(map[string]any)
	for k, v := range raw {
		col := mapping[k]
		val, split := normalizeCell(v)
		rec[col] = val
		for suffix, e := range split {
			extras[col+suffix] = e
		}
	}
	for col, v := range extras {
		setMissing(rec, col, v)
	}

	if s, ok := rec["utc"].(string); ok {
		if ts, ok := parseTime(s); ok {
			rec["utc"] = ts
		}
	}
	if tel, ok := rec["telescope"].(string); ok {
		tel = strings.ToLower(tel)
		// "chime/frb" and friends name the backend after the slash
		if before, _, found := strings.Cut(tel, "/"); found {
			tel = before
		}
		rec["telescope"] = tel
	}
	if desc, ok := rec["pub_description"].(string); ok {
		rec["pub_description"] = strings.ReplaceAll(strings.ReplaceAll(desc, "\r", ""), "\n", "")
	}

	addDerivedWidths(rec)
	addCoordinates(rec, "raj", "decj", [4]string{"ra", "dec", "gl", "gb"})
	return rec
}

// addDerivedWidths adds the fluence and an estimate of the pulse width on
// arrival at Earth, w_arr² = w_eff² - t_dm² - t_scat² - t_samp².
func addDerivedWidths(rec table.Record) {
	speak, okS := table.Float(rec["s_peak"])
	weff, okW := table.Float(rec["w_eff"])
	if _, ok := rec["s_peak"]; ok {
		rec["fluence"] = nil
		if okS && okW {
			setMissing(rec, "fluence", speak*weff)
		}
	}
	if _, ok := rec["w_eff"]; !ok {
		return
	}

	rec["w_arr"] = nil
	if !okW {
		return
	}
	sq := weff * weff
	for _, c := range []string{"t_dm", "t_scat", "t_samp"} {
		if v, ok := table.Float(rec[c]); ok {
			sq -= v * v
		}
	}
	if sq >= 0 {
		rec["w_arr"] = math.Sqrt(sq)
	}
}

func (c *Catalogue) filter(t *table.Table) *table.Table {
	if c.opts.OneEntryPerFRB {
		t = t.Dedupe("utc", func(candidate, current table.Record) bool {
			return candidate.Present() > current.Present()
		})
	}
	if !c.opts.OneOffs {
		t = t.Filter(func(r table.Record) bool { return r["type"] == "repeater" })
	}
	if !c.opts.Repeaters {
		t = t.Filter(func(r table.Record) bool { return r["type"] != "repeater" })
	}
	if !c.opts.RepeatBursts {
		t = t.Dedupe("frb_name", earlier("utc"))
	}
	return t.SortBy(newestFirst("utc"))
}
