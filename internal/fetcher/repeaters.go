package fetcher

import (
	"context"
	_ "embed"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/janiskrasemann/frbcat/internal/table"
)

// RepeaterColumns are guaranteed to be part of every repeater table.
var RepeaterColumns = []string{"dec", "decj", "dm", "frb_name", "gb", "gl", "n_bursts", "ra", "raj", "type"}

//go:embed repeaters.schema.json
var repeatersSchema []byte

var repeaterRenames = map[string]string{
	"ra":  "raj",
	"dec": "decj",
}

// repeaterDerived are filled in for every source. Listing fields of the same
// name are kept as source_<name>.
var repeaterDerived = []string{"dec", "frb_name", "gb", "gl", "n_bursts", "ra", "type"}

// measurementSuffixes maps the error fields of a measurement object to the
// column suffix they are stored under.
var measurementSuffixes = map[string]string{
	"error":      "_err",
	"error_low":  "_err_down",
	"error_high": "_err_up",
}

// Repeaters fetches the listing of known repeating sources, one row per
// source.
type Repeaters struct {
	client  *http.Client
	baseURL string
	table   *table.Table
}

// NewRepeaters returns a repeater fetcher for the listing at location, which
// may be a URL or a file path.
func NewRepeaters(client *http.Client, location string) *Repeaters {
	return &Repeaters{client: client, baseURL: location}
}

func (r *Repeaters) Name() string { return "Repeaters" }

// Table returns the table of the last successful fetch, or nil.
func (r *Repeaters) Table() *table.Table { return r.table }

func (r *Repeaters) Fetch(ctx context.Context) (any, error) {
	t, err := r.FetchTable(ctx)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FetchTable downloads, validates and normalises the listing.
func (r *Repeaters) FetchTable(ctx context.Context) (*table.Table, error) {
	body, err := download(ctx, r.client, r.Name(), r.baseURL, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, err
	}
	if err := r.validate(body); err != nil {
		return nil, err
	}

	b := table.NewBuilder()
	for _, col := range RepeaterColumns {
		b.AddColumn(col)
	}
	listing := gjson.ParseBytes(body)
	mapping := columnMapping(fieldNames(listing), repeaterRenames, repeaterDerived)
	// gjson walks the object in document order, which keeps rows in the order
	// the listing publishes them.
	listing.ForEach(func(key, source gjson.Result) bool {
		b.Add(repeaterRow(key.String(), source, mapping))
		return true
	})

	r.table = b.Build()
	return r.table, nil
}

func (r *Repeaters) validate(body []byte) error {
	if !gjson.ValidBytes(body) {
		return NewParseError(r.Name(), "listing is not valid JSON", nil)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(repeatersSchema),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		return NewParseError(r.Name(), "validating listing", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return NewParseError(r.Name(), "listing does not match schema: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

// fieldNames lists every field used by any source of the listing.
func fieldNames(listing gjson.Result) []string {
	var names []string
	seen := make(map[string]bool)
	listing.ForEach(func(_, source gjson.Result) bool {
		source.ForEach(func(k, _ gjson.Result) bool {
			if !seen[k.String()] {
				seen[k.String()] = true
				names = append(names, k.String())
			}
			return true
		})
		return true
	})
	return names
}

func repeaterRow(name string, source gjson.Result, mapping map[string]string) table.Record {
	rec := table.Record{"frb_name": name, "type": "repeater"}
	bursts := 0

	source.ForEach(func(k, v gjson.Result) bool {
		col := mapping[k.String()]

		switch {
		case v.IsObject() && v.Get("value").Exists():
			val, split := normalizeCell(jsonScalar(v.Get("value")))
			rec[col] = val
			for suffix, e := range split {
				setMissing(rec, col+suffix, e)
			}
			for field, suffix := range measurementSuffixes {
				if e := v.Get(field); e.Exists() {
					rec[col+suffix] = jsonScalar(e)
				}
			}
		case v.IsObject():
			// anything else nested is a per-burst entry
			bursts++
		default:
			val, split := normalizeCell(jsonScalar(v))
			rec[col] = val
			for suffix, e := range split {
				setMissing(rec, col+suffix, e)
			}
		}
		return true
	})

	rec["n_bursts"] = float64(bursts)
	addCoordinates(rec, "raj", "decj", [4]string{"ra", "dec", "gl", "gb"})
	return rec
}
