package fetcher

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/janiskrasemann/frbcat/internal/table"
)

const searchHeader = `"ID","Name","RA","DEC","Redshift","DM (pc cm^-3)","Galactic Max DM","Fluence","Flux","Burst Width","Ref Freq","Tel_Inst","Discovery Date (UT)","Obsdate","Repeater of ObjID","Reporting Group","Remarks"`

var searchRows = []string{
	`"101","FRB 20180916B","01:57:43.20 (0.1)","+65:42:01.0","","348.772","200","5.2 (0.3)","0.5","1.2 ms","1400 MHz","CHIME_FRB","2018-09-16 10:54:14","2018-09-16 10:54:14","","CHIME","first"`,
	`"102","FRB 20190101A","05:31:58.70","+33:08:52.5","","557","150","2.0","0.3 (model)","2.0 ms","1.25 GHz","Arecibo_ALFA","2019-01-01 00:00:00","2019-02-01 00:00:00","77","Arecibo",""`,
	`"103","FRB 20190201A","05:31:58.70","+33:08:52.5","","560","150","1.0","0.2","3.0 ms","1400 MHz","Arecibo_ALFA","2019-02-01 00:00:00","2019-01-15 00:00:00","77","Arecibo","later report"`,
}

// searchServer serves searchRows in pages of the requested size.
type searchServer struct {
	*httptest.Server
	mu      sync.Mutex
	agents  []string
	queries []string
}

func (s *searchServer) requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func newSearchServer(t *testing.T, handler func(w http.ResponseWriter, page, size int)) *searchServer {
	t.Helper()
	s := &searchServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.agents = append(s.agents, r.Header.Get("User-Agent"))
		s.queries = append(s.queries, r.URL.RawQuery)
		s.mu.Unlock()
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("num_page"))
		handler(w, page, size)
	}))
	t.Cleanup(s.Close)
	return s
}

func servePages(rows []string) func(w http.ResponseWriter, page, size int) {
	return func(w http.ResponseWriter, page, size int) {
		w.Header().Set("Content-Type", "text/csv")
		lines := []string{searchHeader}
		start := min(page*size, len(rows))
		end := min(start+size, len(rows))
		lines = append(lines, rows[start:end]...)
		w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	}
}

func testNameServerOptions() NameServerOptions {
	opts := DefaultNameServerOptions()
	opts.RequestsPerSecond = 1000
	return opts
}

var testCredentials = Credentials{ID: "1234", Name: "frb_bot"}

func TestNameServerQuery(t *testing.T) {
	server := newSearchServer(t, servePages(searchRows))

	ns := NewNameServer(server.Client(), server.URL, testCredentials, testNameServerOptions())
	tbl, units, err := ns.Query(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if missing := tbl.Missing(NameServerColumns...); len(missing) > 0 {
		t.Fatalf("missing documented columns: %v", missing)
	}
	if tbl.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.Len())
	}

	first := tbl.Row(0)
	if first["tns_id"] != "101" || first["name"] != "FRB 20180916B" {
		t.Errorf("unexpected identifiers: %v %v", first["tns_id"], first["name"])
	}
	if first["ra"] != "01:57:43.20" || first["ra_err"] != 0.1 {
		t.Errorf("expected ra 01:57:43.20 (0.1), got %v (%v)", first["ra"], first["ra_err"])
	}
	if first["decl"] != "+65:42:01.0" {
		t.Errorf("expected decl +65:42:01.0, got %v", first["decl"])
	}
	if ra, _ := table.Float(first["ra_frac"]); math.Abs(ra-29.43) > 1e-6 {
		t.Errorf("expected ra_frac 29.43, got %v", first["ra_frac"])
	}
	if first["fluence"] != 5.2 || first["fluence_err"] != 0.3 {
		t.Errorf("expected fluence 5.2 (0.3), got %v (%v)", first["fluence"], first["fluence_err"])
	}
	if first["burst_width"] != 1.2 {
		t.Errorf("expected burst width 1.2, got %v", first["burst_width"])
	}
	if first["telescope"] != "CHIME" || first["telescope_mode"] != "FRB" {
		t.Errorf("expected telescope CHIME/FRB, got %v/%v", first["telescope"], first["telescope_mode"])
	}
	if first["reporting_group"] != "CHIME" || first["remarks"] != "first" {
		t.Errorf("expected text columns to stay text, got %v %v", first["reporting_group"], first["remarks"])
	}
	if first["redshift"] != nil {
		t.Errorf("expected empty redshift to be missing, got %v", first["redshift"])
	}
	want := time.Date(2018, 9, 16, 10, 54, 14, 0, time.UTC)
	if ts, ok := table.Time(first["discovery_date"]); !ok || !ts.Equal(want) {
		t.Errorf("expected discovery date %v, got %v", want, first["discovery_date"])
	}

	second := tbl.Row(1)
	if second["flux"] != 0.3 || second["flux_model"] != "model" {
		t.Errorf("expected flux 0.3 (model), got %v (%v)", second["flux"], second["flux_model"])
	}
	if f, _ := table.Float(second["ref_freq"]); math.Abs(f-1250) > 1e-9 {
		t.Errorf("expected ref freq converted to 1250 MHz, got %v", second["ref_freq"])
	}
	if second["remarks"] != nil {
		t.Errorf("expected empty remarks to be missing, got %v", second["remarks"])
	}

	var wantKeys []string
	for _, c := range tbl.Columns() {
		if !slices.Contains(IdentifierColumns, c) {
			wantKeys = append(wantKeys, c)
		}
	}
	if got := units.Keys(); !slices.Equal(got, wantKeys) {
		t.Errorf("unit keys do not match measurement columns:\n got %v\nwant %v", got, wantKeys)
	}

	for col, unit := range map[string]string{
		"dm":              "pc cm^-3",
		"ref_freq":        "MHz",
		"burst_width":     "ms",
		"galactic_max_dm": "pc cm^-3",
		"fluence_err":     "Jy ms",
		"ra_frac":         "frac. degrees",
		"flux_model":      "",
	} {
		if units[col] != unit {
			t.Errorf("expected unit %q for %s, got %q", unit, col, units[col])
		}
	}

	if ns.Table() != tbl {
		t.Error("expected Table to return the last result")
	}
	ns.Units()["dm"] = "changed"
	if ns.Units()["dm"] != "pc cm^-3" {
		t.Error("expected Units to return a copy")
	}
}

func TestNameServerPaging(t *testing.T) {
	server := newSearchServer(t, servePages(searchRows))

	opts := testNameServerOptions()
	opts.PageSize = 2
	ns := NewNameServer(server.Client(), server.URL, testCredentials, opts)
	result, err := ns.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, ok := result.(NameServerResult)
	if !ok {
		t.Fatal("result is not NameServerResult")
	}
	if res.Table.Len() != 3 {
		t.Errorf("expected 3 rows over two pages, got %d", res.Table.Len())
	}
	if server.requests() != 2 {
		t.Errorf("expected 2 requests, got %d", server.requests())
	}

	for i, raw := range server.queries {
		q := parseQuery(t, raw)
		if q.Get("page") != strconv.Itoa(i) {
			t.Errorf("request %d: expected page %d, got %s", i, i, q.Get("page"))
		}
		if q.Get("num_page") != "2" || q.Get("format") != "csv" || q.Get("include_frb") != "1" || q.Get("objtype[]") != "130" {
			t.Errorf("request %d: unexpected query %s", i, raw)
		}
	}

	agent := server.agents[0]
	marker, ok := strings.CutPrefix(agent, "tns_marker")
	if !ok {
		t.Fatalf("expected a tns_marker user agent, got %q", agent)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(marker), &got); err != nil {
		t.Fatalf("marker is not JSON: %v", err)
	}
	if got["tns_id"] != 1234.0 || got["type"] != "user" || got["name"] != "frb_bot" {
		t.Errorf("unexpected marker %v", got)
	}
}

func TestNameServerFullLastPage(t *testing.T) {
	server := newSearchServer(t, servePages(searchRows[:2]))

	opts := testNameServerOptions()
	opts.PageSize = 2
	tbl, _, err := NewNameServer(server.Client(), server.URL, testCredentials, opts).Query(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Len() != 2 {
		t.Errorf("expected 2 rows, got %d", tbl.Len())
	}
	if server.requests() != 2 {
		t.Errorf("expected a trailing empty page request, got %d requests", server.requests())
	}
}

func TestNameServerEmptyTrailingPage(t *testing.T) {
	server := newSearchServer(t, func(w http.ResponseWriter, page, size int) {
		if page > 0 {
			return
		}
		servePages(searchRows[:2])(w, page, size)
	})

	opts := testNameServerOptions()
	opts.PageSize = 2
	tbl, _, err := NewNameServer(server.Client(), server.URL, testCredentials, opts).Query(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Len() != 2 {
		t.Errorf("expected 2 rows, got %d", tbl.Len())
	}
	if server.requests() != 2 {
		t.Errorf("expected 2 requests, got %d", server.requests())
	}
}

func TestNameServerHeaderKeepsCollidingColumns(t *testing.T) {
	cols := parseHeader([]string{"Name", "RA", "ra_frac", "Tel_Inst", "Telescope"})

	got := make([]string, len(cols))
	for i, c := range cols {
		got[i] = c.name
	}
	want := []string{"name", "ra", "source_ra_frac", "tel_inst", "source_telescope"}
	if !slices.Equal(got, want) {
		t.Errorf("expected columns %v, got %v", want, got)
	}
}

func TestNameServerFilters(t *testing.T) {
	server := newSearchServer(t, servePages(searchRows))

	tests := []struct {
		name  string
		setup func(*NameServerOptions)
		want  []string
	}{
		{
			name:  "no one-offs",
			setup: func(o *NameServerOptions) { o.OneOffs = false },
			want:  []string{"FRB 20190101A", "FRB 20190201A"},
		},
		{
			name:  "no repeaters",
			setup: func(o *NameServerOptions) { o.Repeaters = false },
			want:  []string{"FRB 20180916B"},
		},
		{
			name:  "first burst only",
			setup: func(o *NameServerOptions) { o.RepeatBursts = false },
			want:  []string{"FRB 20180916B", "FRB 20190201A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testNameServerOptions()
			tt.setup(&opts)

			tbl, _, err := NewNameServer(server.Client(), server.URL, testCredentials, opts).Query(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var names []string
			for _, v := range tbl.Column("name") {
				names = append(names, table.String(v))
			}
			if !slices.Equal(names, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, names)
			}
		})
	}
}

func TestNameServerMissingCredentials(t *testing.T) {
	server := newSearchServer(t, servePages(searchRows))

	for _, creds := range []Credentials{{}, {ID: "1234"}, {Name: "frb_bot"}, {ID: " ", Name: " "}} {
		ns := NewNameServer(server.Client(), server.URL, creds, testNameServerOptions())
		if _, _, err := ns.Query(context.Background()); !IsAuthentication(err) {
			t.Errorf("credentials %+v: expected an authentication error, got %v", creds, err)
		}
	}
	if server.requests() != 0 {
		t.Errorf("expected no requests without credentials, got %d", server.requests())
	}
}

func TestNameServerErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, page, size int)
		check   func(error) bool
		wantMsg string
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, page, size int) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			check:   IsAuthentication,
			wantMsg: "status 401",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, page, size int) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			check:   IsRetrieval,
			wantMsg: "status 500",
		},
		{
			name: "html front page",
			handler: func(w http.ResponseWriter, page, size int) {
				w.Write([]byte("<!DOCTYPE html><html><body>Welcome</body></html>"))
			},
			check:   IsAuthentication,
			wantMsg: "credentials not accepted",
		},
		{
			name: "missing columns",
			handler: func(w http.ResponseWriter, page, size int) {
				w.Write([]byte("Name,RA\nFRB 1,01:00:00\n"))
			},
			check:   IsParse,
			wantMsg: "missing columns decl",
		},
		{
			name: "no rows",
			handler: func(w http.ResponseWriter, page, size int) {
				w.Write([]byte(searchHeader + "\n"))
			},
			check:   IsParse,
			wantMsg: "no rows",
		},
		{
			name: "header changes between pages",
			handler: func(w http.ResponseWriter, page, size int) {
				if page == 0 {
					servePages(searchRows)(w, page, size)
					return
				}
				w.Write([]byte("Name,RA,DEC\nFRB 1,01:00:00,+10:00:00\n"))
			},
			check:   IsParse,
			wantMsg: "different header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newSearchServer(t, tt.handler)

			opts := testNameServerOptions()
			opts.PageSize = 3
			ns := NewNameServer(server.Client(), server.URL, testCredentials, opts)
			result, err := ns.Fetch(context.Background())
			if !tt.check(err) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected %q in %q", tt.wantMsg, err.Error())
			}
			if result != nil || ns.Table() != nil {
				t.Error("expected no result on failure")
			}
		})
	}
}

func TestNameServerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	location := server.URL
	server.Close()

	_, _, err := NewNameServer(http.DefaultClient, location, testCredentials, testNameServerOptions()).Query(context.Background())
	if !IsRetrieval(err) {
		t.Fatalf("expected a retrieval error, got %v", err)
	}
}

func TestNameServerCancelled(t *testing.T) {
	server := newSearchServer(t, servePages(searchRows))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewNameServer(server.Client(), server.URL, testCredentials, testNameServerOptions()).Query(ctx)
	if !IsRetrieval(err) {
		t.Fatalf("expected a retrieval error, got %v", err)
	}
}

func parseQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	q, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("invalid query %q: %v", raw, err)
	}
	return q
}
