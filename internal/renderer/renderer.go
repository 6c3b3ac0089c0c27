package renderer

import (
	"bytes"
	_ "embed"
	"fmt"
	htmltpl "html/template"
	"strings"
	texttpl "text/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/janiskrasemann/frbcat/internal/fetcher"
	"github.com/janiskrasemann/frbcat/internal/table"
)

//go:embed templates/digest.html.tmpl
var defaultHTMLTemplate string

//go:embed templates/digest.txt.tmpl
var defaultTextTemplate string

// DefaultLimit is how many of the newest rows a digest section shows.
const DefaultLimit = 10

type DigestData struct {
	Date    string
	Limit   int
	Results []fetcher.Result
}

type RenderedEmail struct {
	HTML string
	Text string
}

type Renderer struct {
	htmlTpl *htmltpl.Template
	textTpl *texttpl.Template
	limit   int
	now     func() time.Time
}

// NewDefault returns a renderer using the built-in digest templates.
func NewDefault() (*Renderer, error) {
	return New(defaultHTMLTemplate, defaultTextTemplate)
}

func New(htmlTemplate, textTemplate string) (*Renderer, error) {
	shared := map[string]any{
		"table":   asTable,
		"units":   units,
		"count":   count,
		"cell":    table.String,
		"columns": summaryColumns,
		"newest":  newest,
		"mdTable": markdownTable,
	}
	funcMap := htmltpl.FuncMap{"markdown": renderMarkdown}
	textFuncMap := texttpl.FuncMap{}
	for k, v := range shared {
		funcMap[k] = v
		textFuncMap[k] = v
	}

	ht, err := htmltpl.New("digest.html").Funcs(funcMap).Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML template: %w", err)
	}

	tt, err := texttpl.New("digest.txt").Funcs(textFuncMap).Parse(textTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing text template: %w", err)
	}

	return &Renderer{htmlTpl: ht, textTpl: tt, limit: DefaultLimit, now: time.Now}, nil
}

// SetLimit changes how many rows each section lists.
func (r *Renderer) SetLimit(n int) {
	if n > 0 {
		r.limit = n
	}
}

func (r *Renderer) Render(results []fetcher.Result) (*RenderedEmail, error) {
	data := DigestData{
		Date:    r.now().Format("Monday, January 2, 2006"),
		Limit:   r.limit,
		Results: results,
	}

	var htmlBuf bytes.Buffer
	if err := r.htmlTpl.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("rendering HTML: %w", err)
	}

	var textBuf bytes.Buffer
	if err := r.textTpl.Execute(&textBuf, data); err != nil {
		return nil, fmt.Errorf("rendering text: %w", err)
	}

	return &RenderedEmail{
		HTML: htmlBuf.String(),
		Text: textBuf.String(),
	}, nil
}

func asTable(r fetcher.Result) *table.Table { return r.Table() }

func units(r fetcher.Result) table.Units { return r.Units() }

// count returns how many rows of t have col equal to val.
func count(t *table.Table, col, val string) int {
	if t == nil {
		return 0
	}
	return t.Counts(col)[val]
}

// summaryPreference lists, per digest column, the source columns that can fill
// it in order of preference.
var summaryPreference = [][]string{
	{"frb_name", "name"},
	{"utc", "discovery_date"},
	{"telescope"},
	{"dm"},
	{"ra", "ra_frac"},
	{"dec", "dec_frac"},
	{"type", "n_bursts"},
}

// summaryColumns picks the columns shown for t in the digest.
func summaryColumns(t *table.Table) []string {
	if t == nil {
		return nil
	}
	var cols []string
	for _, options := range summaryPreference {
		for _, c := range options {
			if t.HasColumn(c) {
				cols = append(cols, c)
				break
			}
		}
	}
	return cols
}

// newest returns up to n leading rows. Fetchers already sort newest first.
func newest(t *table.Table, n int) []table.Record {
	if t == nil {
		return nil
	}
	rows := t.Rows()
	if n >= 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// markdownTable formats the leading n rows of t as a GFM pipe table.
func markdownTable(t *table.Table, n int) string {
	cols := summaryColumns(t)
	if len(cols) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, row := range newest(t, n) {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = markdownCell(row[c])
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

func formatCell(v any) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%.4g", f)
	}
	if ts, ok := table.Time(v); ok {
		return ts.Format("2006-01-02 15:04")
	}
	return table.String(v)
}

var markdownEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"|", `\|`,
	"\r", "",
	"\n", " ",
)

// markdownCell formats v for a pipe table. Catalogue text is remote input, so
// it is escaped rather than passed through as markup.
func markdownCell(v any) string {
	return markdownEscaper.Replace(formatCell(v))
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.Table),
)

func renderMarkdown(s string) htmltpl.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(s), &buf); err != nil {
		return htmltpl.HTML(htmltpl.HTMLEscapeString(s))
	}
	return htmltpl.HTML(buf.String())
}
