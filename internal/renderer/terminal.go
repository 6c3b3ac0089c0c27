package renderer

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/janiskrasemann/frbcat/internal/fetcher"
	"github.com/janiskrasemann/frbcat/internal/table"
)

// RenderTable writes the leading limit rows of t to w. With no columns the
// digest summary columns are used; a negative limit prints every row.
func RenderTable(w io.Writer, t *table.Table, columns []string, limit int) error {
	if t == nil || t.Len() == 0 {
		fmt.Fprintln(w, "No rows.")
		return nil
	}
	if len(columns) == 0 {
		columns = summaryColumns(t)
	}
	if missing := t.Missing(columns...); len(missing) > 0 {
		return fmt.Errorf("unknown columns %v", missing)
	}

	tbl := tablewriter.NewWriter(w)
	tbl.Options(
		tablewriter.WithHeader(columns),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(len(columns), tw.AlignLeft)),
	)

	for _, rec := range newest(t, limit) {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = formatCell(rec[c])
		}
		if err := tbl.Append(row); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	if err := tbl.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	if limit >= 0 && t.Len() > limit {
		fmt.Fprintf(w, "... %d more rows\n", t.Len()-limit)
	}
	return nil
}

// RenderResults prints a titled table per result, or the error that stopped it.
func RenderResults(w io.Writer, results []fetcher.Result, limit int) error {
	for _, r := range results {
		fmt.Fprintf(w, "\n%s\n", r.Name)
		if r.Error != nil {
			fmt.Fprintf(w, "Fetch failed: %v\n", r.Error)
			continue
		}
		if err := RenderTable(w, r.Table(), nil, limit); err != nil {
			return fmt.Errorf("rendering %s: %w", r.Name, err)
		}
		if u := r.Units(); len(u) > 0 {
			if err := renderUnits(w, u); err != nil {
				return fmt.Errorf("rendering %s units: %w", r.Name, err)
			}
		}
	}
	return nil
}

func renderUnits(w io.Writer, units table.Units) error {
	tbl := tablewriter.NewWriter(w)
	tbl.Options(
		tablewriter.WithHeader([]string{"Column", "Unit"}),
		tablewriter.WithAlignment(tw.MakeAlign(2, tw.AlignLeft)),
	)
	for _, col := range units.Keys() {
		if units[col] == "" {
			continue
		}
		if err := tbl.Append([]string{col, units[col]}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	return tbl.Render()
}
