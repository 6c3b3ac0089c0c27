// Package export writes fetched tables to disk.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gopkg.in/yaml.v3"

	"github.com/janiskrasemann/frbcat/internal/table"
)

// Supported formats.
const (
	CSV     = "csv"
	Parquet = "parquet"
)

// WriteCSV writes t with a header row in column order. Missing values are
// empty cells and times are RFC 3339.
func WriteCSV(w io.Writer, t *table.Table) error {
	cw := csv.NewWriter(w)
	cols := t.Columns()
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	row := make([]string, len(cols))
	for i := 0; i < t.Len(); i++ {
		for j, c := range cols {
			row[j] = table.String(t.Value(i, c))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing CSV: %w", err)
	}
	return nil
}

// WriteParquet writes t as a single row group. Columns holding only numbers
// become DOUBLE, only booleans BOOLEAN, everything else UTF8 strings.
func WriteParquet(w io.Writer, t *table.Table) error {
	cols := t.Columns()
	types := make(map[string]string, len(cols))
	for _, c := range cols {
		types[c] = parquetType(t.Column(c))
	}

	pfw := writerfile.NewWriterFile(w)
	pw, err := writer.NewJSONWriter(parquetSchema(cols, types), pfw, 4)
	if err != nil {
		return fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := 0; i < t.Len(); i++ {
		row := make(map[string]any, len(cols))
		for _, c := range cols {
			row[c] = parquetValue(t.Value(i, c), types[c])
		}
		b, err := json.Marshal(row)
		if err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("encoding parquet row %d: %w", i, err)
		}
		if err := pw.Write(string(b)); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("writing parquet row %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finishing parquet file: %w", err)
	}
	return nil
}

const (
	parquetDouble = "DOUBLE"
	parquetBool   = "BOOLEAN"
	parquetString = "BYTE_ARRAY"
)

func parquetType(values []any) string {
	kind := ""
	for _, v := range values {
		if table.IsMissing(v) {
			continue
		}
		var k string
		switch v.(type) {
		case float64:
			k = parquetDouble
		case bool:
			k = parquetBool
		default:
			return parquetString
		}
		if kind != "" && kind != k {
			return parquetString
		}
		kind = k
	}
	if kind == "" {
		return parquetString
	}
	return kind
}

func parquetSchema(cols []string, types map[string]string) string {
	fields := make([]map[string]string, 0, len(cols))
	for _, c := range cols {
		tag := fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", c, types[c])
		if types[c] == parquetString {
			tag = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c)
		}
		fields = append(fields, map[string]string{"Tag": tag})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetValue(v any, typ string) any {
	if table.IsMissing(v) {
		return nil
	}
	if typ == parquetString {
		return table.String(v)
	}
	return v
}

// WriteUnits writes the column units as a YAML mapping sorted by column.
func WriteUnits(w io.Writer, units table.Units) error {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, col := range units.Keys() {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: col},
			&yaml.Node{Kind: yaml.ScalarNode, Value: units[col], Style: yaml.DoubleQuotedStyle},
		)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return fmt.Errorf("encoding units: %w", err)
	}
	return enc.Close()
}

// FileName is the dated base name a table is saved under, e.g.
// frbcat_2024-03-01.
func FileName(name string, date time.Time) string {
	return fmt.Sprintf("%s_%s", table.NormalizeName(name), date.Format("2006-01-02"))
}

// WriteFiles saves t in every requested format under dir and, when units is
// non-empty, a <name>_units.yaml next to it. It returns the paths written.
func WriteFiles(dir, name string, t *table.Table, units table.Units, formats []string, date time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	base := filepath.Join(dir, FileName(name, date))
	var written []string
	for _, format := range formats {
		var write func(io.Writer) error
		switch format {
		case CSV:
			write = func(w io.Writer) error { return WriteCSV(w, t) }
		case Parquet:
			write = func(w io.Writer) error { return WriteParquet(w, t) }
		default:
			return written, fmt.Errorf("unknown format %q", format)
		}

		path := base + "." + format
		if err := writeFile(path, write); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if len(units) > 0 {
		path := base + "_units.yaml"
		if err := writeFile(path, func(w io.Writer) error { return WriteUnits(w, units) }); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// writeFile writes through a temporary file so a failed export never leaves a
// truncated file behind.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
