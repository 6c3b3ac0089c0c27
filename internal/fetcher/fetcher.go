package fetcher

import (
	"context"

	"github.com/janiskrasemann/frbcat/internal/table"
)

// Result holds the output of a single fetcher.
type Result struct {
	Name  string
	Data  any
	Error error
}

// Table returns the table carried by the result, or nil when the fetch failed
// or produced something else.
func (r Result) Table() *table.Table {
	switch d := r.Data.(type) {
	case *table.Table:
		return d
	case NameServerResult:
		return d.Table
	}
	return nil
}

// Units returns the column units when the result came from the name server.
func (r Result) Units() table.Units {
	if d, ok := r.Data.(NameServerResult); ok {
		return d.Units
	}
	return nil
}

// Fetcher is the interface all catalogue sources implement.
type Fetcher interface {
	// Name returns a human-readable name for the source.
	Name() string
	// Fetch retrieves and normalises the source.
	Fetch(ctx context.Context) (any, error)
}
