package aggregator

import (
	"context"
	"log"
	"time"

	"github.com/janiskrasemann/frbcat/internal/fetcher"
)

type Aggregator struct {
	fetchers []fetcher.Fetcher
}

func New(fetchers ...fetcher.Fetcher) *Aggregator {
	return &Aggregator{fetchers: fetchers}
}

// FetchAll runs every fetcher in order. Sources are queried one at a time so
// that no two requests are in flight at once; a failing source is logged and
// recorded in its Result without stopping the others.
func (a *Aggregator) FetchAll(ctx context.Context) []fetcher.Result {
	results := make([]fetcher.Result, 0, len(a.fetchers))

	for _, ft := range a.fetchers {
		if err := ctx.Err(); err != nil {
			results = append(results, fetcher.Result{Name: ft.Name(), Error: err})
			continue
		}

		log.Printf("Fetching %s...", ft.Name())
		start := time.Now()
		data, err := ft.Fetch(ctx)
		if err != nil {
			log.Printf("Error fetching %s: %v", ft.Name(), err)
		} else {
			log.Printf("Fetched %s successfully in %s", ft.Name(), time.Since(start).Round(time.Millisecond))
		}
		results = append(results, fetcher.Result{
			Name:  ft.Name(),
			Data:  data,
			Error: err,
		})
	}

	return results
}
