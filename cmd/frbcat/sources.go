package main

import (
	"fmt"
	"net/http"

	"github.com/janiskrasemann/frbcat/internal/config"
	"github.com/janiskrasemann/frbcat/internal/fetcher"
)

// buildFetchers turns the configured sources into fetchers, in config order.
func buildFetchers(cfg *config.Config, client *http.Client) ([]fetcher.Fetcher, error) {
	var fetchers []fetcher.Fetcher
	for _, src := range cfg.Sources {
		switch src.Type {
		case config.SourceFRBCAT:
			opts := fetcher.DefaultCatalogueOptions()
			if src.Format != "" {
				opts.Format = src.Format
			}
			opts.OneOffs = config.Bool(src.OneOffs, opts.OneOffs)
			opts.Repeaters = config.Bool(src.Repeaters, opts.Repeaters)
			opts.RepeatBursts = config.Bool(src.RepeatBursts, opts.RepeatBursts)
			opts.OneEntryPerFRB = config.Bool(src.OneEntryPerFRB, opts.OneEntryPerFRB)
			fetchers = append(fetchers, fetcher.NewCatalogue(client, src.URL, opts))
		case config.SourceRepeaters:
			fetchers = append(fetchers, fetcher.NewRepeaters(client, src.URL))
		case config.SourceTNS:
			opts := fetcher.DefaultNameServerOptions()
			if src.PageSize > 0 {
				opts.PageSize = src.PageSize
			}
			if src.RequestsPerSecond > 0 {
				opts.RequestsPerSecond = src.RequestsPerSecond
			}
			opts.OneOffs = config.Bool(src.OneOffs, opts.OneOffs)
			opts.Repeaters = config.Bool(src.Repeaters, opts.Repeaters)
			opts.RepeatBursts = config.Bool(src.RepeatBursts, opts.RepeatBursts)
			creds := fetcher.Credentials{ID: src.TNSID, Name: src.TNSName}
			fetchers = append(fetchers, fetcher.NewNameServer(client, src.URL, creds, opts))
		default:
			return nil, fmt.Errorf("unknown source type %q", src.Type)
		}
	}
	return fetchers, nil
}

// outputNames gives every result a distinct file name, numbering repeats of
// the same source.
func outputNames(results []fetcher.Result) []string {
	seen := make(map[string]int)
	names := make([]string, len(results))
	for i, r := range results {
		seen[r.Name]++
		names[i] = r.Name
		if n := seen[r.Name]; n > 1 {
			names[i] = fmt.Sprintf("%s_%d", r.Name, n)
		}
	}
	return names
}
