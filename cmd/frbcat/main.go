package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/janiskrasemann/frbcat/internal/aggregator"
	"github.com/janiskrasemann/frbcat/internal/config"
	"github.com/janiskrasemann/frbcat/internal/export"
	"github.com/janiskrasemann/frbcat/internal/fetcher"
	"github.com/janiskrasemann/frbcat/internal/mailer"
	"github.com/janiskrasemann/frbcat/internal/renderer"
)

func main() {
	configPath := flag.String("config", "/etc/frbcat/config.yaml", "path to config file")
	once := flag.Bool("once", false, "fetch once immediately and exit")
	printTables := flag.Bool("print", false, "print the newest rows of every table to stdout")
	limit := flag.Int("limit", renderer.DefaultLimit, "rows per table for -print and the digest (-1 for all)")
	outDir := flag.String("out", "", "override the output directory from the config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}

	fetchers, err := buildFetchers(cfg, httpClient)
	if err != nil {
		log.Fatalf("Failed to set up sources: %v", err)
	}
	agg := aggregator.New(fetchers...)

	rend, err := renderer.NewDefault()
	if err != nil {
		log.Fatalf("Failed to initialize renderer: %v", err)
	}
	rend.SetLimit(*limit)

	var mail *mailer.Mailer
	if cfg.Email.Enabled() {
		mail = mailer.New(cfg.Email.From, cfg.Email.To, cfg.Email.ResendAPIKey)
	}

	runPass := func() {
		log.Println("Starting catalogue refresh...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		results := agg.FetchAll(ctx)
		saveResults(results, cfg.Output, time.Now().UTC())

		if *printTables {
			if err := renderer.RenderResults(os.Stdout, results, *limit); err != nil {
				log.Printf("Failed to print tables: %v", err)
			}
		}

		if mail == nil {
			return
		}
		email, err := rend.Render(results)
		if err != nil {
			log.Printf("Failed to render digest: %v", err)
			return
		}
		if err := mail.Send(email); err != nil {
			log.Printf("Failed to send digest: %v", err)
			return
		}
		log.Println("Digest sent successfully!")
	}

	if *once || cfg.Schedule == "" {
		runPass()
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Schedule, runPass)
	if err != nil {
		log.Fatalf("Failed to add cron schedule %q: %v", cfg.Schedule, err)
	}
	c.Start()

	log.Printf("frbcat started. Schedule: %s", cfg.Schedule)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	<-c.Stop().Done()
}

// saveResults exports every successful result. Failures are logged so one bad
// source does not cost the others their files.
func saveResults(results []fetcher.Result, out config.OutputConfig, now time.Time) {
	names := outputNames(results)
	for i, r := range results {
		t := r.Table()
		if r.Error != nil || t == nil {
			continue
		}
		written, err := export.WriteFiles(out.Dir, names[i], t, r.Units(), out.Formats, now)
		if err != nil {
			log.Printf("Failed to export %s: %v", r.Name, err)
			continue
		}
		for _, p := range written {
			log.Printf("Wrote %s (%d rows)", p, t.Len())
		}
	}
}
