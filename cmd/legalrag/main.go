// Command legalrag is a CLI for the document pipeline: ingest files or
// directories, pull documents from the configured source API, search,
// and ask questions without running the HTTP server.
//
// Usage:
//
//	go run ./cmd/legalrag ingest --type law ./acts/act_2024.pdf
//	go run ./cmd/legalrag ingest-dir --type regulation ./regulations/
//	go run ./cmd/legalrag ingest-api --type law --from 2024-01-01
//	go run ./cmd/legalrag search "notice periods in employment contracts"
//	go run ./cmd/legalrag ask "What fines apply for late filing?"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tmazur/legalrag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	globals := flag.NewFlagSet("legalrag", flag.ExitOnError)
	configPath := globals.String("config", "", "Path to config file (YAML or JSON)")
	verbose := globals.Bool("v", false, "Verbose logging")
	globals.Usage = usage

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	if err := globals.Parse(os.Args[2:]); err != nil {
		return err
	}
	args := globals.Args()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	godotenv.Load()

	cfg := legalrag.DefaultConfig()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := legalrag.New(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	switch cmd {
	case "ingest":
		return cmdIngest(ctx, p, args)
	case "ingest-dir":
		return cmdIngestDir(ctx, p, args)
	case "ingest-api":
		return cmdIngestAPI(ctx, p, args)
	case "search":
		return cmdSearch(ctx, p, args)
	case "ask":
		return cmdAsk(ctx, p, args)
	case "docs":
		return cmdDocs(ctx, p)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: legalrag <command> [flags] [args]

commands:
  ingest      [--type T] [--title S] <file>...   ingest files
  ingest-dir  [--type T] <dir>                   ingest a directory
  ingest-api  [--type T] [--from DATE] [--limit N] [--id ID]
  search      [--type T] [--limit N] <query>
  ask         [--type T] <question>
  docs                                           list documents

global flags: --config <path>, -v`)
}

func cmdIngest(ctx context.Context, p legalrag.Pipeline, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	docType := fs.String("type", "other", "Document type")
	title := fs.String("title", "", "Document title (single file only)")
	force := fs.Bool("force", false, "Re-process even if content is unchanged")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("ingest: at least one file required")
	}

	var opts []legalrag.IngestOption
	if *title != "" && fs.NArg() == 1 {
		opts = append(opts, legalrag.WithTitle(*title))
	}
	if *force {
		opts = append(opts, legalrag.WithForce())
	}

	for _, path := range fs.Args() {
		id, err := p.IngestFile(ctx, path, *docType, opts...)
		if err != nil {
			fmt.Printf("%s\tFAILED\t%v\n", path, err)
			continue
		}
		fmt.Printf("%s\t%s\n", path, id)
	}
	return nil
}

func cmdIngestDir(ctx context.Context, p legalrag.Pipeline, args []string) error {
	fs := flag.NewFlagSet("ingest-dir", flag.ExitOnError)
	docType := fs.String("type", "other", "Document type")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("ingest-dir: exactly one directory required")
	}

	outcomes, err := p.IngestDirectory(ctx, fs.Arg(0), *docType)
	if err != nil {
		return err
	}
	printOutcomes(outcomes)
	return nil
}

func cmdIngestAPI(ctx context.Context, p legalrag.Pipeline, args []string) error {
	fs := flag.NewFlagSet("ingest-api", flag.ExitOnError)
	docType := fs.String("type", "", "Document type filter")
	fromDate := fs.String("from", "", "Only documents from this date (YYYY-MM-DD)")
	limit := fs.Int("limit", 100, "Maximum documents to fetch")
	apiID := fs.String("id", "", "Fetch a single document by its API id")
	fs.Parse(args)

	if *apiID != "" {
		docID, err := p.IngestAPIDocument(ctx, *apiID)
		if err != nil {
			return err
		}
		fmt.Printf("ingested %s as %s\n", *apiID, docID)
		return nil
	}

	outcomes, err := p.IngestAPI(ctx, *docType, *fromDate, *limit)
	if err != nil {
		return err
	}
	printOutcomes(outcomes)
	return nil
}

func printOutcomes(outcomes []legalrag.Outcome) {
	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
			fmt.Printf("%s\t%s\t%s\n", o.Source, o.Status, o.Error)
		} else {
			fmt.Printf("%s\t%s\t%s\n", o.Source, o.Status, o.ID)
		}
	}
	fmt.Printf("%d documents, %d failed\n", len(outcomes), failed)
}

func cmdSearch(ctx context.Context, p legalrag.Pipeline, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	docType := fs.String("type", "", "Document type filter")
	limit := fs.Int("limit", 10, "Maximum results")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("search: query required")
	}

	results, err := p.Search(ctx, fs.Arg(0), *docType, *limit)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%.3f\t%s\t%s\n\t%s\n", r.Score, r.Title, r.ChunkLabel, r.Snippet)
	}
	return nil
}

func cmdAsk(ctx context.Context, p legalrag.Pipeline, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	docType := fs.String("type", "", "Document type filter")
	asJSON := fs.Bool("json", false, "Print the full answer as JSON")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("ask: question required")
	}

	answer, err := p.Ask(ctx, fs.Arg(0), *docType)
	if err != nil && !errors.Is(err, legalrag.ErrNoSources) {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println("\nsources:")
		for _, s := range answer.Sources {
			fmt.Printf("  %s, %s\n", s.Title, s.ChunkLabel)
		}
	}
	return nil
}

func cmdDocs(ctx context.Context, p legalrag.Pipeline) error {
	docs, err := p.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		flags := ""
		if d.IsAbolished {
			flags = " [abolished]"
		}
		fmt.Printf("%s\t%-10s\t%-9s\t%s%s\n", d.ID, d.DocumentType, d.Status, d.Title, flags)
	}
	return nil
}
