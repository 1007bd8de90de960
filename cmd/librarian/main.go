package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/sci-librarian/internal/bootstrap"
	"github.com/kirillkom/sci-librarian/internal/config"
	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/core/usecase"
	"github.com/kirillkom/sci-librarian/internal/rules"
)

const usageText = `Usage: librarian <command> [flags]

Commands:
  sync        Diff the remote inbox against the ledger, enqueue new/changed ids
  get-batch   Download a batch of pending documents into working storage
  get-file    Download a single document by remote id
  process     Extract, classify, upload and index downloaded documents
  upload      Archive processed documents and their metadata sidecars
  index       Rebuild the folder listing for one archive folder
  run         sync + get-batch + process until no pending work remains
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ruleSet, err := rules.Load(cfg.RulesPath)
	if err != nil {
		log.Fatalf("rules error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, ruleSet)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	exitCode, err := dispatch(ctx, app, command, args)
	if err != nil {
		app.Logger.Error("command failed", "command", command, "error", err)
		app.Close()
		os.Exit(1)
	}
	if exitCode != 0 {
		app.Close()
		os.Exit(exitCode)
	}
}

func dispatch(ctx context.Context, app *bootstrap.App, command string, args []string) (int, error) {
	switch command {
	case "sync":
		return 0, runSync(ctx, app)
	case "get-batch":
		return runGetBatch(ctx, app, args)
	case "get-file":
		return 0, runGetFile(ctx, app, args)
	case "process":
		return runProcess(ctx, app, args)
	case "upload":
		return 0, runUpload(ctx, app)
	case "index":
		return 0, runIndex(ctx, app, args)
	case "run":
		return runFull(ctx, app, args)
	default:
		fmt.Fprint(os.Stderr, usageText)
		return 2, nil
	}
}

func runSync(ctx context.Context, app *bootstrap.App) error {
	summary, err := app.Scanner.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Sync complete: %d listed, %d new or changed.\n", summary.Listed, summary.Changed)
	return nil
}

func runGetBatch(ctx context.Context, app *bootstrap.App, args []string) (int, error) {
	fs := flag.NewFlagSet("get-batch", flag.ExitOnError)
	batchSize := fs.Int("batch-size", app.Config.BatchSize, "maximum documents to download")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	summary, err := app.Fetcher.FetchBatch(ctx, *batchSize)
	if err != nil {
		return 1, err
	}
	fmt.Printf("Fetched %d documents, %d failed.\n", summary.Downloaded, summary.Failed)
	if summary.Failed > 0 {
		return 1, nil
	}
	return 0, nil
}

func runGetFile(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("get-file", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("get-file requires exactly one remote id")
	}
	id := domain.RemoteID(fs.Arg(0))
	if err := app.Fetcher.FetchOne(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Fetched %s.\n", id)
	return nil
}

func runProcess(ctx context.Context, app *bootstrap.App, args []string) (int, error) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	workers := fs.Int("j", app.Config.Workers, "number of parallel workers")
	retryErrors := fs.Bool("retry-errors", false, "also re-process ids resting in error")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	stopMetrics := serveMetrics(app)
	defer stopMetrics()

	summary, err := app.Pipeline.Process(ctx, usecase.ProcessOptions{
		Workers:     *workers,
		RetryErrors: *retryErrors,
	})
	if err != nil {
		return 1, err
	}
	printProcessSummary(summary)
	if summary.Counts[domain.StatusError] > 0 {
		return 1, nil
	}
	return 0, nil
}

func runUpload(ctx context.Context, app *bootstrap.App) error {
	counts, folders, err := usecase.UploadProcessed(ctx, app.Ledger, app.Uploader, app.Events, app.Metrics, app.Logger)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded: %d archived, %d still processed.\n",
		counts[domain.StatusArchived], counts[domain.StatusProcessed])
	for _, folder := range folders {
		err := app.Indexer.Rebuild(ctx, folder)
		app.Metrics.RecordIndexRebuild(err)
		if err != nil {
			app.Logger.Warn("index rebuild failed", "folder", folder, "error", err)
		}
	}
	return nil
}

func runIndex(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	path := fs.String("path", "", "archive folder to re-index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("index requires -path")
	}

	fmt.Printf("Indexing %s...\n", *path)
	err := app.Indexer.Rebuild(ctx, domain.RemotePath(*path))
	app.Metrics.RecordIndexRebuild(err)
	if err != nil {
		return err
	}
	fmt.Println("Indexing complete.")
	return nil
}

// runFull drives the whole pipeline: one sync, then fetch+process rounds
// until the ledger has no pending or downloaded work left.
func runFull(ctx context.Context, app *bootstrap.App, args []string) (int, error) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	workers := fs.Int("j", app.Config.Workers, "number of parallel workers")
	batchSize := fs.Int("batch-size", app.Config.BatchSize, "documents fetched per round")
	retryErrors := fs.Bool("retry-errors", false, "also re-process ids resting in error")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	stopMetrics := serveMetrics(app)
	defer stopMetrics()

	if err := runSync(ctx, app); err != nil {
		return 1, err
	}

	// Error ids are re-selected on the first round only; a document that
	// fails again would otherwise keep the loop alive forever.
	retryThisRound := *retryErrors
	for {
		if err := ctx.Err(); err != nil {
			return 1, err
		}
		fetched, err := app.Fetcher.FetchBatch(ctx, *batchSize)
		if err != nil {
			return 1, err
		}

		summary, err := app.Pipeline.Process(ctx, usecase.ProcessOptions{
			Workers:     *workers,
			RetryErrors: retryThisRound,
		})
		retryThisRound = false
		if err != nil {
			return 1, err
		}
		printProcessSummary(summary)

		if fetched.Downloaded == 0 && summary.Jobs == 0 {
			break
		}
	}

	counts, err := app.Ledger.CountByStatus(ctx)
	if err != nil {
		return 1, err
	}
	fmt.Println("Run complete.")
	if counts[domain.StatusError] > 0 {
		fmt.Printf("%d documents rest in error; inspect last_error or re-run with -retry-errors.\n",
			counts[domain.StatusError])
		return 1, nil
	}
	return 0, nil
}

func printProcessSummary(summary usecase.ProcessSummary) {
	fmt.Printf("Processed %d jobs: %d archived, %d processed, %d skipped, %d errors.\n",
		summary.Jobs,
		summary.Counts[domain.StatusArchived],
		summary.Counts[domain.StatusProcessed],
		summary.Counts[domain.StatusSkipped],
		summary.Counts[domain.StatusError],
	)
}

// serveMetrics exposes the pipeline metrics for the duration of a long
// command. Scrapes between runs see nothing, which is fine for a CLI.
func serveMetrics(app *bootstrap.App) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	server := &http.Server{
		Addr:        ":" + app.Config.MetricsPort,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Warn("metrics server error", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}
