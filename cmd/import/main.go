// Command import replaces the catalog with the contents of a local catalog
// file, without going through the HTTP API.
//
//	import [-workers N] [-report path] katalog.csv
//
// Failed rows are written next to the input as "<name> - failed.csv" unless
// -report names another path. The exit status is 1 when the run could not
// complete and 2 when it completed with failed rows.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/database"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	workers := flag.Int("workers", 0, "concurrent row imports (default IMPORT_WORKERS)")
	reportPath := flag.String("report", "", "failed rows report path (default next to the input)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] catalog.csv\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return 1
	}
	path := flag.Arg(0)

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		return 1
	}
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	logger := slog.Default()
	if *workers > 0 {
		cfg.Import.Workers = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			return 1
		}
	}

	files, err := storage.New(ctx, storage.Options{
		Driver:   cfg.Storage.Driver,
		Dir:      cfg.Storage.Dir,
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		Endpoint: cfg.Storage.Endpoint,
		Prefix:   cfg.Storage.Prefix,
	})
	if err != nil {
		logger.Error("failed to open attachment storage", "error", err)
		return 1
	}

	catalog := database.NewCatalogStore(pool)
	unlock, ok, err := catalog.TryLockCatalog(ctx)
	if err != nil {
		logger.Error("failed to lock catalog", "error", err)
		return 1
	}
	if !ok {
		logger.Error(core.MapError(core.ErrImportInProgress).Message)
		return 1
	}
	defer unlock()

	f, err := os.Open(path)
	if err != nil {
		logger.Error("failed to open catalog file", "error", err)
		return 1
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		logger.Error("failed to stat catalog file", "error", err)
		return 1
	}

	importer := core.NewBatchImporter(catalog, files,
		core.NewHTTPImageFetcher(nil, cfg.Import.ImageTimeout, cfg.Import.ImageMaxBytes),
		core.BatchOptions{
			Workers:          cfg.Import.Workers,
			ProgressInterval: cfg.Import.ProgressInterval,
			TaxCategory:      cfg.Import.TaxCategory,
			ShippingCategory: cfg.Import.ShippingCategory,
			Logger:           logger,
		})

	result, err := importer.Run(ctx, f, info.Size(), func(p core.ImportProgress) {
		if p.Phase == core.PhaseImporting && p.Processed > 0 {
			logger.Info("progress",
				"rows", p.Processed,
				"failed", p.Failed,
				"percent", p.Percent(),
			)
		}
	})
	if result != nil {
		fmt.Printf("%s: %d rows, %d imported, %d failed, %d removed (%s)\n",
			filepath.Base(path), result.TotalRows, result.Imported, result.Failed(), result.Removed, result.Duration.Round(time.Millisecond))
		if werr := writeReport(path, *reportPath, result); werr != nil {
			logger.Error("failed to write failed rows report", "error", werr)
		}
	}
	if err != nil {
		msg := core.MapError(err)
		logger.Error("import aborted", "error", err, "code", msg.Code)
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
		}
		return 1
	}
	if result.Failed() > 0 {
		return 2
	}
	return 0
}

// writeReport writes the failed rows of result, if any, in the catalog file
// dialect.
func writeReport(input, out string, result *core.BatchResult) error {
	if result.Failed() == 0 {
		return nil
	}
	if out == "" {
		out = filepath.Join(filepath.Dir(input), core.FailedReportName(input, ".csv"))
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := core.WriteFailedCSV(f, result.Header, result.Failures); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("failed rows written to %s\n", out)
	return nil
}
