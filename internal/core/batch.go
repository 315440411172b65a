package core

// batch.go runs a full catalog import.
//
// A run has three phases:
//
//  1. Pre-checks: default tax and shipping categories are resolved and the
//     file header is read. Nothing has been written yet; a failure here
//     leaves the catalog untouched.
//  2. Catalog replace: every product is deleted in one transaction. After
//     this phase the catalog holds zero products.
//  3. Import: rows are streamed from the file and imported by a bounded pool
//     of workers. Rows with the same slug always go to the same worker, in
//     file order. Each row commits or rolls back on its own; rejected rows
//     are collected for the failure report.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/catalogimport/internal/metrics"
)

// Batch defaults.
const (
	DefaultWorkers          = 4
	DefaultProgressInterval = 100
)

// BatchOptions configures a BatchImporter.
type BatchOptions struct {
	Workers          int    // concurrent row imports
	ProgressInterval int    // rows between progress callbacks
	TaxCategory      string // default tax category name; empty = first record
	ShippingCategory string // default shipping category name; empty = first record
	Now              func() time.Time
	Logger           *slog.Logger
}

// BatchImporter replaces the catalog with the contents of a catalog file.
// A BatchImporter is safe for sequential reuse; concurrent runs against the
// same catalog must be serialised by the caller.
type BatchImporter struct {
	catalog CatalogStore
	store   AttachmentStore
	fetcher ImageFetcher
	opts    BatchOptions
}

// NewBatchImporter creates a batch importer.
func NewBatchImporter(catalog CatalogStore, store AttachmentStore, fetcher ImageFetcher, opts BatchOptions) *BatchImporter {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &BatchImporter{catalog: catalog, store: store, fetcher: fetcher, opts: opts}
}

// ResolveDefaults looks up the configured tax and shipping categories.
func (b *BatchImporter) ResolveDefaults(ctx context.Context) (CatalogDefaults, error) {
	taxID, err := b.catalog.TaxCategoryID(ctx, b.opts.TaxCategory)
	if err != nil {
		return CatalogDefaults{}, fmt.Errorf("%w: tax category %q: %w", ErrDefaultsMissing, b.opts.TaxCategory, err)
	}
	shipID, err := b.catalog.ShippingCategoryID(ctx, b.opts.ShippingCategory)
	if err != nil {
		return CatalogDefaults{}, fmt.Errorf("%w: shipping category %q: %w", ErrDefaultsMissing, b.opts.ShippingCategory, err)
	}
	return CatalogDefaults{TaxCategoryID: taxID, ShippingCategoryID: shipID}, nil
}

// Replace runs the catalog replace phase: all products are deleted and the
// attachments of their images removed. Attachment removal is best effort.
func (b *BatchImporter) Replace(ctx context.Context) (ReplaceResult, error) {
	res, err := b.catalog.ReplaceCatalog(ctx)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("replace catalog: %w", err)
	}

	for _, key := range res.ImageKeys {
		if err := b.store.Delete(ctx, key); err != nil {
			b.opts.Logger.Warn("failed to delete image attachment",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return res, nil
}

// laneFor picks the worker for row from the slug its DisplayName maps to.
func laneFor(row RawRow, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(Parameterize(row.Get(ColDisplayName))) % uint64(n))
}

// Run imports the catalog file read from r. size is the file size for
// progress reporting (0 if unknown); progress may be nil.
//
// Row failures never abort the run; they are returned in the result, sorted
// by line. An error is returned only when the run could not complete: the
// defaults or header are missing, the replace failed, the file could not be
// read or ctx was cancelled. In the last two cases the partial result is
// returned alongside the error.
func (b *BatchImporter) Run(ctx context.Context, r io.Reader, size int64, progress ProgressCallback) (*BatchResult, error) {
	start := time.Now()
	logger := b.opts.Logger
	emit := func(p ImportProgress) {
		if progress != nil {
			progress(p)
		}
	}

	emit(ImportProgress{Phase: PhaseStarting, BytesTotal: size})

	defaults, err := b.ResolveDefaults(ctx)
	if err != nil {
		return nil, err
	}

	reader, err := NewCatalogReader(r)
	if err != nil {
		return nil, err
	}

	emit(ImportProgress{Phase: PhaseReplacing, BytesTotal: size})
	replaced, err := b.Replace(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog cleared", slog.Int64("products_removed", replaced.ProductsRemoved))

	result := &BatchResult{
		Header:  reader.Header(),
		Removed: replaced.ProductsRemoved,
	}
	importer := NewRowImporter(b.catalog, b.store, b.fetcher, NewFieldMapper(b.opts.Now), defaults, logger)

	var mu sync.Mutex
	snapshot := func(phase ImportPhase) ImportProgress {
		return ImportProgress{
			Phase:      phase,
			Processed:  result.TotalRows,
			Imported:   result.Imported,
			Failed:     len(result.Failures),
			BytesRead:  reader.BytesRead(),
			BytesTotal: size,
		}
	}
	record := func(res RowResult) {
		mu.Lock()
		defer mu.Unlock()

		result.TotalRows++
		if res.OK() {
			result.Imported++
			metrics.RecordRow(true, "")
		} else {
			result.Failures = append(result.Failures, *res.Failure)
			metrics.RecordRow(false, string(res.Failure.Kind))
		}
		if result.TotalRows%b.opts.ProgressInterval == 0 {
			emit(snapshot(PhaseImporting))
		}
	}

	emit(ImportProgress{Phase: PhaseImporting, BytesTotal: size})

	// Rows are routed to workers by slug so that rows updating the same
	// product commit in file order and the later row's values are stored.
	g, gctx := errgroup.WithContext(ctx)
	lanes := make([]chan RawRow, b.opts.Workers)
	for i := range lanes {
		lane := make(chan RawRow)
		lanes[i] = lane
		g.Go(func() error {
			for row := range lane {
				res, err := importer.Import(gctx, row)
				if err != nil {
					return err
				}
				record(res)
			}
			return nil
		})
	}

	var readErr error
dispatch:
	for gctx.Err() == nil {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}

		select {
		case lanes[laneFor(row, len(lanes))] <- row:
		case <-gctx.Done():
			break dispatch
		}
	}
	for _, lane := range lanes {
		close(lane)
	}

	waitErr := g.Wait()

	sort.SliceStable(result.Failures, func(i, j int) bool {
		return result.Failures[i].Line < result.Failures[j].Line
	})
	result.Duration = time.Since(start)

	switch {
	case ctx.Err() != nil:
		return result, ctx.Err()
	case waitErr != nil:
		return result, waitErr
	case readErr != nil:
		return result, readErr
	}

	mu.Lock()
	emit(snapshot(PhaseComplete))
	mu.Unlock()

	logger.Info("catalog import finished",
		slog.Int("rows", result.TotalRows),
		slog.Int("imported", result.Imported),
		slog.Int("failed", result.Failed()),
		slog.Int64("removed", result.Removed),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}
