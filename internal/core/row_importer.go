package core

import (
	"context"
	"fmt"
	"log/slog"
)

// RowImporter imports one catalog row as a single unit of work.
type RowImporter struct {
	catalog  CatalogStore
	store    AttachmentStore
	fetcher  ImageFetcher
	mapper   *FieldMapper
	defaults CatalogDefaults
	logger   *slog.Logger
}

// NewRowImporter wires a row importer. defaults must already be resolved.
func NewRowImporter(catalog CatalogStore, store AttachmentStore, fetcher ImageFetcher, mapper *FieldMapper, defaults CatalogDefaults, logger *slog.Logger) *RowImporter {
	if mapper == nil {
		mapper = NewFieldMapper(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RowImporter{
		catalog:  catalog,
		store:    store,
		fetcher:  fetcher,
		mapper:   mapper,
		defaults: defaults,
		logger:   logger,
	}
}

// Import maps, stages and commits row. Either every write for the row is
// committed or none is; a failure is returned in the result, never as an
// error. The second return value is non-nil only when ctx was cancelled,
// which must stop the batch.
func (ri *RowImporter) Import(ctx context.Context, row RawRow) (RowResult, error) {
	product, err := ri.importRow(ctx, row)
	if err == nil {
		return RowResult{Line: row.Line, Product: product}, nil
	}
	if isCancellation(ctx, err) {
		return RowResult{Line: row.Line}, err
	}

	failure := &RowFailure{
		Line:    row.Line,
		Kind:    Classify(err),
		Message: err.Error(),
		Row:     row.Fields,
	}
	ri.logger.Warn("row rejected",
		slog.Int("line", row.Line),
		slog.String("kind", string(failure.Kind)),
		slog.String("error", failure.Message),
	)
	return RowResult{Line: row.Line, Failure: failure}, nil
}

func (ri *RowImporter) importRow(ctx context.Context, row RawRow) (*Product, error) {
	attrs, err := ri.mapper.MapFields(row)
	if err != nil {
		return nil, err
	}
	if err := checkRequired(attrs); err != nil {
		return nil, err
	}

	staged, err := stageImage(ctx, ri.fetcher, ri.store, row.Get(ColBillede))
	if err != nil {
		return nil, err
	}

	var product Product
	err = ri.catalog.WithTx(ctx, func(tx CatalogTx) error {
		p, err := tx.UpsertProduct(ctx, ProductParams{
			ProductAttributes:  attrs,
			TaxCategoryID:      ri.defaults.TaxCategoryID,
			ShippingCategoryID: ri.defaults.ShippingCategoryID,
		})
		if err != nil {
			return fmt.Errorf("upsert product %q: %w", attrs.Slug, err)
		}

		if _, err := attachProperties(ctx, tx, p.ID, row); err != nil {
			return err
		}
		if err := bindCategories(ctx, tx, p.ID, row); err != nil {
			return err
		}
		if staged != nil {
			if _, err := tx.AddProductImage(ctx, p.ID, staged.params); err != nil {
				return fmt.Errorf("link image: %w", err)
			}
		}

		product = p
		return nil
	})
	if err != nil {
		if derr := staged.discard(ctx); derr != nil {
			ri.logger.Warn("failed to remove staged image",
				slog.Int("line", row.Line),
				slog.String("key", staged.params.StorageKey),
				slog.String("error", derr.Error()),
			)
		}
		return nil, err
	}
	return &product, nil
}
