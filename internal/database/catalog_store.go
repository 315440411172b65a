package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// CatalogLockKey is the advisory lock key held for the duration of a run.
const CatalogLockKey int64 = 0x636174616c6f67 // "catalog"

// CatalogStore implements core.CatalogStore and core.CatalogLocker on a
// pgx pool.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore creates a CatalogStore.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

// WithTx runs fn in a transaction; fn's error rolls it back.
func (s *CatalogStore) WithTx(ctx context.Context, fn func(tx core.CatalogTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&catalogTx{q: New(tx)})
	})
}

// ReplaceCatalog deletes all products in one transaction and reports the
// attachment keys of the images that went with them.
func (s *CatalogStore) ReplaceCatalog(ctx context.Context) (core.ReplaceResult, error) {
	var res core.ReplaceResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		q := New(tx)
		keys, err := q.ListImageKeys(ctx)
		if err != nil {
			return fmt.Errorf("list image keys: %w", err)
		}
		removed, err := q.DeleteAllProducts(ctx)
		if err != nil {
			return fmt.Errorf("delete products: %w", err)
		}
		res = core.ReplaceResult{ProductsRemoved: removed, ImageKeys: keys}
		return nil
	})
	if err != nil {
		return core.ReplaceResult{}, err
	}
	return res, nil
}

// TaxCategoryID resolves a tax category by name, or the lowest id when name
// is empty.
func (s *CatalogStore) TaxCategoryID(ctx context.Context, name string) (int64, error) {
	q := New(s.pool)
	if name == "" {
		return notFound(q.GetFirstTaxCategory(ctx))
	}
	return notFound(q.GetTaxCategoryByName(ctx, name))
}

// ShippingCategoryID resolves a shipping category the same way.
func (s *CatalogStore) ShippingCategoryID(ctx context.Context, name string) (int64, error) {
	q := New(s.pool)
	if name == "" {
		return notFound(q.GetFirstShippingCategory(ctx))
	}
	return notFound(q.GetShippingCategoryByName(ctx, name))
}

func notFound(id int64, err error) (int64, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.New("no matching record")
	}
	return id, err
}

// CountProducts returns the number of products.
func (s *CatalogStore) CountProducts(ctx context.Context) (int64, error) {
	return New(s.pool).CountProducts(ctx)
}

// TryLockCatalog takes the catalog advisory lock on a dedicated connection.
// The connection is held until unlock is called.
func (s *CatalogStore) TryLockCatalog(ctx context.Context) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	ok, err := New(conn).TryAdvisoryLock(ctx, CatalogLockKey)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := New(conn).AdvisoryUnlock(ctx, CatalogLockKey); err != nil {
				// The session still holds the lock; closing it is the only
				// way to release it.
				_ = conn.Hijack().Close(ctx)
				return
			}
			conn.Release()
		})
	}
	return unlock, true, nil
}

// catalogTx implements core.CatalogTx on one transaction.
type catalogTx struct {
	q *Queries
}

func (t *catalogTx) UpsertProduct(ctx context.Context, p core.ProductParams) (core.Product, error) {
	row, err := t.q.UpsertProduct(ctx, UpsertProductParams{
		Name:               p.Name,
		MetaTitle:          pgtype.Text{String: p.MetaTitle, Valid: p.MetaTitle != ""},
		Slug:               p.Slug,
		Description:        core.ToPgText(p.Description),
		MetaDescription:    core.ToPgText(p.MetaDescription),
		Sku:                core.ToPgText(p.SKU),
		Price:              core.ToPgNumeric(p.Price),
		CostPrice:          core.ToPgNumeric(p.CostPrice),
		Weight:             core.ToPgNumeric(p.Weight),
		AvailableOn:        core.ToPgTimestamptz(p.AvailableOn),
		Promotable:         p.Promotable,
		TaxCategoryID:      core.ToPgInt8(p.TaxCategoryID),
		ShippingCategoryID: core.ToPgInt8(p.ShippingCategoryID),
	})
	if err != nil {
		return core.Product{}, rowError(err)
	}
	return core.Product{ID: row.ID, Slug: row.Slug, Name: row.Name, Created: row.Created}, nil
}

func (t *catalogTx) EnsureProperty(ctx context.Context, name, presentation string) (core.PropertyDefinition, error) {
	row, err := t.q.UpsertProperty(ctx, name, presentation)
	if err != nil {
		return core.PropertyDefinition{}, rowError(err)
	}
	return core.PropertyDefinition{ID: row.ID, Name: row.Name, Presentation: row.Presentation}, nil
}

func (t *catalogTx) UpsertProductProperty(ctx context.Context, productID, propertyID int64, value string) error {
	return rowError(t.q.UpsertProductProperty(ctx, productID, propertyID, value))
}

func (t *catalogTx) FindCategories(ctx context.Context, parentID int64, name string) ([]core.CategoryNode, error) {
	rows, err := t.q.FindCategories(ctx, parentID, name)
	if err != nil {
		return nil, err
	}
	nodes := make([]core.CategoryNode, len(rows))
	for i, r := range rows {
		nodes[i] = core.CategoryNode{ID: r.ID, ParentID: r.ParentID, Name: r.Name}
	}
	return nodes, nil
}

func (t *catalogTx) SetProductCategories(ctx context.Context, productID int64, categoryIDs []int64) error {
	if err := t.q.DeleteProductCategories(ctx, productID); err != nil {
		return err
	}
	for i, id := range categoryIDs {
		if err := t.q.InsertProductCategory(ctx, productID, id, int32(i+1)); err != nil {
			return rowError(err)
		}
	}
	return nil
}

func (t *catalogTx) AddProductImage(ctx context.Context, productID int64, img core.ImageParams) (core.Image, error) {
	row, err := t.q.InsertImage(ctx, InsertImageParams{
		ProductID:   productID,
		StorageKey:  img.StorageKey,
		FileName:    img.FileName,
		ContentType: img.ContentType,
		FileSize:    img.Size,
		SourceUrl:   pgtype.Text{String: img.SourceURL, Valid: img.SourceURL != ""},
	})
	if err != nil {
		return core.Image{}, rowError(err)
	}
	return core.Image{ID: row.ID, ProductID: productID, Position: int(row.Position), ImageParams: img}, nil
}

// rowError maps row-level SQLSTATE classes onto core error kinds: integrity
// violations (class 23) become core.ConstraintError and data exceptions
// (class 22, e.g. 22003 numeric field overflow) become core.ParseError.
// Anything else is returned unchanged.
func rowError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "23"):
		field := pgErr.ColumnName
		if field == "" {
			field = pgErr.ConstraintName
		}
		return &core.ConstraintError{Field: field, Reason: pgErr.Message, Err: err}
	case strings.HasPrefix(pgErr.Code, "22"):
		column := pgErr.ColumnName
		if column == "" {
			column = "numeric column"
		}
		value := pgErr.Message
		if pgErr.Detail != "" {
			value += ": " + pgErr.Detail
		}
		return &core.ParseError{Column: column, Value: value, Err: err}
	default:
		return err
	}
}
