package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/storage"
)

// testPool connects to TEST_DATABASE_URL, applies the schema and empties
// every table. Tests are skipped when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - set TEST_DATABASE_URL")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE product_import_failures, product_imports, images,
		product_categories, product_properties, properties, products, categories,
		tax_categories, shipping_categories RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO tax_categories (name) VALUES ('Standard'), ('Reduced')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO shipping_categories (name) VALUES ('Default')`)
	require.NoError(t, err)
	return pool
}

func seedPath(t *testing.T, pool *pgxpool.Pool, names ...string) []int64 {
	t.Helper()
	q := New(pool)
	var parent pgtype.Int8
	var ids []int64
	for i, name := range names {
		id, err := q.InsertCategory(context.Background(), parent, name, int32(i))
		require.NoError(t, err)
		ids = append(ids, id)
		parent = pgtype.Int8{Int64: id, Valid: true}
	}
	return ids
}

func TestCatalogStore_RowUnitOfWork(t *testing.T) {
	pool := testPool(t)
	store := NewCatalogStore(pool)
	ctx := context.Background()
	path := seedPath(t, pool, "Møbler", "Stole", "Spisestue", "Træ")

	taxID, err := store.TaxCategoryID(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), taxID)
	reduced, err := store.TaxCategoryID(ctx, "Reduced")
	require.NoError(t, err)
	assert.Equal(t, int64(2), reduced)
	_, err = store.ShippingCategoryID(ctx, "Freight")
	assert.Error(t, err)

	price := decimal.NullDecimal{Decimal: decimal.RequireFromString("129.95"), Valid: true}
	params := core.ProductParams{
		ProductAttributes: core.ProductAttributes{
			Name:        "Blå Stol",
			MetaTitle:   "Blå Stol",
			Slug:        "bla-stol",
			SKU:         core.NullString("5701234567890"),
			Price:       price,
			AvailableOn: time.Now().UTC(),
			Promotable:  true,
		},
		TaxCategoryID:      taxID,
		ShippingCategoryID: 1,
	}

	var productID int64
	err = store.WithTx(ctx, func(tx core.CatalogTx) error {
		p, err := tx.UpsertProduct(ctx, params)
		if err != nil {
			return err
		}
		productID = p.ID
		assert.True(t, p.Created)

		def, err := tx.EnsureProperty(ctx, "brand", "Brand")
		if err != nil {
			return err
		}
		again, err := tx.EnsureProperty(ctx, "brand", "Other")
		if err != nil {
			return err
		}
		assert.Equal(t, def.ID, again.ID)
		assert.Equal(t, "Brand", again.Presentation)
		if err := tx.UpsertProductProperty(ctx, p.ID, def.ID, "Acme"); err != nil {
			return err
		}

		nodes, err := tx.FindCategories(ctx, 0, "Møbler")
		if err != nil {
			return err
		}
		require.Len(t, nodes, 1)
		if err := tx.SetProductCategories(ctx, p.ID, path); err != nil {
			return err
		}

		img, err := tx.AddProductImage(ctx, p.ID, core.ImageParams{
			StorageKey: "images/a.jpg", FileName: "a.jpg", ContentType: "image/jpeg", Size: 4,
		})
		if err != nil {
			return err
		}
		assert.Equal(t, 1, img.Position)
		return nil
	})
	require.NoError(t, err)

	got, err := New(pool).GetProductBySlug(ctx, "bla-stol")
	require.NoError(t, err)
	assert.Equal(t, "129.95", core.FromPgNumeric(got.Price).Decimal.StringFixed(2))
	cats, err := New(pool).ListProductCategoryIDs(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, path, cats)

	// Second upsert without SKU keeps the stored value.
	params.SKU = core.NullString("")
	params.Price = decimal.NullDecimal{Decimal: decimal.NewFromInt(99), Valid: true}
	err = store.WithTx(ctx, func(tx core.CatalogTx) error {
		p, err := tx.UpsertProduct(ctx, params)
		assert.False(t, p.Created)
		return err
	})
	require.NoError(t, err)
	got, err = New(pool).GetProductBySlug(ctx, "bla-stol")
	require.NoError(t, err)
	assert.Equal(t, "5701234567890", got.Sku.String)

	// A failing unit of work leaves nothing behind.
	boom := errors.New("boom")
	err = store.WithTx(ctx, func(tx core.CatalogTx) error {
		if _, err := tx.UpsertProduct(ctx, core.ProductParams{ProductAttributes: core.ProductAttributes{
			Name: "Bord", Slug: "bord", Price: price,
		}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	n, err := store.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	res, err := store.ReplaceCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ProductsRemoved)
	assert.Equal(t, []string{"images/a.jpg"}, res.ImageKeys)
	n, err = store.CountProducts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCatalogStore_ConstraintErrors(t *testing.T) {
	pool := testPool(t)
	store := NewCatalogStore(pool)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx core.CatalogTx) error {
		_, err := tx.UpsertProduct(ctx, core.ProductParams{ProductAttributes: core.ProductAttributes{
			Name: "Uden pris", Slug: "uden-pris",
		}})
		return err
	})
	require.Error(t, err)
	assert.Equal(t, core.KindConstraint, core.Classify(err))
}

func TestCatalogStore_NumericOverflowIsParseFailure(t *testing.T) {
	pool := testPool(t)
	store := NewCatalogStore(pool)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx core.CatalogTx) error {
		_, err := tx.UpsertProduct(ctx, core.ProductParams{
			ProductAttributes: core.ProductAttributes{
				Name: "Dyr stol", Slug: "dyr-stol",
				Price: decimal.NullDecimal{Decimal: decimal.RequireFromString("99999999999.00"), Valid: true},
			},
			TaxCategoryID:      1,
			ShippingCategoryID: 1,
		})
		return err
	})
	require.Error(t, err)
	assert.Equal(t, core.KindParse, core.Classify(err))

	n, err := store.CountProducts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func countProperties(t *testing.T, pool *pgxpool.Pool, name string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT count(*) FROM properties WHERE name = $1`, name).Scan(&n))
	return n
}

func TestCatalogStore_ConcurrentEnsureProperty(t *testing.T) {
	pool := testPool(t)
	store := NewCatalogStore(pool)
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	start := make(chan struct{})

	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			<-start
			return store.WithTx(ctx, func(tx core.CatalogTx) error {
				def, err := tx.EnsureProperty(ctx, "brand", "Brand")
				if err != nil {
					return err
				}
				ids[i] = def.ID
				// Keep the transaction open so the others contend with it.
				time.Sleep(20 * time.Millisecond)
				return nil
			})
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, countProperties(t, pool, "brand"))
	for i, id := range ids {
		assert.Equal(t, ids[0], id, "worker %d got a different definition", i)
	}
}

func TestBatchImporter_ParallelRowsShareProperties(t *testing.T) {
	pool := testPool(t)
	store := NewCatalogStore(pool)
	ctx := context.Background()
	seedPath(t, pool, "Moebler", "Stole", "Spisestue", "Trae")

	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	var b strings.Builder
	b.WriteString("DisplayName;Bruttopris;Kategori1;Kategori2;Kategori3;Kategori4;Brand;ItemUnit\n")
	const rows = 40
	for i := range rows {
		fmt.Fprintf(&b, "Stol %d;%d,95;Moebler;Stole;Spisestue;Trae;Acme;stk\n", i, 100+i)
	}
	file := []byte(b.String())

	importer := core.NewBatchImporter(store, files, core.NewHTTPImageFetcher(nil, time.Second, 1<<20),
		core.BatchOptions{Workers: 8})
	res, err := importer.Run(ctx, bytes.NewReader(file), int64(len(file)), nil)
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	assert.Equal(t, rows, res.Imported)

	assert.Equal(t, 1, countProperties(t, pool, "brand"))
	assert.Equal(t, 1, countProperties(t, pool, "item_unit"))

	var values int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM product_properties`).Scan(&values))
	assert.Equal(t, 2*rows, values)
}

func TestCatalogStore_TryLockCatalog(t *testing.T) {
	pool := testPool(t)
	store := NewCatalogStore(pool)
	ctx := context.Background()

	unlock, ok, err := store.TryLockCatalog(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryLockCatalog(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second lock should fail while the first is held")

	unlock()
	unlock()

	unlock, ok, err = store.TryLockCatalog(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	unlock()
}

func TestImportStore(t *testing.T) {
	pool := testPool(t)
	store := NewImportStore(pool)
	ctx := context.Background()

	rec := core.ImportRecord{
		ID:        uuid.New(),
		File:      core.ImportFile{StorageKey: "imports/x.csv", FileName: "katalog.csv", ContentType: "text/csv", Size: 42},
		FileName:  "katalog.csv",
		Status:    core.StatusPending,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.CreateImport(ctx, rec))

	_, err := store.GetImport(ctx, uuid.New())
	require.ErrorIs(t, err, core.ErrImportNotFound)

	started := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.MarkImportRunning(ctx, rec.ID, started))
	got, err := store.GetImport(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	finished := started.Add(time.Second)
	rec.Status = core.StatusCompleted
	rec.TotalRows, rec.Imported, rec.Failed = 3, 2, 1
	rec.StartedAt, rec.FinishedAt = &started, &finished
	header := []string{"DisplayName", "Bruttopris"}
	failures := []core.RowFailure{{Line: 3, Kind: core.KindParse, Message: "invalid number", Row: []string{"Blå Stol", "gratis"}}}
	require.NoError(t, store.FinishImport(ctx, rec, header, failures))

	// A re-run replaces the report.
	require.NoError(t, store.FinishImport(ctx, rec, header, failures))

	report, err := store.GetFailedRows(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, header, report.Header)
	assert.Equal(t, failures, report.Failures)

	list, err := store.ListImports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.StatusCompleted, list[0].Status)
	assert.Equal(t, "imports/x.csv", list[0].File.StorageKey)
}
