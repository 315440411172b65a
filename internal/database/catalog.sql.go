package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const upsertProduct = `
INSERT INTO products (
    name, meta_title, slug, description, meta_description, sku,
    price, cost_price, weight, available_on, promotable,
    tax_category_id, shipping_category_id
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)
ON CONFLICT (slug) DO UPDATE SET
    name                 = EXCLUDED.name,
    meta_title           = EXCLUDED.meta_title,
    description          = COALESCE(EXCLUDED.description, products.description),
    meta_description     = COALESCE(EXCLUDED.meta_description, products.meta_description),
    sku                  = COALESCE(EXCLUDED.sku, products.sku),
    price                = COALESCE(EXCLUDED.price, products.price),
    cost_price           = COALESCE(EXCLUDED.cost_price, products.cost_price),
    weight               = COALESCE(EXCLUDED.weight, products.weight),
    available_on         = EXCLUDED.available_on,
    promotable           = EXCLUDED.promotable,
    tax_category_id      = EXCLUDED.tax_category_id,
    shipping_category_id = EXCLUDED.shipping_category_id,
    updated_at           = now()
RETURNING id, slug, name, (xmax = 0) AS created
`

type UpsertProductParams struct {
	Name               string
	MetaTitle          pgtype.Text
	Slug               string
	Description        pgtype.Text
	MetaDescription    pgtype.Text
	Sku                pgtype.Text
	Price              pgtype.Numeric
	CostPrice          pgtype.Numeric
	Weight             pgtype.Numeric
	AvailableOn        pgtype.Timestamptz
	Promotable         bool
	TaxCategoryID      pgtype.Int8
	ShippingCategoryID pgtype.Int8
}

type UpsertProductRow struct {
	ID      int64
	Slug    string
	Name    string
	Created bool
}

func (q *Queries) UpsertProduct(ctx context.Context, arg UpsertProductParams) (UpsertProductRow, error) {
	row := q.db.QueryRow(ctx, upsertProduct,
		arg.Name,
		arg.MetaTitle,
		arg.Slug,
		arg.Description,
		arg.MetaDescription,
		arg.Sku,
		arg.Price,
		arg.CostPrice,
		arg.Weight,
		arg.AvailableOn,
		arg.Promotable,
		arg.TaxCategoryID,
		arg.ShippingCategoryID,
	)
	var i UpsertProductRow
	err := row.Scan(&i.ID, &i.Slug, &i.Name, &i.Created)
	return i, err
}

const getProductBySlug = `
SELECT id, name, slug, description, meta_title, meta_description, sku,
       price, cost_price, weight, available_on, promotable,
       tax_category_id, shipping_category_id
FROM products
WHERE slug = $1
`

type ProductRow struct {
	ID                 int64
	Name               string
	Slug               string
	Description        pgtype.Text
	MetaTitle          pgtype.Text
	MetaDescription    pgtype.Text
	Sku                pgtype.Text
	Price              pgtype.Numeric
	CostPrice          pgtype.Numeric
	Weight             pgtype.Numeric
	AvailableOn        pgtype.Timestamptz
	Promotable         bool
	TaxCategoryID      pgtype.Int8
	ShippingCategoryID pgtype.Int8
}

func (q *Queries) GetProductBySlug(ctx context.Context, slug string) (ProductRow, error) {
	row := q.db.QueryRow(ctx, getProductBySlug, slug)
	var i ProductRow
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Slug,
		&i.Description,
		&i.MetaTitle,
		&i.MetaDescription,
		&i.Sku,
		&i.Price,
		&i.CostPrice,
		&i.Weight,
		&i.AvailableOn,
		&i.Promotable,
		&i.TaxCategoryID,
		&i.ShippingCategoryID,
	)
	return i, err
}

const countProducts = `SELECT COUNT(*) FROM products`

func (q *Queries) CountProducts(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, countProducts)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const listImageKeys = `SELECT storage_key FROM images ORDER BY id`

func (q *Queries) ListImageKeys(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, listImageKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		items = append(items, key)
	}
	return items, rows.Err()
}

const deleteAllProducts = `DELETE FROM products`

// DeleteAllProducts removes every product; properties, category links and
// images go with them through ON DELETE CASCADE.
func (q *Queries) DeleteAllProducts(ctx context.Context) (int64, error) {
	result, err := q.db.Exec(ctx, deleteAllProducts)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const upsertProperty = `
INSERT INTO properties (name, presentation)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, presentation
`

type PropertyRow struct {
	ID           int64
	Name         string
	Presentation string
}

func (q *Queries) UpsertProperty(ctx context.Context, name, presentation string) (PropertyRow, error) {
	row := q.db.QueryRow(ctx, upsertProperty, name, presentation)
	var i PropertyRow
	err := row.Scan(&i.ID, &i.Name, &i.Presentation)
	return i, err
}

const upsertProductProperty = `
INSERT INTO product_properties (product_id, property_id, value)
VALUES ($1, $2, $3)
ON CONFLICT (product_id, property_id) DO UPDATE SET value = EXCLUDED.value
`

func (q *Queries) UpsertProductProperty(ctx context.Context, productID, propertyID int64, value string) error {
	_, err := q.db.Exec(ctx, upsertProductProperty, productID, propertyID, value)
	return err
}

const findCategories = `
SELECT id, COALESCE(parent_id, 0), name
FROM categories
WHERE COALESCE(parent_id, 0) = $1 AND name = $2
ORDER BY id
`

type CategoryRow struct {
	ID       int64
	ParentID int64
	Name     string
}

// FindCategories returns the children of parentID named name; parentID 0
// selects roots.
func (q *Queries) FindCategories(ctx context.Context, parentID int64, name string) ([]CategoryRow, error) {
	rows, err := q.db.Query(ctx, findCategories, parentID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryRow
	for rows.Next() {
		var i CategoryRow
		if err := rows.Scan(&i.ID, &i.ParentID, &i.Name); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const insertCategory = `
INSERT INTO categories (parent_id, name, position)
VALUES ($1, $2, $3)
RETURNING id
`

func (q *Queries) InsertCategory(ctx context.Context, parentID pgtype.Int8, name string, position int32) (int64, error) {
	row := q.db.QueryRow(ctx, insertCategory, parentID, name, position)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const deleteProductCategories = `DELETE FROM product_categories WHERE product_id = $1`

func (q *Queries) DeleteProductCategories(ctx context.Context, productID int64) error {
	_, err := q.db.Exec(ctx, deleteProductCategories, productID)
	return err
}

const insertProductCategory = `
INSERT INTO product_categories (product_id, category_id, position)
VALUES ($1, $2, $3)
`

func (q *Queries) InsertProductCategory(ctx context.Context, productID, categoryID int64, position int32) error {
	_, err := q.db.Exec(ctx, insertProductCategory, productID, categoryID, position)
	return err
}

const listProductCategoryIDs = `
SELECT category_id FROM product_categories WHERE product_id = $1 ORDER BY position
`

func (q *Queries) ListProductCategoryIDs(ctx context.Context, productID int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, listProductCategoryIDs, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

const insertImage = `
INSERT INTO images (product_id, position, storage_key, file_name, content_type, file_size, source_url)
VALUES (
    $1,
    (SELECT COALESCE(MAX(position), 0) + 1 FROM images WHERE product_id = $1),
    $2, $3, $4, $5, $6
)
RETURNING id, position
`

type InsertImageParams struct {
	ProductID   int64
	StorageKey  string
	FileName    string
	ContentType string
	FileSize    int64
	SourceUrl   pgtype.Text
}

type InsertImageRow struct {
	ID       int64
	Position int32
}

func (q *Queries) InsertImage(ctx context.Context, arg InsertImageParams) (InsertImageRow, error) {
	row := q.db.QueryRow(ctx, insertImage,
		arg.ProductID,
		arg.StorageKey,
		arg.FileName,
		arg.ContentType,
		arg.FileSize,
		arg.SourceUrl,
	)
	var i InsertImageRow
	err := row.Scan(&i.ID, &i.Position)
	return i, err
}

const getTaxCategoryByName = `SELECT id FROM tax_categories WHERE name = $1`

func (q *Queries) GetTaxCategoryByName(ctx context.Context, name string) (int64, error) {
	row := q.db.QueryRow(ctx, getTaxCategoryByName, name)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getFirstTaxCategory = `SELECT id FROM tax_categories ORDER BY id LIMIT 1`

func (q *Queries) GetFirstTaxCategory(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, getFirstTaxCategory)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getShippingCategoryByName = `SELECT id FROM shipping_categories WHERE name = $1`

func (q *Queries) GetShippingCategoryByName(ctx context.Context, name string) (int64, error) {
	row := q.db.QueryRow(ctx, getShippingCategoryByName, name)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getFirstShippingCategory = `SELECT id FROM shipping_categories ORDER BY id LIMIT 1`

func (q *Queries) GetFirstShippingCategory(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, getFirstShippingCategory)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const tryAdvisoryLock = `SELECT pg_try_advisory_lock($1)`

func (q *Queries) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	row := q.db.QueryRow(ctx, tryAdvisoryLock, key)
	var ok bool
	err := row.Scan(&ok)
	return ok, err
}

const advisoryUnlock = `SELECT pg_advisory_unlock($1)`

func (q *Queries) AdvisoryUnlock(ctx context.Context, key int64) (bool, error) {
	row := q.db.QueryRow(ctx, advisoryUnlock, key)
	var ok bool
	err := row.Scan(&ok)
	return ok, err
}
