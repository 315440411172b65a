package core

import "context"

// CatalogTx is the set of writes and lookups one row performs inside its
// unit of work. Every call made through a CatalogTx commits or rolls back
// together.
type CatalogTx interface {
	// UpsertProduct creates the product or updates the one with the same slug.
	UpsertProduct(ctx context.Context, p ProductParams) (Product, error)

	// EnsureProperty returns the definition named name, creating it with the
	// given presentation when absent. Safe under concurrent callers.
	EnsureProperty(ctx context.Context, name, presentation string) (PropertyDefinition, error)

	// UpsertProductProperty sets the value for the (product, property) pair.
	UpsertProductProperty(ctx context.Context, productID, propertyID int64, value string) error

	// FindCategories returns nodes named name below parentID (0 = roots).
	FindCategories(ctx context.Context, parentID int64, name string) ([]CategoryNode, error)

	// SetProductCategories replaces the product's category path.
	SetProductCategories(ctx context.Context, productID int64, categoryIDs []int64) error

	// AddProductImage appends an image to the product's image list.
	AddProductImage(ctx context.Context, productID int64, img ImageParams) (Image, error)
}

// CatalogStore is the transactional catalog the importer writes to.
type CatalogStore interface {
	// WithTx runs fn in a transaction; fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(tx CatalogTx) error) error

	// ReplaceCatalog deletes every product together with its properties,
	// category assignments and images.
	ReplaceCatalog(ctx context.Context) (ReplaceResult, error)

	// TaxCategoryID resolves a tax category by name, or the first one when
	// name is empty.
	TaxCategoryID(ctx context.Context, name string) (int64, error)

	// ShippingCategoryID resolves a shipping category the same way.
	ShippingCategoryID(ctx context.Context, name string) (int64, error)

	// CountProducts returns the number of products in the catalog.
	CountProducts(ctx context.Context) (int64, error)
}

// CatalogLocker serialises import runs across processes sharing a catalog.
type CatalogLocker interface {
	// TryLockCatalog returns ok=false when another run holds the lock.
	TryLockCatalog(ctx context.Context) (unlock func(), ok bool, err error)
}
