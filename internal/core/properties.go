package core

import (
	"context"
	"fmt"
)

// PropertyColumn binds a catalog column to a shared property definition.
type PropertyColumn struct {
	Column       string
	Name         string
	Presentation string
}

// PropertyColumns is the fixed list of columns stored as product properties,
// in file order.
var PropertyColumns = []PropertyColumn{
	{Column: ColItemUnit, Name: "item_unit", Presentation: "Item Unit"},
	{Column: ColSupplierURL, Name: "supplier_url", Presentation: "Supplier URL"},
	{Column: ColProductURL, Name: "product_url", Presentation: "Product URL"},
	{Column: ColPakkeAntal, Name: "package_count", Presentation: "Package Count"},
	{Column: ColSpecifications, Name: "specifications", Presentation: "Specifications"},
	{Column: ColBrand, Name: "brand", Presentation: "Brand"},
}

// attachProperties stores every non-empty whitelisted property value of row
// on the product. Values are stored verbatim. Definitions are looked up
// through the transaction each time; a cached id could belong to a
// definition created by a row that later rolled back.
func attachProperties(ctx context.Context, tx CatalogTx, productID int64, row RawRow) (int, error) {
	attached := 0
	for _, pc := range PropertyColumns {
		v, ok := row.Lookup(pc.Column)
		if !ok || v == "" {
			continue
		}

		def, err := tx.EnsureProperty(ctx, pc.Name, pc.Presentation)
		if err != nil {
			return attached, fmt.Errorf("ensure property %s: %w", pc.Name, err)
		}
		if err := tx.UpsertProductProperty(ctx, productID, def.ID, v); err != nil {
			return attached, fmt.Errorf("set property %s: %w", pc.Name, err)
		}
		attached++
	}
	return attached, nil
}
