package core

import (
	"context"
	"fmt"
	"strings"
)

// CategoryColumns are the category path columns from the top level down.
var CategoryColumns = []string{ColKategori1, ColKategori2, ColKategori3, ColKategori4}

// resolveCategoryPath walks the category tree one level per column and
// returns the ids of the bound path, top level first. Every level must
// match exactly one node; otherwise nothing is returned.
func resolveCategoryPath(ctx context.Context, tx CatalogTx, row RawRow) ([]int64, error) {
	path := make([]int64, 0, len(CategoryColumns))
	var parent int64

	for i, col := range CategoryColumns {
		level := fmt.Sprintf("category level %d", i+1)
		name := row.Get(col)
		if strings.TrimSpace(name) == "" {
			return nil, &NotFoundError{What: level, Name: name, Cause: col + " is empty"}
		}

		nodes, err := tx.FindCategories(ctx, parent, name)
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", level, err)
		}

		switch len(nodes) {
		case 0:
			return nil, &NotFoundError{What: level, Name: name}
		case 1:
		default:
			return nil, &NotFoundError{
				What:  level,
				Name:  name,
				Cause: fmt.Sprintf("ambiguous: %d matches", len(nodes)),
			}
		}

		parent = nodes[0].ID
		path = append(path, parent)
	}
	return path, nil
}

// bindCategories resolves the row's category path and replaces the product's
// category assignments with it.
func bindCategories(ctx context.Context, tx CatalogTx, productID int64, row RawRow) error {
	path, err := resolveCategoryPath(ctx, tx, row)
	if err != nil {
		return err
	}
	if err := tx.SetProductCategories(ctx, productID, path); err != nil {
		return fmt.Errorf("set categories: %w", err)
	}
	return nil
}
