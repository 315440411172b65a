package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func categoryRow(levels ...string) RawRow {
	values := map[string]string{}
	for i, name := range levels {
		values[CategoryColumns[i]] = name
	}
	return rowOf(2, values)
}

func TestResolveCategoryPath(t *testing.T) {
	catalog := newMemCatalog()
	leaf := catalog.addCategoryPath("Tools", "Hand tools", "Hammers", "Claw hammers")
	catalog.addCategoryPath("Tools", "Power tools", "Drills", "Cordless")
	catalog.addCategoryPath("Garden", "Hand tools", "Hammers", "Claw hammers")
	// Two roots named "Dup" make the first level ambiguous.
	catalog.addCategoryPath("Dup")
	catalog.categories = append(catalog.categories, CategoryNode{ID: 99, ParentID: 0, Name: "Dup"})

	tests := []struct {
		name      string
		row       RawRow
		wantLeaf  int64
		wantLevel string
		wantCause string
	}{
		{
			name:     "full path",
			row:      categoryRow("Tools", "Hand tools", "Hammers", "Claw hammers"),
			wantLeaf: leaf,
		},
		{
			name:      "unknown root",
			row:       categoryRow("Kitchen", "Hand tools", "Hammers", "Claw hammers"),
			wantLevel: "category level 1",
		},
		{
			name:      "child under wrong parent",
			row:       categoryRow("Tools", "Power tools", "Hammers", "Claw hammers"),
			wantLevel: "category level 3",
		},
		{
			name:      "names are case sensitive",
			row:       categoryRow("Tools", "Hand Tools", "Hammers", "Claw hammers"),
			wantLevel: "category level 2",
		},
		{
			name:      "missing fourth level",
			row:       categoryRow("Tools", "Hand tools", "Hammers"),
			wantLevel: "category level 4",
			wantCause: "Kategori4 is empty",
		},
		{
			name:      "blank first level",
			row:       categoryRow("  ", "Hand tools", "Hammers", "Claw hammers"),
			wantLevel: "category level 1",
			wantCause: "Kategori1 is empty",
		},
		{
			name:      "ambiguous level",
			row:       categoryRow("Dup", "A", "B", "C"),
			wantLevel: "category level 1",
			wantCause: "ambiguous: 2 matches",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path []int64
			err := catalog.WithTx(context.Background(), func(tx CatalogTx) error {
				var err error
				path, err = resolveCategoryPath(context.Background(), tx, tt.row)
				return err
			})

			if tt.wantLevel == "" {
				if err != nil {
					t.Fatalf("resolveCategoryPath: %v", err)
				}
				if len(path) != 4 || path[3] != tt.wantLeaf {
					t.Errorf("path = %v, want 4 levels ending in %d", path, tt.wantLeaf)
				}
				return
			}

			var nf *NotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("error = %v, want *NotFoundError", err)
			}
			if nf.What != tt.wantLevel {
				t.Errorf("What = %q, want %q", nf.What, tt.wantLevel)
			}
			if tt.wantCause != "" && !strings.Contains(nf.Cause, tt.wantCause) {
				t.Errorf("Cause = %q, want %q", nf.Cause, tt.wantCause)
			}
			if path != nil {
				t.Errorf("path = %v, want nil on failure", path)
			}
		})
	}
}

func TestBindCategories_ReplacesAssignments(t *testing.T) {
	catalog := newMemCatalog()
	catalog.addCategoryPath("Tools", "Hand tools", "Hammers", "Claw hammers")
	second := catalog.addCategoryPath("Tools", "Hand tools", "Hammers", "Sledges")

	ctx := context.Background()
	for _, leaf := range []string{"Claw hammers", "Sledges"} {
		err := catalog.WithTx(ctx, func(tx CatalogTx) error {
			p, err := tx.UpsertProduct(ctx, ProductParams{ProductAttributes: ProductAttributes{Name: "Hammer", Slug: "hammer"}})
			if err != nil {
				return err
			}
			return bindCategories(ctx, tx, p.ID, categoryRow("Tools", "Hand tools", "Hammers", leaf))
		})
		if err != nil {
			t.Fatalf("bind %s: %v", leaf, err)
		}
	}

	got := catalog.productCategories("hammer")
	if len(got) != 4 || got[3] != second {
		t.Errorf("categories = %v, want path ending in %d", got, second)
	}
}
