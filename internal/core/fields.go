package core

// fields.go maps catalog file columns onto product attributes.
//
// Mapping is table driven: productFieldRules lists every column the mapper
// copies and the transform applied to it. Columns handled by other steps
// (categories, image, properties) are listed in relatedColumns and never
// reach the mapper. Any other whitelisted column is accepted but unused.

import (
	"time"
)

// FieldRule describes how one column is applied to ProductAttributes.
type FieldRule struct {
	Column  string
	Targets []string // product fields written by Apply, for documentation and tests
	Apply   func(attrs *ProductAttributes, value string) error
}

var productFieldRules = []FieldRule{
	{
		Column:  ColDisplayName,
		Targets: []string{"name", "meta_title", "slug"},
		Apply: func(a *ProductAttributes, v string) error {
			a.Name = v
			a.MetaTitle = v
			a.Slug = Parameterize(v)
			return nil
		},
	},
	{
		Column:  ColNettopris,
		Targets: []string{"cost_price"},
		Apply: func(a *ProductAttributes, v string) (err error) {
			a.CostPrice, err = ParseDecimal(ColNettopris, v)
			return err
		},
	},
	{
		Column:  ColBruttopris,
		Targets: []string{"price"},
		Apply: func(a *ProductAttributes, v string) (err error) {
			a.Price, err = ParseDecimal(ColBruttopris, v)
			return err
		},
	},
	{
		Column:  ColLangProduktBeskrivelse,
		Targets: []string{"description", "meta_description"},
		Apply: func(a *ProductAttributes, v string) error {
			a.Description = NullString(v)
			a.MetaDescription = NullString(v)
			return nil
		},
	},
	{
		Column:  ColEAN,
		Targets: []string{"sku"},
		Apply: func(a *ProductAttributes, v string) error {
			a.SKU = NullString(v)
			return nil
		},
	},
	{
		Column:  ColWeight,
		Targets: []string{"weight"},
		Apply: func(a *ProductAttributes, v string) (err error) {
			a.Weight, err = ParseDecimal(ColWeight, v)
			return err
		},
	},
}

// relatedColumns are whitelisted columns that are not copied onto the
// product directly.
var relatedColumns = func() map[string]bool {
	m := map[string]bool{
		ColKategori1: true,
		ColKategori2: true,
		ColKategori3: true,
		ColKategori4: true,
		ColBillede:   true,
	}
	for _, p := range PropertyColumns {
		m[p.Column] = true
	}
	return m
}()

// ProductFieldRules returns a copy of the column dispatch table.
func ProductFieldRules() []FieldRule {
	out := make([]FieldRule, len(productFieldRules))
	copy(out, productFieldRules)
	return out
}

// IsRelatedColumn reports whether col is handled outside the field mapper.
func IsRelatedColumn(col string) bool {
	return relatedColumns[col]
}

// FieldMapper turns a RawRow into ProductAttributes.
type FieldMapper struct {
	now func() time.Time
}

// NewFieldMapper creates a mapper. A nil clock uses time.Now.
func NewFieldMapper(now func() time.Time) *FieldMapper {
	if now == nil {
		now = time.Now
	}
	return &FieldMapper{now: now}
}

// MapFields applies every rule whose column is present in the row, then sets
// AvailableOn and Promotable. The first parse failure is returned.
func (m *FieldMapper) MapFields(row RawRow) (ProductAttributes, error) {
	var attrs ProductAttributes

	for _, rule := range productFieldRules {
		if relatedColumns[rule.Column] {
			continue
		}
		v, ok := row.Lookup(rule.Column)
		if !ok {
			continue
		}
		if err := rule.Apply(&attrs, v); err != nil {
			return ProductAttributes{}, err
		}
	}

	attrs.AvailableOn = m.now().UTC()
	attrs.Promotable = true
	return attrs, nil
}

// checkRequired rejects attributes that cannot be stored as a product.
func checkRequired(a ProductAttributes) error {
	switch {
	case a.Name == "":
		return &ConstraintError{Field: "name", Reason: "DisplayName is empty"}
	case a.Slug == "":
		return &ConstraintError{Field: "slug", Reason: "DisplayName has no letters or digits"}
	case !a.Price.Valid:
		return &ConstraintError{Field: "price", Reason: "Bruttopris is empty"}
	}
	return nil
}
