package core

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Column names of the supplier catalog file. Matching is exact and
// case-sensitive.
const (
	ColEAN                    = "EAN"
	ColItemUnit               = "ItemUnit"
	ColNettopris              = "Nettopris"
	ColBruttopris             = "Bruttopris"
	ColLangProduktBeskrivelse = "LangProduktBeskrivelse"
	ColProduktGruppe          = "ProduktGruppe"
	ColProduktID              = "ProduktID"
	ColVaretekst1             = "Varetekst1"
	ColVaretekst2             = "Varetekst2"
	ColSynonyms               = "Synonyms"
	ColProduktGruppeTekst     = "ProduktGruppeTekst"
	ColWeight                 = "Weight"
	ColSupName                = "SupName"
	ColSupplierURL            = "SupplierURL"
	ColProductURL             = "ProductURL"
	ColPakkeAntal             = "PakkeAntal"
	ColBillede                = "Billede"
	ColKategori1              = "Kategori1"
	ColKategori2              = "Kategori2"
	ColKategori3              = "Kategori3"
	ColKategori4              = "Kategori4"
	ColSpecifications         = "Specifications"
	ColSupplierProductNumber  = "SupplierProductNumber"
	ColDisplayName            = "DisplayName"
	ColBrand                  = "Brand"
)

// ImportableColumns is the fixed whitelist of columns the importer reads.
// Anything else in the header is ignored.
var ImportableColumns = []string{
	ColEAN, ColItemUnit, ColNettopris, ColBruttopris, ColLangProduktBeskrivelse,
	ColProduktGruppe, ColProduktID, ColVaretekst1, ColVaretekst2, ColSynonyms,
	ColProduktGruppeTekst, ColWeight, ColSupName, ColSupplierURL, ColProductURL,
	ColPakkeAntal, ColBillede, ColKategori1, ColKategori2, ColKategori3,
	ColKategori4, ColSpecifications, ColSupplierProductNumber, ColDisplayName,
	ColBrand,
}

var importable = func() map[string]bool {
	m := make(map[string]bool, len(ImportableColumns))
	for _, c := range ImportableColumns {
		m[c] = true
	}
	return m
}()

// IsImportable reports whether col is on the column whitelist.
func IsImportable(col string) bool {
	return importable[col]
}

// ImportFile is a handle to an uploaded catalog file in the attachment store.
type ImportFile struct {
	StorageKey  string
	FileName    string
	ContentType string
	Size        int64
}

// HeaderIndex maps column names to their position in a CSV record.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from the header record. Surrounding
// whitespace is trimmed; when a name repeats, the first position wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.TrimSpace(h)
		if _, dup := idx[key]; dup {
			continue
		}
		idx[key] = i
	}
	return idx
}

// RawRow is one data record of the import file. Fields holds the values
// exactly as decoded so the row can be written back unchanged.
type RawRow struct {
	Line   int // 1-indexed line number in the file (header is line 1)
	Fields []string
	index  HeaderIndex
}

// NewRawRow binds a record to its header index.
func NewRawRow(line int, fields []string, idx HeaderIndex) RawRow {
	return RawRow{Line: line, Fields: fields, index: idx}
}

// Lookup returns the value of a whitelisted column. ok is false when the
// column is not whitelisted, not in the header, or missing from the record.
func (r RawRow) Lookup(col string) (string, bool) {
	if !importable[col] {
		return "", false
	}
	pos, ok := r.index[col]
	if !ok || pos >= len(r.Fields) {
		return "", false
	}
	return r.Fields[pos], true
}

// Get returns the value of a whitelisted column or "" when absent.
func (r RawRow) Get(col string) string {
	v, _ := r.Lookup(col)
	return v
}

// ProductAttributes is the canonical attribute set derived from one row.
// Unset optional values leave the stored product's value untouched.
type ProductAttributes struct {
	Name            string
	MetaTitle       string
	Slug            string
	Description     sql.NullString
	MetaDescription sql.NullString
	SKU             sql.NullString
	Price           decimal.NullDecimal
	CostPrice       decimal.NullDecimal
	Weight          decimal.NullDecimal
	AvailableOn     time.Time
	Promotable      bool
}

// CatalogDefaults are the reference records every product is bound to.
type CatalogDefaults struct {
	TaxCategoryID      int64
	ShippingCategoryID int64
}

// ProductParams is what the store needs to upsert a product.
type ProductParams struct {
	ProductAttributes
	TaxCategoryID      int64
	ShippingCategoryID int64
}

// Product is a persisted catalog product.
type Product struct {
	ID      int64
	Slug    string
	Name    string
	Created bool // true when the upsert inserted a new row
}

// PropertyDefinition is a globally shared, named product property type.
type PropertyDefinition struct {
	ID           int64
	Name         string
	Presentation string
}

// CategoryNode is a node of the category tree. ParentID is 0 for roots.
type CategoryNode struct {
	ID       int64
	ParentID int64
	Name     string
}

// ImageParams describes an image already written to the attachment store.
type ImageParams struct {
	StorageKey  string
	FileName    string
	ContentType string
	Size        int64
	SourceURL   string
}

// Image is a persisted product image.
type Image struct {
	ID        int64
	ProductID int64
	Position  int
	ImageParams
}

// RowFailure records a row that could not be imported.
type RowFailure struct {
	Line    int
	Kind    ErrorKind
	Message string
	Row     []string
}

// RowResult is the outcome of importing a single row.
type RowResult struct {
	Line    int
	Product *Product
	Failure *RowFailure
}

// OK reports whether the row was committed.
func (r RowResult) OK() bool { return r.Failure == nil }

// ReplaceResult is the outcome of the catalog replace phase.
type ReplaceResult struct {
	ProductsRemoved int64
	ImageKeys       []string // attachment keys of images that were removed
}

// BatchResult is the outcome of one import run.
type BatchResult struct {
	Header    []string
	Removed   int64
	TotalRows int
	Imported  int
	Failures  []RowFailure
	Duration  time.Duration
}

// Failed returns the number of rejected rows.
func (r *BatchResult) Failed() int { return len(r.Failures) }

// ImportPhase indicates the current stage of an import run.
type ImportPhase string

const (
	PhaseStarting  ImportPhase = "starting"
	PhaseReplacing ImportPhase = "replacing"
	PhaseImporting ImportPhase = "importing"
	PhaseComplete  ImportPhase = "complete"
	PhaseFailed    ImportPhase = "failed"
	PhaseCancelled ImportPhase = "cancelled"
)

// ImportProgress represents the current state of an import run.
type ImportProgress struct {
	ImportID   string      `json:"import_id"`
	Phase      ImportPhase `json:"phase"`
	FileName   string      `json:"file_name"`
	Processed  int         `json:"processed"`
	Imported   int         `json:"imported"`
	Failed     int         `json:"failed"`
	BytesRead  int64       `json:"bytes_read"`
	BytesTotal int64       `json:"bytes_total"`
	Error      string      `json:"error,omitempty"`
}

// Percent returns byte-based progress (0-100). Row totals are unknown while
// streaming.
func (p ImportProgress) Percent() int {
	if p.BytesTotal <= 0 {
		return 0
	}
	pct := int(p.BytesRead * 100 / p.BytesTotal)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ProgressCallback is called periodically while rows are processed.
type ProgressCallback func(ImportProgress)

// ImportStatus is the lifecycle state of an import record.
type ImportStatus string

const (
	StatusPending   ImportStatus = "pending"
	StatusRunning   ImportStatus = "running"
	StatusCompleted ImportStatus = "completed"
	StatusFailed    ImportStatus = "failed"
	StatusCancelled ImportStatus = "cancelled"
)

// ImportRecord is the persisted record an import file is attached to.
type ImportRecord struct {
	ID         uuid.UUID    `json:"id"`
	File       ImportFile   `json:"-"`
	FileName   string       `json:"file_name"`
	Status     ImportStatus `json:"status"`
	TotalRows  int          `json:"total_rows"`
	Imported   int          `json:"imported"`
	Failed     int          `json:"failed"`
	Removed    int64        `json:"removed"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}
