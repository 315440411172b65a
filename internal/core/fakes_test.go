package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ----------------------------------------------------------------------------
// memCatalog: in-memory CatalogStore
// ----------------------------------------------------------------------------

type memProduct struct {
	ProductParams
	ID int64
}

type catalogState struct {
	nextID       int64
	products     map[string]*memProduct // by slug
	properties   map[string]PropertyDefinition
	productProps map[[2]int64]string
	productCats  map[int64][]int64
	images       []Image
}

func (s *catalogState) clone() *catalogState {
	c := &catalogState{
		nextID:       s.nextID,
		products:     make(map[string]*memProduct, len(s.products)),
		properties:   maps.Clone(s.properties),
		productProps: maps.Clone(s.productProps),
		productCats:  make(map[int64][]int64, len(s.productCats)),
		images:       slices.Clone(s.images),
	}
	for k, v := range s.products {
		p := *v
		c.products[k] = &p
	}
	for k, v := range s.productCats {
		c.productCats[k] = slices.Clone(v)
	}
	return c
}

// memCatalog serialises transactions; each transaction works on a copy that
// replaces the committed state only when fn succeeds.
type memCatalog struct {
	mu         sync.Mutex
	state      *catalogState
	categories []CategoryNode
	tax        map[string]int64
	shipping   map[string]int64

	// failOn returns an error to inject for the named operation.
	failOn func(op string, arg string) error

	replaceCalls int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		state: &catalogState{
			products:     map[string]*memProduct{},
			properties:   map[string]PropertyDefinition{},
			productProps: map[[2]int64]string{},
			productCats:  map[int64][]int64{},
		},
		tax:      map[string]int64{"Standard": 1},
		shipping: map[string]int64{"Default": 1},
	}
}

// addCategoryPath creates the named path below the roots and returns the
// leaf id. Existing nodes are reused.
func (c *memCatalog) addCategoryPath(names ...string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var parent int64
	for _, name := range names {
		found := int64(0)
		for _, n := range c.categories {
			if n.ParentID == parent && n.Name == name {
				found = n.ID
				break
			}
		}
		if found == 0 {
			found = int64(len(c.categories) + 1)
			c.categories = append(c.categories, CategoryNode{ID: found, ParentID: parent, Name: name})
		}
		parent = found
	}
	return parent
}

func (c *memCatalog) fail(op, arg string) error {
	if c.failOn == nil {
		return nil
	}
	return c.failOn(op, arg)
}

func (c *memCatalog) WithTx(ctx context.Context, fn func(tx CatalogTx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{c: c, s: c.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	c.state = tx.s
	return nil
}

func (c *memCatalog) ReplaceCatalog(ctx context.Context) (ReplaceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.replaceCalls++
	if err := c.fail("replace", ""); err != nil {
		return ReplaceResult{}, err
	}

	res := ReplaceResult{ProductsRemoved: int64(len(c.state.products))}
	for _, img := range c.state.images {
		res.ImageKeys = append(res.ImageKeys, img.StorageKey)
	}
	c.state.products = map[string]*memProduct{}
	c.state.productProps = map[[2]int64]string{}
	c.state.productCats = map[int64][]int64{}
	c.state.images = nil
	return res, nil
}

func lookupDefault(m map[string]int64, name string) (int64, error) {
	if name == "" {
		ids := slices.Collect(maps.Values(m))
		if len(ids) == 0 {
			return 0, errors.New("no rows")
		}
		return slices.Min(ids), nil
	}
	id, ok := m[name]
	if !ok {
		return 0, errors.New("no rows")
	}
	return id, nil
}

func (c *memCatalog) TaxCategoryID(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lookupDefault(c.tax, name)
}

func (c *memCatalog) ShippingCategoryID(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lookupDefault(c.shipping, name)
}

func (c *memCatalog) CountProducts(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.state.products)), nil
}

func (c *memCatalog) product(slug string) (*memProduct, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.state.products[slug]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (c *memCatalog) productProperty(slug, property string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.state.products[slug]
	if !ok {
		return "", false
	}
	def, ok := c.state.properties[property]
	if !ok {
		return "", false
	}
	v, ok := c.state.productProps[[2]int64{p.ID, def.ID}]
	return v, ok
}

func (c *memCatalog) productCategories(slug string) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.state.products[slug]
	if !ok {
		return nil
	}
	return slices.Clone(c.state.productCats[p.ID])
}

func (c *memCatalog) propertyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.properties)
}

func (c *memCatalog) imageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.images)
}

func (c *memCatalog) slugs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := slices.Collect(maps.Keys(c.state.products))
	sort.Strings(out)
	return out
}

type memTx struct {
	c *memCatalog
	s *catalogState
}

func (t *memTx) UpsertProduct(_ context.Context, p ProductParams) (Product, error) {
	if err := t.c.fail("upsert", p.Slug); err != nil {
		return Product{}, err
	}
	if p.Slug == "" {
		return Product{}, &ConstraintError{Field: "slug", Reason: "empty"}
	}

	if existing, ok := t.s.products[p.Slug]; ok {
		merged := existing.ProductParams
		merged.Name = p.Name
		merged.MetaTitle = p.MetaTitle
		merged.AvailableOn = p.AvailableOn
		merged.Promotable = p.Promotable
		merged.TaxCategoryID = p.TaxCategoryID
		merged.ShippingCategoryID = p.ShippingCategoryID
		if p.Description.Valid {
			merged.Description = p.Description
			merged.MetaDescription = p.MetaDescription
		}
		if p.SKU.Valid {
			merged.SKU = p.SKU
		}
		if p.Price.Valid {
			merged.Price = p.Price
		}
		if p.CostPrice.Valid {
			merged.CostPrice = p.CostPrice
		}
		if p.Weight.Valid {
			merged.Weight = p.Weight
		}
		existing.ProductParams = merged
		return Product{ID: existing.ID, Slug: p.Slug, Name: p.Name}, nil
	}

	t.s.nextID++
	t.s.products[p.Slug] = &memProduct{ProductParams: p, ID: t.s.nextID}
	return Product{ID: t.s.nextID, Slug: p.Slug, Name: p.Name, Created: true}, nil
}

func (t *memTx) EnsureProperty(_ context.Context, name, presentation string) (PropertyDefinition, error) {
	if def, ok := t.s.properties[name]; ok {
		return def, nil
	}
	t.s.nextID++
	def := PropertyDefinition{ID: t.s.nextID, Name: name, Presentation: presentation}
	t.s.properties[name] = def
	return def, nil
}

func (t *memTx) UpsertProductProperty(_ context.Context, productID, propertyID int64, value string) error {
	t.s.productProps[[2]int64{productID, propertyID}] = value
	return nil
}

func (t *memTx) FindCategories(_ context.Context, parentID int64, name string) ([]CategoryNode, error) {
	var out []CategoryNode
	for _, n := range t.c.categories {
		if n.ParentID == parentID && n.Name == name {
			out = append(out, n)
		}
	}
	return out, nil
}

func (t *memTx) SetProductCategories(_ context.Context, productID int64, ids []int64) error {
	t.s.productCats[productID] = slices.Clone(ids)
	return nil
}

func (t *memTx) AddProductImage(_ context.Context, productID int64, img ImageParams) (Image, error) {
	if err := t.c.fail("image", img.SourceURL); err != nil {
		return Image{}, err
	}
	position := 1
	for _, existing := range t.s.images {
		if existing.ProductID == productID {
			position++
		}
	}
	t.s.nextID++
	image := Image{ID: t.s.nextID, ProductID: productID, Position: position, ImageParams: img}
	t.s.images = append(t.s.images, image)
	return image, nil
}

// ----------------------------------------------------------------------------
// memStore: in-memory AttachmentStore
// ----------------------------------------------------------------------------

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStore) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// ----------------------------------------------------------------------------
// stubFetcher: canned ImageFetcher
// ----------------------------------------------------------------------------

type stubFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	delay map[string]time.Duration
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedImage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	fail := f.fail[rawURL]
	delay := f.delay[rawURL]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, &FetchError{URL: rawURL, Err: errors.New("unexpected status 404 Not Found")}
	}
	return &FetchedImage{
		URL:         rawURL,
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
		Data:        []byte{0xFF, 0xD8, 0xFF, 0xE0},
	}, nil
}

// ----------------------------------------------------------------------------
// memImports: in-memory ImportRepository
// ----------------------------------------------------------------------------

type memImports struct {
	mu       sync.Mutex
	records  map[uuid.UUID]ImportRecord
	reports  map[uuid.UUID]FailedRowsReport
	finished chan uuid.UUID
}

func newMemImports() *memImports {
	return &memImports{
		records:  map[uuid.UUID]ImportRecord{},
		reports:  map[uuid.UUID]FailedRowsReport{},
		finished: make(chan uuid.UUID, 10),
	}
}

func (m *memImports) CreateImport(_ context.Context, rec ImportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memImports) GetImport(_ context.Context, id uuid.UUID) (ImportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ImportRecord{}, ErrImportNotFound
	}
	return rec, nil
}

func (m *memImports) ListImports(_ context.Context, limit int) ([]ImportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Collect(maps.Values(m.records))
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memImports) MarkImportRunning(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrImportNotFound
	}
	rec.Status = StatusRunning
	rec.StartedAt = &startedAt
	m.records[id] = rec
	return nil
}

func (m *memImports) FinishImport(_ context.Context, rec ImportRecord, header []string, failures []RowFailure) error {
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.reports[rec.ID] = FailedRowsReport{Header: header, Failures: failures}
	m.mu.Unlock()

	m.finished <- rec.ID
	return nil
}

func (m *memImports) GetFailedRows(_ context.Context, id uuid.UUID) (FailedRowsReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[id], nil
}
