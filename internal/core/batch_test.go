package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

const batchHeader = "DisplayName;Bruttopris;Nettopris;Kategori1;Kategori2;Kategori3;Kategori4;Brand;Billede"

func catalogFile(t *testing.T, lines ...string) []byte {
	t.Helper()
	return latin1(t, batchHeader+"\n"+strings.Join(lines, "\n")+"\n")
}

type batchFixture struct {
	catalog *memCatalog
	store   *memStore
	fetcher *stubFetcher
}

func newBatchFixture() *batchFixture {
	catalog := newMemCatalog()
	catalog.addCategoryPath("Møbler", "Stole", "Spisestue", "Træ")
	return &batchFixture{catalog: catalog, store: newMemStore(), fetcher: &stubFetcher{}}
}

func (fx *batchFixture) run(t *testing.T, ctx context.Context, opts BatchOptions, file []byte) (*BatchResult, error) {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	b := NewBatchImporter(fx.catalog, fx.store, fx.fetcher, opts)
	return b.Run(ctx, bytes.NewReader(file), int64(len(file)), nil)
}

func TestBatchImporter_Run(t *testing.T) {
	fx := newBatchFixture()

	good1 := "Blå Stol;129,95;80;Møbler;Stole;Spisestue;Træ;Acme;http://img.example/a.jpg"
	bad1 := "Hammer;abc;10;Møbler;Stole;Spisestue;Træ;;"
	bad2 := "Sav;99;50;Værktøj;Håndværktøj;Save;Fukssave;;"
	good2 := "Bord;499,5;;Møbler;Stole;Spisestue;Træ;;"
	bad3 := ";10;5;Møbler;Stole;Spisestue;Træ;;"
	file := catalogFile(t, good1, bad1, bad2, good2, bad3)

	res, err := fx.run(t, context.Background(), BatchOptions{Workers: 3}, file)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.TotalRows != 5 || res.Imported != 2 || res.Failed() != 3 {
		t.Errorf("rows=%d imported=%d failed=%d, want 5/2/3", res.TotalRows, res.Imported, res.Failed())
	}
	if got := fx.catalog.slugs(); len(got) != 2 || got[0] != "bla-stol" || got[1] != "bord" {
		t.Errorf("slugs = %v", got)
	}

	wantFailures := []struct {
		line int
		kind ErrorKind
	}{
		{3, KindParse},
		{4, KindNotFound},
		{6, KindConstraint},
	}
	for i, w := range wantFailures {
		f := res.Failures[i]
		if f.Line != w.line || f.Kind != w.kind {
			t.Errorf("failure %d = line %d %s, want line %d %s", i, f.Line, f.Kind, w.line, w.kind)
		}
	}

	var report bytes.Buffer
	if err := WriteFailedCSV(&report, res.Header, res.Failures); err != nil {
		t.Fatalf("WriteFailedCSV: %v", err)
	}
	want := catalogFile(t, bad1, bad2, bad3)
	if !bytes.Equal(report.Bytes(), want) {
		t.Errorf("report =\n%q\nwant\n%q", report.Bytes(), want)
	}
}

func TestBatchImporter_ReplacesPreviousCatalog(t *testing.T) {
	fx := newBatchFixture()
	ctx := context.Background()

	first := catalogFile(t,
		"Stol A;100;;Møbler;Stole;Spisestue;Træ;;http://img.example/a.jpg",
		"Stol B;200;;Møbler;Stole;Spisestue;Træ;;",
	)
	if _, err := fx.run(t, ctx, BatchOptions{}, first); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if fx.store.count("images/") != 1 {
		t.Fatalf("images after first run = %d, want 1", fx.store.count("images/"))
	}

	second := catalogFile(t, "Stol C;300;;Møbler;Stole;Spisestue;Træ;;")
	res, err := fx.run(t, ctx, BatchOptions{}, second)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if res.Removed != 2 {
		t.Errorf("Removed = %d, want 2", res.Removed)
	}
	if got := fx.catalog.slugs(); len(got) != 1 || got[0] != "stol-c" {
		t.Errorf("slugs = %v, want [stol-c]", got)
	}
	if fx.store.count("images/") != 0 {
		t.Errorf("old image attachments = %d, want 0", fx.store.count("images/"))
	}
}

func TestBatchImporter_DuplicateSlugLastRowWins(t *testing.T) {
	tests := []struct {
		name string
		opts BatchOptions
	}{
		{"single worker", BatchOptions{Workers: 1}},
		{"default workers", BatchOptions{}},
		{"many workers", BatchOptions{Workers: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newBatchFixture()
			// The earlier row's image is slow, so it would commit last if
			// the two rows ran side by side.
			fx.fetcher.delay = map[string]time.Duration{"http://img.example/slow.jpg": 150 * time.Millisecond}

			file := catalogFile(t,
				"Stol;100;;Møbler;Stole;Spisestue;Træ;Acme;http://img.example/slow.jpg",
				"Bord;50;;Møbler;Stole;Spisestue;Træ;;",
				"STOL;200;;Møbler;Stole;Spisestue;Træ;Nordic;",
			)
			res, err := fx.run(t, context.Background(), tt.opts, file)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Imported != 3 {
				t.Errorf("Imported = %d, want 3", res.Imported)
			}

			p, ok := fx.catalog.product("stol")
			if !ok {
				t.Fatal("product missing")
			}
			if p.Name != "STOL" || p.Price.Decimal.String() != "200" {
				t.Errorf("product = %q %s, want STOL 200", p.Name, p.Price.Decimal)
			}
			if v, _ := fx.catalog.productProperty("stol", "brand"); v != "Nordic" {
				t.Errorf("brand = %q, want Nordic", v)
			}
			if n := len(fx.catalog.slugs()); n != 2 {
				t.Errorf("products = %d, want 2", n)
			}
		})
	}
}

func TestLaneFor(t *testing.T) {
	idx := MakeHeaderIndex([]string{ColDisplayName})
	row := func(name string) RawRow { return NewRawRow(2, []string{name}, idx) }

	for _, n := range []int{1, 2, 4, 16} {
		a := laneFor(row("Blå Stol"), n)
		b := laneFor(row("BLÅ STOL"), n)
		if a != b {
			t.Errorf("n=%d: rows with the same slug got lanes %d and %d", n, a, b)
		}
		if a < 0 || a >= n {
			t.Errorf("n=%d: lane %d out of range", n, a)
		}
	}
}

func TestBatchImporter_PreChecksLeaveCatalogUntouched(t *testing.T) {
	tests := []struct {
		name string
		opts BatchOptions
		file string
		want error
	}{
		{
			name: "unknown tax category",
			opts: BatchOptions{TaxCategory: "Reduced"},
			file: batchHeader + "\nStol;1;;a;b;c;d;;\n",
			want: ErrDefaultsMissing,
		},
		{
			name: "unknown shipping category",
			opts: BatchOptions{ShippingCategory: "Freight"},
			file: batchHeader + "\nStol;1;;a;b;c;d;;\n",
			want: ErrDefaultsMissing,
		},
		{
			name: "no importable columns",
			file: "Navn;Pris\nStol;1\n",
			want: ErrHeaderNotFound,
		},
		{
			name: "empty file",
			file: "",
			want: ErrEmptyFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newBatchFixture()
			if _, err := fx.run(t, context.Background(), BatchOptions{}, catalogFile(t, "Gammel;1;;Møbler;Stole;Spisestue;Træ;;")); err != nil {
				t.Fatalf("seed run: %v", err)
			}
			fx.catalog.replaceCalls = 0

			res, err := fx.run(t, context.Background(), tt.opts, []byte(tt.file))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if res != nil {
				t.Error("result should be nil when pre-checks fail")
			}
			if fx.catalog.replaceCalls != 0 {
				t.Error("catalog should not be replaced")
			}
			if got := fx.catalog.slugs(); len(got) != 1 || got[0] != "gammel" {
				t.Errorf("slugs = %v, want [gammel]", got)
			}
		})
	}
}

func TestBatchImporter_ReplaceFailure(t *testing.T) {
	fx := newBatchFixture()
	fx.catalog.failOn = func(op, _ string) error {
		if op == "replace" {
			return errors.New("lock timeout")
		}
		return nil
	}

	_, err := fx.run(t, context.Background(), BatchOptions{}, catalogFile(t, "Stol;1;;Møbler;Stole;Spisestue;Træ;;"))
	if err == nil || !strings.Contains(err.Error(), "replace catalog") {
		t.Fatalf("err = %v, want replace catalog error", err)
	}
	if n := len(fx.catalog.slugs()); n != 0 {
		t.Errorf("products = %d, want 0", n)
	}
}

func TestBatchImporter_PropertiesCreatedOnce(t *testing.T) {
	fx := newBatchFixture()

	lines := make([]string, 0, 50)
	for i := range 50 {
		lines = append(lines, fmt.Sprintf("Stol %d;%d;;Møbler;Stole;Spisestue;Træ;Acme;", i, 100+i))
	}
	res, err := fx.run(t, context.Background(), BatchOptions{Workers: 8}, catalogFile(t, lines...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Imported != 50 {
		t.Errorf("Imported = %d, want 50 (failures: %+v)", res.Imported, res.Failures)
	}
	if n := fx.catalog.propertyCount(); n != 1 {
		t.Errorf("property definitions = %d, want 1", n)
	}
}

func TestBatchImporter_Progress(t *testing.T) {
	fx := newBatchFixture()
	file := catalogFile(t,
		"Stol A;1;;Møbler;Stole;Spisestue;Træ;;",
		"Stol B;x;;Møbler;Stole;Spisestue;Træ;;",
		"Stol C;3;;Møbler;Stole;Spisestue;Træ;;",
	)

	var (
		mu     sync.Mutex
		events []ImportProgress
	)
	b := NewBatchImporter(fx.catalog, fx.store, fx.fetcher, BatchOptions{Workers: 2, ProgressInterval: 1})
	_, err := b.Run(context.Background(), bytes.NewReader(file), int64(len(file)), func(p ImportProgress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events) < 4 {
		t.Fatalf("events = %d, want at least 4", len(events))
	}
	if events[0].Phase != PhaseStarting || events[1].Phase != PhaseReplacing {
		t.Errorf("first phases = %s, %s", events[0].Phase, events[1].Phase)
	}
	last := events[len(events)-1]
	if last.Phase != PhaseComplete || last.Processed != 3 || last.Imported != 2 || last.Failed != 1 {
		t.Errorf("last = %+v", last)
	}
	if last.BytesRead != int64(len(file)) || last.BytesTotal != int64(len(file)) {
		t.Errorf("bytes = %d/%d, want %d", last.BytesRead, last.BytesTotal, len(file))
	}
}

func TestBatchImporter_Cancelled(t *testing.T) {
	fx := newBatchFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx.catalog.failOn = func(op, arg string) error {
		if op == "upsert" && arg == "stol-b" {
			cancel()
			return context.Canceled
		}
		return nil
	}

	file := catalogFile(t,
		"Stol A;1;;Møbler;Stole;Spisestue;Træ;;",
		"Stol B;2;;Møbler;Stole;Spisestue;Træ;;",
		"Stol C;3;;Møbler;Stole;Spisestue;Træ;;",
	)
	res, err := fx.run(t, ctx, BatchOptions{Workers: 1}, file)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatal("partial result expected")
	}
	if res.Imported != 1 || res.Failed() != 0 {
		t.Errorf("imported=%d failed=%d, want 1/0", res.Imported, res.Failed())
	}
	if got := fx.catalog.slugs(); len(got) != 1 || got[0] != "stol-a" {
		t.Errorf("slugs = %v, want [stol-a]", got)
	}
}
