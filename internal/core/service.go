package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResultRetention is how long a finished run stays in memory for progress
// and result queries.
var ResultRetention = 5 * time.Minute

// DefaultImportTimeout bounds a whole import run.
const DefaultImportTimeout = 2 * time.Hour

// DefaultMaxFileSize is the largest accepted catalog file (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// ImportRepository persists import records and their failure reports.
type ImportRepository interface {
	CreateImport(ctx context.Context, rec ImportRecord) error
	GetImport(ctx context.Context, id uuid.UUID) (ImportRecord, error)
	ListImports(ctx context.Context, limit int) ([]ImportRecord, error)
	MarkImportRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// FinishImport stores the final state of rec together with the failure
	// report, replacing any report of an earlier run.
	FinishImport(ctx context.Context, rec ImportRecord, header []string, failures []RowFailure) error
	GetFailedRows(ctx context.Context, id uuid.UUID) (FailedRowsReport, error)
}

// FailedRowsReport is the persisted failure report of a run.
type FailedRowsReport struct {
	Header   []string
	Failures []RowFailure
}

// ServiceConfig holds the tunables of the import service.
type ServiceConfig struct {
	Batch         BatchOptions
	ImportTimeout time.Duration
	MaxFileSize   int64
}

// Service provides the import operations used by the HTTP API.
type Service struct {
	catalog CatalogStore
	locker  CatalogLocker
	imports ImportRepository
	files   AttachmentStore
	fetcher ImageFetcher
	limiter *ImportLimiter
	cfg     ServiceConfig
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	active map[uuid.UUID]*activeImport
}

// activeImport tracks a run that is executing or finished recently.
type activeImport struct {
	ID       uuid.UUID
	FileName string
	Cancel   context.CancelFunc
	Done     chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	result    *BatchResult
	err       error
	cancelled bool
	listeners []chan ImportProgress
}

// ServiceDeps are the collaborators of a Service.
type ServiceDeps struct {
	Catalog CatalogStore
	Locker  CatalogLocker
	Imports ImportRepository
	Files   AttachmentStore
	Fetcher ImageFetcher
	Logger  *slog.Logger
}

// NewService creates a new Service instance.
func NewService(deps ServiceDeps, cfg ServiceConfig) (*Service, error) {
	switch {
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog store is required")
	case deps.Imports == nil:
		return nil, fmt.Errorf("import repository is required")
	case deps.Files == nil:
		return nil, fmt.Errorf("attachment store is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("image fetcher is required")
	}
	if deps.Locker == nil {
		deps.Locker = noopLocker{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = DefaultImportTimeout
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	return &Service{
		catalog: deps.Catalog,
		locker:  deps.Locker,
		imports: deps.Imports,
		files:   deps.Files,
		fetcher: deps.Fetcher,
		limiter: NewImportLimiter(1),
		cfg:     cfg,
		logger:  deps.Logger,
		now:     time.Now,
		active:  make(map[uuid.UUID]*activeImport),
	}, nil
}

// noopLocker is used when no cross-process lock is configured.
type noopLocker struct{}

func (noopLocker) TryLockCatalog(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// MaxFileSize returns the largest accepted catalog file in bytes.
func (s *Service) MaxFileSize() int64 { return s.cfg.MaxFileSize }

// LimiterStatus reports whether an import is currently running.
func (s *Service) LimiterStatus() ImportLimiterStatus { return s.limiter.Status() }

// WaitForImports blocks until running imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) lookup(id uuid.UUID) (*activeImport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imp, ok := s.active[id]
	return imp, ok
}

// SubscribeProgress returns a channel that receives progress updates and a
// function that ends the subscription. The channel is closed when the run
// finishes or the subscription ends.
func (s *Service) SubscribeProgress(id uuid.UUID) (<-chan ImportProgress, func(), error) {
	imp, ok := s.lookup(id)
	if !ok {
		return nil, nil, ErrImportNotFound
	}

	ch := make(chan ImportProgress, 10)

	imp.mu.Lock()
	defer imp.mu.Unlock()

	ch <- imp.progress
	select {
	case <-imp.Done:
		close(ch)
		return ch, func() {}, nil
	default:
	}
	imp.listeners = append(imp.listeners, ch)

	unsubscribe := func() {
		imp.mu.Lock()
		defer imp.mu.Unlock()
		for i, l := range imp.listeners {
			if l == ch {
				imp.listeners = append(imp.listeners[:i], imp.listeners[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe, nil
}

// CancelImport cancels a running import.
func (s *Service) CancelImport(id uuid.UUID) error {
	imp, ok := s.lookup(id)
	if !ok {
		return ErrImportNotFound
	}

	imp.mu.Lock()
	imp.cancelled = true
	imp.mu.Unlock()

	imp.Cancel()
	return nil
}

// GetResult returns the result of a run, blocking until it finishes or ctx
// is done.
func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (*BatchResult, error) {
	imp, ok := s.lookup(id)
	if !ok {
		return nil, ErrImportNotFound
	}

	select {
	case <-imp.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.result, imp.err
}

// GetProgress returns the current progress of a tracked run.
func (s *Service) GetProgress(id uuid.UUID) (ImportProgress, bool) {
	imp, ok := s.lookup(id)
	if !ok {
		return ImportProgress{}, false
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.progress, true
}

// ImportStatusView is an import record with live progress when a run is
// tracked in memory.
type ImportStatusView struct {
	ImportRecord
	Progress *ImportProgress `json:"progress,omitempty"`
}

// GetImport returns the import record and live progress.
func (s *Service) GetImport(ctx context.Context, id uuid.UUID) (ImportStatusView, error) {
	rec, err := s.imports.GetImport(ctx, id)
	if err != nil {
		return ImportStatusView{}, err
	}
	view := ImportStatusView{ImportRecord: rec}
	if p, ok := s.GetProgress(id); ok {
		view.Progress = &p
	}
	return view, nil
}

// ListImports returns the most recent import records, newest first.
func (s *Service) ListImports(ctx context.Context, limit int) ([]ImportRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.imports.ListImports(ctx, limit)
}

// GetFailedRows returns the failure report of the last run of an import.
func (s *Service) GetFailedRows(ctx context.Context, id uuid.UUID) (FailedRowsReport, error) {
	if _, err := s.imports.GetImport(ctx, id); err != nil {
		return FailedRowsReport{}, err
	}
	return s.imports.GetFailedRows(ctx, id)
}

// setProgress stores p and sends it to all listeners.
func (imp *activeImport) setProgress(p ImportProgress) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	imp.progress = p
	for _, ch := range imp.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish records the outcome, closes all listeners and marks the run done.
func (imp *activeImport) finish(result *BatchResult, err error) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	select {
	case <-imp.Done:
		return
	default:
	}

	imp.result = result
	imp.err = err
	for _, ch := range imp.listeners {
		close(ch)
	}
	imp.listeners = nil
	close(imp.Done)
}

func (imp *activeImport) wasCancelled() bool {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.cancelled
}

// cleanup removes the run from tracking after a delay. A re-run of the same
// import replaces the entry, and is left alone.
func (s *Service) cleanup(imp *activeImport, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active[imp.ID] == imp {
			delete(s.active, imp.ID)
		}
	})
}
