package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/metrics"
)

// AcceptedContentTypes are the media types accepted for catalog files.
var AcceptedContentTypes = []string{"text/csv", "text/plain"}

// ValidateContentType checks a declared content type. Parameters such as
// charset are allowed.
func ValidateContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	for _, t := range AcceptedContentTypes {
		if mediaType == t {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
}

// CreateImport stores a catalog file, records a pending import for it and,
// once the record is committed, starts the run in the background.
// Returns ErrImportInProgress without storing anything when a run is active.
func (s *Service) CreateImport(ctx context.Context, fileName, contentType string, r io.Reader, size int64) (ImportRecord, error) {
	if err := ValidateContentType(contentType); err != nil {
		return ImportRecord{}, err
	}
	if size > s.cfg.MaxFileSize {
		return ImportRecord{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, s.cfg.MaxFileSize)
	}

	release, err := s.reserve(ctx)
	if err != nil {
		return ImportRecord{}, err
	}
	started := false
	defer func() {
		if !started {
			release()
		}
	}()

	file := ImportFile{
		StorageKey:  ImportFileKey(fileName),
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
	}
	if err := s.files.Put(ctx, file.StorageKey, r, size, contentType); err != nil {
		return ImportRecord{}, fmt.Errorf("store import file: %w", err)
	}

	rec := ImportRecord{
		ID:        uuid.New(),
		File:      file,
		FileName:  fileName,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.imports.CreateImport(ctx, rec); err != nil {
		if derr := s.files.Delete(context.WithoutCancel(ctx), file.StorageKey); derr != nil {
			s.logger.Warn("failed to remove orphaned import file", "key", file.StorageKey, "error", derr)
		}
		return ImportRecord{}, fmt.Errorf("create import record: %w", err)
	}

	s.logger.Info("import created",
		slog.String("import_id", rec.ID.String()),
		slog.String("file", fileName),
		slog.Int64("size", size),
		slog.String("remote_ip", GetIPAddressFromContext(ctx)),
		slog.String("user_agent", GetUserAgentFromContext(ctx)),
	)

	s.launch(rec, release)
	started = true
	return rec, nil
}

// StartImport re-runs an existing import record. The catalog is replaced
// again from the stored file.
func (s *Service) StartImport(ctx context.Context, id uuid.UUID) error {
	rec, err := s.imports.GetImport(ctx, id)
	if err != nil {
		return err
	}

	release, err := s.reserve(ctx)
	if err != nil {
		return err
	}
	s.launch(rec, release)
	return nil
}

// reserve takes the in-process slot and the catalog lock. Both are held
// until the returned release function is called.
func (s *Service) reserve(ctx context.Context) (func(), error) {
	if err := s.limiter.TryAcquire(); err != nil {
		return nil, err
	}

	unlock, ok, err := s.locker.TryLockCatalog(ctx)
	if err != nil {
		s.limiter.Release()
		return nil, fmt.Errorf("lock catalog: %w", err)
	}
	if !ok {
		s.limiter.Release()
		return nil, ErrImportInProgress
	}

	return func() {
		unlock()
		s.limiter.Release()
	}, nil
}

// launch starts the run for rec in the background. release is called when
// the run ends.
func (s *Service) launch(rec ImportRecord, release func()) {
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ImportTimeout)

	imp := &activeImport{
		ID:       rec.ID,
		FileName: rec.FileName,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: ImportProgress{
			ImportID:   rec.ID.String(),
			Phase:      PhaseStarting,
			FileName:   rec.FileName,
			BytesTotal: rec.File.Size,
		},
	}

	s.mu.Lock()
	s.active[rec.ID] = imp
	s.mu.Unlock()

	go func() {
		defer release()
		defer cancel()
		defer s.cleanup(imp, ResultRetention)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in import run",
					"import_id", rec.ID.String(),
					"panic", r,
				)
				err := fmt.Errorf("internal error: %v", r)
				s.finishRun(imp, rec, nil, err)
			}
		}()
		s.run(runCtx, imp, rec)
	}()
}

// run executes the batch for rec and persists the outcome.
func (s *Service) run(ctx context.Context, imp *activeImport, rec ImportRecord) {
	logger := s.logger.With("import_id", rec.ID.String(), "file", rec.FileName)

	startedAt := s.now().UTC()
	if err := s.imports.MarkImportRunning(ctx, rec.ID, startedAt); err != nil {
		s.finishRun(imp, rec, nil, fmt.Errorf("mark import running: %w", err))
		return
	}
	rec.StartedAt = &startedAt
	logger.Info("import started")

	file, err := s.files.Open(ctx, rec.File.StorageKey)
	if err != nil {
		s.finishRun(imp, rec, nil, fmt.Errorf("open import file: %w", err))
		return
	}
	defer file.Close()

	opts := s.cfg.Batch
	opts.Logger = logger
	batch := NewBatchImporter(s.catalog, s.files, s.fetcher, opts)

	result, err := batch.Run(ctx, file, rec.File.Size, func(p ImportProgress) {
		p.ImportID = rec.ID.String()
		p.FileName = rec.FileName
		imp.setProgress(p)
	})
	s.finishRun(imp, rec, result, err)
}

// finishRun persists the final state of a run, records metrics and wakes
// waiters.
func (s *Service) finishRun(imp *activeImport, rec ImportRecord, result *BatchResult, err error) {
	finishedAt := s.now().UTC()
	rec.FinishedAt = &finishedAt

	var header []string
	var failures []RowFailure
	if result != nil {
		header = result.Header
		failures = result.Failures
		rec.TotalRows = result.TotalRows
		rec.Imported = result.Imported
		rec.Failed = result.Failed()
		rec.Removed = result.Removed
	}

	phase := PhaseComplete
	switch {
	case err == nil:
		rec.Status = StatusCompleted
	case imp.wasCancelled():
		rec.Status = StatusCancelled
		phase = PhaseCancelled
		err = fmt.Errorf("%w: %w", ErrImportCancelled, err)
	default:
		rec.Status = StatusFailed
		phase = PhaseFailed
	}
	if err != nil {
		rec.Error = err.Error()
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if perr := s.imports.FinishImport(persistCtx, rec, header, failures); perr != nil {
		s.logger.Error("failed to persist import result",
			"import_id", rec.ID.String(),
			"error", perr,
		)
		if err == nil {
			err = perr
		}
	}

	var duration time.Duration
	if rec.StartedAt != nil {
		duration = finishedAt.Sub(*rec.StartedAt)
	}
	metrics.RecordRun(string(rec.Status), duration)

	p := ImportProgress{
		ImportID:   rec.ID.String(),
		Phase:      phase,
		FileName:   rec.FileName,
		Processed:  rec.TotalRows,
		Imported:   rec.Imported,
		Failed:     rec.Failed,
		BytesRead:  rec.File.Size,
		BytesTotal: rec.File.Size,
		Error:      rec.Error,
	}
	if phase != PhaseComplete {
		p.BytesRead = 0
		if last, ok := s.GetProgress(rec.ID); ok {
			p.BytesRead = last.BytesRead
		}
	}
	if err != nil {
		p.Error = FormatUserError(err)
	}
	imp.setProgress(p)
	imp.finish(result, err)

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "import finished",
		"import_id", rec.ID.String(),
		"status", string(rec.Status),
		"rows", rec.TotalRows,
		"imported", rec.Imported,
		"failed", rec.Failed,
	)
}
