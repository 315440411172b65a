package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// ImportStore implements core.ImportRepository.
type ImportStore struct {
	pool *pgxpool.Pool
}

// NewImportStore creates an ImportStore.
func NewImportStore(pool *pgxpool.Pool) *ImportStore {
	return &ImportStore{pool: pool}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func pgTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func toRecord(i ProductImport) core.ImportRecord {
	return core.ImportRecord{
		ID: uuid.UUID(i.ID.Bytes),
		File: core.ImportFile{
			StorageKey:  i.FileKey,
			FileName:    i.FileName,
			ContentType: i.ContentType,
			Size:        i.FileSize,
		},
		FileName:   i.FileName,
		Status:     core.ImportStatus(i.Status),
		TotalRows:  int(i.TotalRows),
		Imported:   int(i.Imported),
		Failed:     int(i.Failed),
		Removed:    i.Removed,
		Error:      i.Error.String,
		CreatedAt:  i.CreatedAt,
		StartedAt:  timePtr(i.StartedAt),
		FinishedAt: timePtr(i.FinishedAt),
	}
}

func (s *ImportStore) CreateImport(ctx context.Context, rec core.ImportRecord) error {
	err := New(s.pool).InsertImport(ctx, InsertImportParams{
		ID:          pgUUID(rec.ID),
		FileKey:     rec.File.StorageKey,
		FileName:    rec.FileName,
		ContentType: rec.File.ContentType,
		FileSize:    rec.File.Size,
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}

func (s *ImportStore) GetImport(ctx context.Context, id uuid.UUID) (core.ImportRecord, error) {
	row, err := New(s.pool).GetImportByID(ctx, pgUUID(id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ImportRecord{}, core.ErrImportNotFound
	}
	if err != nil {
		return core.ImportRecord{}, fmt.Errorf("get import: %w", err)
	}
	return toRecord(row), nil
}

func (s *ImportStore) ListImports(ctx context.Context, limit int) ([]core.ImportRecord, error) {
	rows, err := New(s.pool).ListImports(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	recs := make([]core.ImportRecord, len(rows))
	for i, r := range rows {
		recs[i] = toRecord(r)
	}
	return recs, nil
}

func (s *ImportStore) MarkImportRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	n, err := New(s.pool).MarkImportRunning(ctx, pgUUID(id), startedAt)
	if err != nil {
		return fmt.Errorf("mark import running: %w", err)
	}
	if n == 0 {
		return core.ErrImportNotFound
	}
	return nil
}

// FinishImport stores the outcome and replaces the failure report in one
// transaction.
func (s *ImportStore) FinishImport(ctx context.Context, rec core.ImportRecord, header []string, failures []core.RowFailure) error {
	id := pgUUID(rec.ID)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		q := New(tx)
		n, err := q.FinishImport(ctx, FinishImportParams{
			ID:         id,
			Status:     string(rec.Status),
			TotalRows:  int32(rec.TotalRows),
			Imported:   int32(rec.Imported),
			Failed:     int32(rec.Failed),
			Removed:    rec.Removed,
			Error:      pgtype.Text{String: rec.Error, Valid: rec.Error != ""},
			Header:     header,
			StartedAt:  pgTimePtr(rec.StartedAt),
			FinishedAt: pgTimePtr(rec.FinishedAt),
		})
		if err != nil {
			return fmt.Errorf("update import: %w", err)
		}
		if n == 0 {
			return core.ErrImportNotFound
		}

		if err := q.DeleteImportFailures(ctx, id); err != nil {
			return fmt.Errorf("clear failures: %w", err)
		}
		if len(failures) == 0 {
			return nil
		}

		params := make([]InsertImportFailuresParams, len(failures))
		for i, f := range failures {
			params[i] = InsertImportFailuresParams{
				ImportID: id,
				Line:     int32(f.Line),
				Kind:     string(f.Kind),
				Message:  f.Message,
				RowData:  rowData(f.Row),
			}
		}
		if _, err := q.InsertImportFailures(ctx, params); err != nil {
			return fmt.Errorf("store failures: %w", err)
		}
		return nil
	})
}

func (s *ImportStore) GetFailedRows(ctx context.Context, id uuid.UUID) (core.FailedRowsReport, error) {
	q := New(s.pool)
	rec, err := q.GetImportByID(ctx, pgUUID(id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.FailedRowsReport{}, core.ErrImportNotFound
	}
	if err != nil {
		return core.FailedRowsReport{}, fmt.Errorf("get import: %w", err)
	}

	rows, err := q.ListImportFailures(ctx, pgUUID(id))
	if err != nil {
		return core.FailedRowsReport{}, fmt.Errorf("list failures: %w", err)
	}
	report := core.FailedRowsReport{Header: rec.Header, Failures: make([]core.RowFailure, len(rows))}
	for i, r := range rows {
		report.Failures[i] = core.RowFailure{
			Line:    int(r.Line),
			Kind:    core.ErrorKind(r.Kind),
			Message: r.Message,
			Row:     r.RowData,
		}
	}
	return report, nil
}

func rowData(row []string) []string {
	if row == nil {
		return []string{}
	}
	return row
}
