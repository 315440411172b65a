package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const importColumns = `
id, file_key, file_name, content_type, file_size, status,
total_rows, imported, failed, removed, error, COALESCE(header, '{}'),
created_at, started_at, finished_at
`

type ProductImport struct {
	ID          pgtype.UUID
	FileKey     string
	FileName    string
	ContentType string
	FileSize    int64
	Status      string
	TotalRows   int32
	Imported    int32
	Failed      int32
	Removed     int64
	Error       pgtype.Text
	Header      []string
	CreatedAt   time.Time
	StartedAt   pgtype.Timestamptz
	FinishedAt  pgtype.Timestamptz
}

func scanImport(row pgx.Row) (ProductImport, error) {
	var i ProductImport
	err := row.Scan(
		&i.ID,
		&i.FileKey,
		&i.FileName,
		&i.ContentType,
		&i.FileSize,
		&i.Status,
		&i.TotalRows,
		&i.Imported,
		&i.Failed,
		&i.Removed,
		&i.Error,
		&i.Header,
		&i.CreatedAt,
		&i.StartedAt,
		&i.FinishedAt,
	)
	return i, err
}

const insertImport = `
INSERT INTO product_imports (id, file_key, file_name, content_type, file_size, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

type InsertImportParams struct {
	ID          pgtype.UUID
	FileKey     string
	FileName    string
	ContentType string
	FileSize    int64
	Status      string
	CreatedAt   time.Time
}

func (q *Queries) InsertImport(ctx context.Context, arg InsertImportParams) error {
	_, err := q.db.Exec(ctx, insertImport,
		arg.ID,
		arg.FileKey,
		arg.FileName,
		arg.ContentType,
		arg.FileSize,
		arg.Status,
		arg.CreatedAt,
	)
	return err
}

const getImportByID = `SELECT ` + importColumns + ` FROM product_imports WHERE id = $1`

func (q *Queries) GetImportByID(ctx context.Context, id pgtype.UUID) (ProductImport, error) {
	return scanImport(q.db.QueryRow(ctx, getImportByID, id))
}

const listImports = `SELECT ` + importColumns + ` FROM product_imports ORDER BY created_at DESC LIMIT $1`

func (q *Queries) ListImports(ctx context.Context, limit int32) ([]ProductImport, error) {
	rows, err := q.db.Query(ctx, listImports, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProductImport
	for rows.Next() {
		i, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const markImportRunning = `
UPDATE product_imports
SET status = 'running', started_at = $2, finished_at = NULL, error = NULL
WHERE id = $1
`

func (q *Queries) MarkImportRunning(ctx context.Context, id pgtype.UUID, startedAt time.Time) (int64, error) {
	result, err := q.db.Exec(ctx, markImportRunning, id, startedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const finishImport = `
UPDATE product_imports
SET status = $2, total_rows = $3, imported = $4, failed = $5, removed = $6,
    error = $7, header = $8, started_at = COALESCE($9, started_at), finished_at = $10
WHERE id = $1
`

type FinishImportParams struct {
	ID         pgtype.UUID
	Status     string
	TotalRows  int32
	Imported   int32
	Failed     int32
	Removed    int64
	Error      pgtype.Text
	Header     []string
	StartedAt  pgtype.Timestamptz
	FinishedAt pgtype.Timestamptz
}

func (q *Queries) FinishImport(ctx context.Context, arg FinishImportParams) (int64, error) {
	result, err := q.db.Exec(ctx, finishImport,
		arg.ID,
		arg.Status,
		arg.TotalRows,
		arg.Imported,
		arg.Failed,
		arg.Removed,
		arg.Error,
		arg.Header,
		arg.StartedAt,
		arg.FinishedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteImportFailures = `DELETE FROM product_import_failures WHERE import_id = $1`

func (q *Queries) DeleteImportFailures(ctx context.Context, importID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, deleteImportFailures, importID)
	return err
}

type InsertImportFailuresParams struct {
	ImportID pgtype.UUID
	Line     int32
	Kind     string
	Message  string
	RowData  []string
}

// InsertImportFailures bulk loads failures with COPY.
func (q *Queries) InsertImportFailures(ctx context.Context, arg []InsertImportFailuresParams) (int64, error) {
	return q.db.CopyFrom(ctx,
		pgx.Identifier{"product_import_failures"},
		[]string{"import_id", "line", "kind", "message", "row_data"},
		pgx.CopyFromSlice(len(arg), func(i int) ([]any, error) {
			return []any{arg[i].ImportID, arg[i].Line, arg[i].Kind, arg[i].Message, arg[i].RowData}, nil
		}),
	)
}

const listImportFailures = `
SELECT line, kind, message, row_data
FROM product_import_failures
WHERE import_id = $1
ORDER BY line
`

type ImportFailureRow struct {
	Line    int32
	Kind    string
	Message string
	RowData []string
}

func (q *Queries) ListImportFailures(ctx context.Context, importID pgtype.UUID) ([]ImportFailureRow, error) {
	rows, err := q.db.Query(ctx, listImportFailures, importID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ImportFailureRow
	for rows.Next() {
		var i ImportFailureRow
		if err := rows.Scan(&i.Line, &i.Kind, &i.Message, &i.RowData); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
