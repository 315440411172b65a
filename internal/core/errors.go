package core

// errors.go defines the row-level error taxonomy of the import pipeline.
//
// Every error raised while importing a single row is one of four kinds:
//
//   - ParseError:      a numeric column could not be decoded
//   - NotFoundError:   a category level (or other reference data) is missing
//   - FetchError:      the product image could not be downloaded or stored
//   - ConstraintError: a uniqueness or required-field rule was violated
//
// All four are row-local. The row importer converts them into a RowFailure
// and the batch carries on with the next row.

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind tags a row failure with the class of error that caused it.
type ErrorKind string

const (
	KindParse      ErrorKind = "parse"
	KindNotFound   ErrorKind = "not_found"
	KindFetch      ErrorKind = "fetch"
	KindConstraint ErrorKind = "constraint"
	KindInternal   ErrorKind = "internal"
)

// Batch-level errors. These abort an import run instead of a single row.
var (
	ErrHeaderNotFound   = errors.New("header not found: no importable columns in first row")
	ErrEmptyFile        = errors.New("empty file")
	ErrImportInProgress = errors.New("import already in progress for this catalog")
	ErrImportNotFound   = errors.New("import not found")
	ErrUnsupportedType  = errors.New("unsupported content type")
	ErrDefaultsMissing  = errors.New("default category missing")
	ErrImportCancelled  = errors.New("import cancelled")
	ErrFileTooLarge     = errors.New("file too large")
	ErrNoFile           = errors.New("no file provided")
)

// ParseError reports a column value that is not a valid number after the
// decimal comma has been translated.
type ParseError struct {
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid number in %s: %q", e.Column, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NotFoundError reports reference data that does not exist in the catalog.
type NotFoundError struct {
	What  string // e.g. "category level 3"
	Name  string
	Cause string // optional detail, e.g. "ambiguous: 2 matches"
}

func (e *NotFoundError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s %q not found (%s)", e.What, e.Name, e.Cause)
	}
	return fmt.Sprintf("%s %q not found", e.What, e.Name)
}

// FetchError reports a failed image download.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch image %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ConstraintError reports a violated uniqueness or required-field rule.
type ConstraintError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConstraintError) Error() string {
	if e.Field == "" {
		return "constraint violation: " + e.Reason
	}
	return fmt.Sprintf("constraint violation on %s: %s", e.Field, e.Reason)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Classify maps an error returned from any row step onto its ErrorKind.
// PostgreSQL integrity violations (SQLSTATE class 23) count as constraint
// errors even when the store did not wrap them.
func Classify(err error) ErrorKind {
	var (
		parseErr      *ParseError
		notFoundErr   *NotFoundError
		fetchErr      *FetchError
		constraintErr *ConstraintError
		pgErr         *pgconn.PgError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &notFoundErr):
		return KindNotFound
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.As(err, &constraintErr):
		return KindConstraint
	case errors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == "23":
		return KindConstraint
	default:
		return KindInternal
	}
}

// isCancellation reports whether err stems from the run's context being
// cancelled or timing out. Those abort the batch rather than failing a row.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
