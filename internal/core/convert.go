package core

// convert.go provides the value conversions between catalog file cells,
// domain values and PostgreSQL types.
//
// Supplier files use the decimal comma ("12,50"). Numbers are parsed with
// shopspring/decimal so prices never pass through float64.
//
// The ToPg* helpers return pgtype values with Valid=false for unset input,
// leaving NULL handling to the database.

import (
	"database/sql"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// ParseDecimal parses a catalog number. The decimal comma is replaced with a
// point before parsing. An empty or blank cell yields an unset value and no
// error.
func ParseDecimal(column, s string) (decimal.NullDecimal, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return decimal.NullDecimal{}, nil
	}

	v = strings.ReplaceAll(v, ",", ".")
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}, &ParseError{Column: column, Value: s, Err: err}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// NullString wraps s as a set value, or unset when s is blank.
func NullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ToPgText converts an optional string to pgtype.Text.
func ToPgText(s sql.NullString) pgtype.Text {
	return pgtype.Text{String: s.String, Valid: s.Valid}
}

// ToPgNumeric converts an optional decimal to pgtype.Numeric without a
// round trip through float64.
func ToPgNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{Valid: false}
	}
	return pgtype.Numeric{
		Int:   d.Decimal.Coefficient(),
		Exp:   d.Decimal.Exponent(),
		Valid: true,
	}
}

// FromPgNumeric converts a pgtype.Numeric back to an optional decimal.
func FromPgNumeric(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.Int == nil || n.NaN {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromBigInt(n.Int, n.Exp), Valid: true}
}

// ToPgTimestamptz converts a time to pgtype.Timestamptz. The zero time is
// treated as unset.
func ToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// ToPgInt8 converts an id to pgtype.Int8. Zero is treated as unset.
func ToPgInt8(id int64) pgtype.Int8 {
	if id == 0 {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: id, Valid: true}
}
