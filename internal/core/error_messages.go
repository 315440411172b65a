package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference.
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Invalid number in a price or weight column
//	IMP002 - Category path or other reference data not found
//	IMP003 - Product image could not be downloaded
//	IMP004 - Required product value missing or duplicated
//	IMP005 - Unexpected row error
//	IMP010 - No importable columns in header
//	IMP011 - Default tax or shipping category missing
//	IMP012 - Another import is running for this catalog
//	IMP013 - Import not found
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Connection refused
//	DB002 - Connection reset
//	DB003 - Timeout
//	DB004 - Deadlock
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Not a CSV file
//	FILE003 - No file provided
//	FILE004 - Empty file
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Import cancelled
//	UPL002 - Request cancelled
//	UPL003 - Request timeout
//
// # Rate Limiting (RATE001)
//
// # Default Error (ERR000)
//
// Typed errors are matched first (errors.Is / errors.As). Everything else
// falls back to case-insensitive substring patterns; the first match wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// kindMessages are the messages for row-level error kinds.
var kindMessages = map[ErrorKind]UserMessage{
	KindParse: {
		Message: "Invalid number in a price or weight column",
		Action:  "Use digits with a decimal comma, e.g. 12,50",
		Code:    "IMP001",
	},
	KindNotFound: {
		Message: "Category not found",
		Action:  "Check Kategori1-Kategori4 against the category tree",
		Code:    "IMP002",
	},
	KindFetch: {
		Message: "Product image could not be downloaded",
		Action:  "Check that the Billede URL points to a JPEG, PNG, GIF or WebP image",
		Code:    "IMP003",
	},
	KindConstraint: {
		Message: "Required product value missing or duplicated",
		Action:  "Ensure DisplayName and Bruttopris are filled in",
		Code:    "IMP004",
	},
	KindInternal: {
		Message: "The row could not be imported",
		Action:  "Re-submit the failed rows or contact support",
		Code:    "IMP005",
	},
}

// sentinelMessages are the messages for batch-level sentinel errors.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrHeaderNotFound, UserMessage{
		Message: "No importable columns found in the first row",
		Action:  "Check that the file is ';' separated and has the catalog header",
		Code:    "IMP010",
	}},
	{ErrDefaultsMissing, UserMessage{
		Message: "Default tax or shipping category is missing",
		Action:  "Create the configured categories before importing",
		Code:    "IMP011",
	}},
	{ErrImportInProgress, UserMessage{
		Message: "Another import is running for this catalog",
		Action:  "Wait for it to finish and try again",
		Code:    "IMP012",
	}},
	{ErrImportNotFound, UserMessage{
		Message: "Import not found",
		Action:  "Check the import id",
		Code:    "IMP013",
	}},
	{ErrEmptyFile, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a catalog file with a header and data rows",
		Code:    "FILE004",
	}},
	{ErrUnsupportedType, UserMessage{
		Message: "File is not a CSV file",
		Action:  "Upload a text/csv file",
		Code:    "FILE002",
	}},
	{ErrImportCancelled, UserMessage{
		Message: "Import was cancelled",
		Action:  "Start the import again when ready",
		Code:    "UPL001",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or raise IMPORT_TIMEOUT",
			Code:    "UPL003",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a catalog file to upload",
			Code:    "FILE003",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}
	if kind := Classify(err); kind != KindInternal {
		return kindMessages[kind]
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// MapFailure returns the user message for a rejected row.
func MapFailure(f RowFailure) UserMessage {
	if msg, ok := kindMessages[f.Kind]; ok {
		return msg
	}
	return kindMessages[KindInternal]
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
