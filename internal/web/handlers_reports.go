package web

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleFailedRows downloads the failed rows of the last run, either in the
// catalog file dialect (format=csv, the default) or as a workbook
// (format=xlsx).
func (s *Server) handleFailedRows(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		respondError(w, r, fmt.Errorf("unknown report format %q", format), http.StatusBadRequest)
		return
	}

	view, err := s.service.GetImport(r.Context(), id)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	report, err := s.service.GetFailedRows(r.Context(), id)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	// Render into memory first so a writer error can still become a JSON
	// error response.
	var buf bytes.Buffer
	var contentType string
	switch format {
	case "xlsx":
		err = core.WriteFailedXLSX(&buf, report.Header, report.Failures)
		contentType = xlsxContentType
	default:
		err = core.WriteFailedCSV(&buf, report.Header, report.Failures)
		contentType = "text/csv; charset=iso-8859-1"
	}
	if err != nil {
		respondError(w, r, fmt.Errorf("render failed rows: %w", err), http.StatusInternalServerError)
		return
	}

	name := core.FailedReportName(view.FileName, "."+format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Failed-Rows", strconv.Itoa(len(report.Failures)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
