package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

const (
	// multipartMemory is the part of a multipart body kept in memory; the
	// rest is spooled to temporary files by net/http.
	multipartMemory = 8 << 20

	// multipartOverhead allows for boundaries and form fields on top of
	// the file itself.
	multipartOverhead = 1 << 20
)

// importID parses the {importID} URL parameter. A malformed id is reported
// as not found.
func importID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "importID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", core.ErrImportNotFound, raw)
	}
	return id, nil
}

// handleCreateImport stores an uploaded catalog file and starts the import.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.service.MaxFileSize()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, r, fmt.Errorf("%w: %w", core.ErrFileTooLarge, err), 0)
			return
		}
		respondError(w, r, fmt.Errorf("parse form: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, core.ErrNoFile, 0)
		return
	}
	defer file.Close()

	if header.Size == 0 {
		respondError(w, r, core.ErrEmptyFile, 0)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "text/csv"
	}

	ctx := withRequestMetadata(r.Context(), r)
	rec, err := s.service.CreateImport(ctx, header.Filename, contentType, file, header.Size)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"import_id": rec.ID.String(),
		"status":    rec.Status,
	})
}

// handleListImports returns recent import records, newest first.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := s.service.ListImports(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if recs == nil {
		recs = []core.ImportRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": recs})
}

// handleGetImport returns an import record with live progress.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	view, err := s.service.GetImport(r.Context(), id)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleRunImport re-runs an existing import from its stored file.
func (s *Server) handleRunImport(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	if err := s.service.StartImport(withRequestMetadata(r.Context(), r), id); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"import_id": id.String(),
		"status":    core.StatusRunning,
	})
}

// handleCancelImport cancels a running import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	if err := s.service.CancelImport(id); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleImportProgress streams progress as Server-Sent Events. The event id
// is the processed row count; a reconnecting client sending Last-Event-ID
// skips updates it has already seen. A final "complete" event carries the
// persisted record.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	ch, unsubscribe, err := s.service.SubscribeProgress(id)
	if errors.Is(err, core.ErrImportNotFound) {
		// Not tracked in memory any more; the record may still exist.
		view, gerr := s.service.GetImport(r.Context(), id)
		if gerr != nil {
			respondError(w, r, gerr, 0)
			return
		}
		startStream(w)
		writeEvent(w, "complete", "", view)
		flusher.Flush()
		return
	}
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer unsubscribe()

	lastEventID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			lastEventID = n
		}
	}

	startStream(w)
	flusher.Flush()

	for {
		select {
		case p, ok := <-ch:
			if !ok {
				s.writeFinal(w, r.Context(), id)
				flusher.Flush()
				return
			}
			if p.Phase == core.PhaseImporting && p.Processed <= lastEventID {
				continue
			}
			writeEvent(w, "progress", strconv.Itoa(p.Processed), p)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeFinal(w http.ResponseWriter, ctx context.Context, id uuid.UUID) {
	// FinishImport runs before the channel closes, so the record is final.
	view, err := s.service.GetImport(ctx, id)
	if err != nil {
		writeEvent(w, "complete", "", map[string]string{"import_id": id.String()})
		return
	}
	writeEvent(w, "complete", "", view)
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, event, id string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("{}")
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// handleHealth reports liveness and, when a pinger is configured, database
// reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.LimiterStatus()
	body := map[string]any{"status": "ok", "imports_active": status.Active}

	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			body["status"] = "unavailable"
			body["error"] = core.MapError(err).Message
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}
