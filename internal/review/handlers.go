package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/zombor/beleg-scanner/internal/scanning"
)

// maxUploadSize bounds a whole multipart batch upload
const maxUploadSize = int64(200 << 20) // 200MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes a JSON error body with the given status
func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// errorStatus maps service errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrBatchNotFound), errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidEdit), errors.Is(err, ErrNoDocuments):
		return http.StatusBadRequest
	case errors.Is(err, ErrBatchRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateBatch reads every uploaded file and starts a batch
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "Upload is too large. Maximum size is 200MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	headers = append(headers, r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		jsonError(w, "No files were selected. Please choose at least one receipt.", http.StatusBadRequest)
		return
	}

	docs := make([]*scanning.Document, 0, len(headers))
	for _, header := range headers {
		if !scanning.Supported(header.Filename) {
			slog.Warn("Unsupported file type, it will be flagged", "filename", header.Filename)
		}
		doc, err := readDocument(header)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			jsonError(w, fmt.Sprintf("Error reading %s. Please try again.", header.Filename), http.StatusInternalServerError)
			return
		}
		docs = append(docs, doc)
	}

	batch, err := s.service.StartBatch(docs)
	if err != nil {
		slog.Error("Error starting batch", "error", err)
		jsonError(w, err.Error(), errorStatus(err))
		return
	}

	writeJSON(w, http.StatusAccepted, batch)
}

func readDocument(header *multipart.FileHeader) (*scanning.Document, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &scanning.Document{
		Name:        header.Filename,
		Data:        data,
		ContentType: scanning.ContentTypeFor(header.Filename, header.Header.Get("Content-Type")),
	}, nil
}

// handleGetBatch returns a batch with its progress and records
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.service.GetBatch(r.PathValue("id"))
	if err != nil {
		jsonError(w, "Batch not found", errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// handleDeleteBatch cancels and discards a batch
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBatch(r.PathValue("id")); err != nil {
		jsonError(w, "Error deleting batch", errorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateRecord applies a review edit to one record
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		jsonError(w, "Record index must be a number", http.StatusBadRequest)
		return
	}

	var edit RecordEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	record, err := s.service.UpdateRecord(r.PathValue("id"), index, edit)
	if err != nil {
		slog.Error("Error updating record", "batch", r.PathValue("id"), "index", index, "error", err)
		jsonError(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	s.handleExport(w, r, FormatCSV, "text/csv; charset=utf-8")
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	s.handleExport(w, r, FormatXLSX, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
}

// handleExport buffers the export so errors can still be reported as JSON
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, format Format, contentType string) {
	id := r.PathValue("id")
	var buf bytes.Buffer
	if err := s.service.Export(id, format, &buf); err != nil {
		slog.Error("Error exporting batch", "batch", id, "format", format, "error", err)
		jsonError(w, err.Error(), errorStatus(err))
		return
	}

	w.Header().Set("Content-Type", contentType)
	filename := fmt.Sprintf("belege_%s.%s", s.service.timeSource.Now().Format("2006-01-02"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Write(buf.Bytes())
}
