package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/pipeline"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/store"
)

// Client-facing error messages. Causes are logged, never returned.
const (
	msgTooLarge       = "Input text exceeds the maximum allowed size of 5000 bytes"
	msgDetectFailed   = "An error occurred while detecting PII entities"
	msgInvalidBody    = "Invalid request body"
	msgFetchFailed    = "Could not fetch notes"
	msgNoteNotFound   = "Note not found"
	maxRequestBodyLen = 1 << 20
)

type detectRequest struct {
	Text *string `json:"text"`
}

// noteResponse is the success payload of /detect; the stored record adds the id
type noteResponse struct {
	OriginalContent     string    `json:"originalContent"`
	DetectedPiiEntities []string  `json:"detectedPiiEntities"`
	RedactedContent     string    `json:"redactedContent"`
	MessageLength       int       `json:"messageLength"`
	CreationDate        time.Time `json:"creationDate"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleDetect redacts one note and returns it once it is persisted
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	log := s.logger.FromContext(r.Context())

	var req detectRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyLen)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, msgTooLarge)
			return
		}
		log.Debug("Rejected malformed request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	ctx := r.Context()
	if timeout := s.config.Server.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	record, err := s.pipeline.Process(ctx, *req.Text)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, noteResponse{
		OriginalContent:     record.OriginalContent,
		DetectedPiiEntities: record.DetectedDescriptions,
		RedactedContent:     record.RedactedContent,
		MessageLength:       record.MessageLength,
		CreationDate:        record.CreationDate,
	})
}

// writePipelineError maps pipeline failures to their client responses
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var verr *pipeline.ValidationError
	var derr *pipeline.DetectionError
	var perr *pipeline.PersistenceError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, msgTooLarge)
	case errors.As(err, &derr), errors.As(err, &perr):
		writeError(w, http.StatusInternalServerError, msgDetectFailed)
	default:
		s.logger.Error("Unexpected pipeline error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgDetectFailed)
	}
}

// handleListNotes returns every stored record, newest first
func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	records, err := s.store.List(r.Context())
	s.observeStore(metrics.OpList, start)
	if err != nil {
		s.logger.FromContext(r.Context()).Error("Failed to list notes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgFetchFailed)
		return
	}

	if records == nil {
		records = []store.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetNote returns one stored record
func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	start := time.Now()
	record, err := s.store.Get(r.Context(), id)
	s.observeStore(metrics.OpGet, start)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNoteNotFound)
	case err != nil:
		s.logger.FromContext(r.Context()).Error("Failed to get note", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgFetchFailed)
	default:
		writeJSON(w, http.StatusOK, record)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":             "pii-redactor",
		"version":          Version,
		"uptime":           time.Since(s.started).Round(time.Second).String(),
		"detector_backend": s.config.Detector.Backend,
		"language_code":    s.config.Detector.LanguageCode,
		"storage_driver":   s.config.Storage.Driver,
		"max_text_bytes":   privacy.MaxTextBytes,
	}
	if s.wsHub != nil {
		info["websocket"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) observeStore(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveStore(op, time.Since(start))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, so an encode error cannot be reported
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
