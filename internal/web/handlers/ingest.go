package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/findwatch/findwatch/internal/imaging"
	"github.com/findwatch/findwatch/internal/pipeline"
	"github.com/findwatch/findwatch/internal/store"
)

// maxFrameUploadSize bounds a single frame upload (16 MiB).
const maxFrameUploadSize = 16 << 20

// IngestHandler handles frame ingestion and the readiness gate.
type IngestHandler struct {
	pipeline *pipeline.Pipeline
	frames   store.FrameStore
	log      *zap.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(p *pipeline.Pipeline, frames store.FrameStore, log *zap.Logger) *IngestHandler {
	return &IngestHandler{pipeline: p, frames: frames, log: log}
}

// Ready reports whether the service will accept a frame right now. The edge
// device polls this before capturing; 503 tells it to back off.
func (h *IngestHandler) Ready(w http.ResponseWriter, r *http.Request) {
	readiness, err := h.pipeline.Ready(r.Context())
	if err != nil {
		h.log.Error("readiness check failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "readiness check failed")
		return
	}

	status := http.StatusOK
	if !readiness.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, readiness)
}

// Upload accepts a multipart frame upload and queues it for processing.
// Returns 202 with the frame record; processing status is polled separately.
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFrameUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, _, err := r.FormFile("frame")
	if err != nil {
		respondError(w, http.StatusBadRequest, "frame file is required")
		return
	}
	defer file.Close()

	source := r.FormValue("source")

	frame, err := h.pipeline.Submit(r.Context(), source, file)
	switch {
	case errors.Is(err, imaging.ErrDecode):
		respondError(w, http.StatusBadRequest, "frame is not a decodable image")
		return
	case errors.Is(err, pipeline.ErrBusy):
		respondError(w, http.StatusServiceUnavailable, "processing queue full")
		return
	case err != nil:
		h.log.Error("frame submit failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to accept frame")
		return
	}

	respondJSON(w, http.StatusAccepted, frame)
}

// GetFrame returns the processing status of a frame.
func (h *IngestHandler) GetFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	frame, err := h.frames.GetFrame(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "frame not found")
		return
	}
	if err != nil {
		h.log.Error("failed to load frame", zap.String("frame_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load frame")
		return
	}

	respondJSON(w, http.StatusOK, frame)
}
