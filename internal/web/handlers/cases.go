package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/findwatch/findwatch/internal/crops"
	"github.com/findwatch/findwatch/internal/detect"
	"github.com/findwatch/findwatch/internal/imaging"
	"github.com/findwatch/findwatch/internal/store"
)

// CasesHandler manages missing-person cases and their reference photos.
type CasesHandler struct {
	cases       store.CaseStore
	crops       *crops.Store
	detector    detect.Detector
	minCropSize int
	log         *zap.Logger
}

// NewCasesHandler creates a new cases handler.
func NewCasesHandler(
	cases store.CaseStore,
	cropStore *crops.Store,
	detector detect.Detector,
	minCropSize int,
	log *zap.Logger,
) *CasesHandler {
	return &CasesHandler{
		cases:       cases,
		crops:       cropStore,
		detector:    detector,
		minCropSize: minCropSize,
		log:         log,
	}
}

type createCaseRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Create opens a new case.
func (h *CasesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := &store.Case{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Status:      store.CaseStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.cases.CreateCase(r.Context(), c); err != nil {
		h.log.Error("failed to create case", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create case")
		return
	}

	h.log.Info("case opened", zap.String("case_id", c.ID), zap.String("name", sanitizeForLog(c.Name)))
	respondJSON(w, http.StatusCreated, c)
}

// List returns cases, optionally filtered by ?status=open|closed.
func (h *CasesHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != store.CaseStatusOpen && status != store.CaseStatusClosed {
		respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	cases, err := h.cases.ListCases(r.Context(), status)
	if err != nil {
		h.log.Error("failed to list cases", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list cases")
		return
	}
	if cases == nil {
		cases = []*store.Case{}
	}
	respondJSON(w, http.StatusOK, cases)
}

// Get returns a single case.
func (h *CasesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.cases.GetCase(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		h.log.Error("failed to load case", zap.String("case_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Close closes a case and drops its stored crops. Idempotent.
func (h *CasesHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.cases.CloseCase(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "case not found")
			return
		}
		h.log.Error("failed to close case", zap.String("case_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to close case")
		return
	}

	if err := h.crops.DeleteCase(id); err != nil {
		h.log.Error("failed to delete case crops", zap.String("case_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete case crops")
		return
	}

	h.log.Info("case closed", zap.String("case_id", sanitizeForLog(id)))
	c, err := h.cases.GetCase(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// RegisterPhoto accepts a reference photo for an open case, detects the
// largest face in it, and stores that crop as matching material.
func (h *CasesHandler) RegisterPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.cases.GetCase(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		h.log.Error("failed to load case", zap.String("case_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	if c.Status != store.CaseStatusOpen {
		respondError(w, http.StatusConflict, "case is closed")
		return
	}

	if err := r.ParseMultipartForm(maxFrameUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, _, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo file is required")
		return
	}
	defer file.Close()

	img, err := imaging.Decode(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo is not a decodable image")
		return
	}

	boxes, err := h.detector.Detect(img)
	if err != nil {
		h.log.Error("reference face detection failed", zap.String("case_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "face detection failed")
		return
	}
	if len(boxes) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "no face found in photo")
		return
	}

	// Boxes are sorted largest first; the largest face is the subject.
	crop, ok := imaging.ExtractCrop(img, boxes[0], h.minCropSize)
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "detected face is too small")
		return
	}

	cropID, err := h.crops.SaveReference(id, crop)
	if err != nil {
		h.log.Error("failed to save reference crop", zap.String("case_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to save reference crop")
		return
	}

	h.log.Info("reference registered",
		zap.String("case_id", id),
		zap.String("crop_id", cropID),
		zap.Int("faces_in_photo", len(boxes)))
	respondJSON(w, http.StatusCreated, map[string]any{
		"case_id":    id,
		"crop_id":    cropID,
		"face_count": len(boxes),
	})
}
