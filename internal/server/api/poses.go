// Package api provides HTTP API handlers for the pose catalogue and the
// recording session.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/skeletrain/internal/dataset"
	"github.com/ayusman/skeletrain/internal/store"
)

// PoseHandler handles HTTP requests for pose resources.
type PoseHandler struct {
	store *store.Store
}

// NewPoseHandler creates a new PoseHandler with the given store.
func NewPoseHandler(s *store.Store) *PoseHandler {
	return &PoseHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *PoseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/poses or /api/poses/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/poses")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request and response types

type poseRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type poseResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Samples     int    `json:"samples"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type listPosesResponse struct {
	Poses []poseResponse `json:"poses"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

// toResponse converts a store.Pose to a poseResponse.
func toResponse(p *store.Pose) poseResponse {
	return poseResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Samples:     p.Samples,
		CreatedAt:   p.CreatedAt.Format(timeFormat),
		UpdatedAt:   p.UpdatedAt.Format(timeFormat),
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/poses and returns all poses.
func (h *PoseHandler) list(w http.ResponseWriter, r *http.Request) {
	poses, err := h.store.Poses().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list poses")
		return
	}

	response := listPosesResponse{
		Poses: make([]poseResponse, 0, len(poses)),
	}
	for _, p := range poses {
		response.Poses = append(response.Poses, toResponse(p))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/poses/{id} and returns a single pose.
func (h *PoseHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	pose, err := h.store.Poses().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Pose not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get pose")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(pose))
}

// create handles POST /api/poses and creates a new pose.
func (h *PoseHandler) create(w http.ResponseWriter, r *http.Request) {
	var req poseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	// Pose names are written verbatim as dataset labels.
	if err := dataset.ValidateLabel(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, "Name must be non-empty and contain no commas or line breaks")
		return
	}

	pose := &store.Pose{
		Name:        req.Name,
		Description: req.Description,
	}

	if err := h.store.Poses().Create(pose); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "Pose already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create pose")
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(pose))
}

// update handles PUT /api/poses/{id} and updates an existing pose.
func (h *PoseHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	pose, err := h.store.Poses().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Pose not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get pose")
		return
	}

	var req poseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name != "" {
		if err := dataset.ValidateLabel(req.Name); err != nil {
			writeError(w, http.StatusBadRequest, "Name must contain no commas or line breaks")
			return
		}
		pose.Name = req.Name
	}
	if req.Description != "" {
		pose.Description = req.Description
	}

	if err := h.store.Poses().Update(pose); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "Pose already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update pose")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(pose))
}

// delete handles DELETE /api/poses/{id} and removes a pose.
func (h *PoseHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	err := h.store.Poses().Delete(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Pose not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete pose")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
