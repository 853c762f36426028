package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/skeletrain/internal/store"
)

// RecordingsHandler lists the recordings logged for a pose.
type RecordingsHandler struct {
	store *store.Store
}

// NewRecordingsHandler creates a new RecordingsHandler with the given store.
func NewRecordingsHandler(s *store.Store) *RecordingsHandler {
	return &RecordingsHandler{store: s}
}

// ServeHTTP implements the http.Handler interface.
// Expected paths: /api/poses/{id}/recordings
func (h *RecordingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/poses/")
	parts := strings.Split(path, "/")

	if len(parts) != 2 || parts[1] != "recordings" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.list(w, r, parts[0])
}

type listRecordingsResponse struct {
	Recordings []store.Recording `json:"recordings"`
}

// list handles GET /api/poses/{id}/recordings
func (h *RecordingsHandler) list(w http.ResponseWriter, r *http.Request, poseID string) {
	if _, err := h.store.Poses().GetByID(poseID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Pose not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to verify pose")
		return
	}

	recs, err := h.store.Recordings().ListByPose(poseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list recordings")
		return
	}
	if recs == nil {
		recs = []store.Recording{}
	}

	writeJSON(w, http.StatusOK, listRecordingsResponse{Recordings: recs})
}
