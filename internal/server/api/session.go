package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/skeletrain/internal/app"
	"github.com/ayusman/skeletrain/internal/calibration"
	"github.com/ayusman/skeletrain/internal/dataset"
	"github.com/ayusman/skeletrain/internal/skeleton"
)

// Session is the running recording session.
type Session interface {
	Snapshot() app.Snapshot
	Label() string
	SetLabel(label string) error
	RecordSample(user int, label string) (*app.Sample, error)
	Recalibrate(user int) error
}

// SessionHandler serves the live user list, the active label and sample recording.
type SessionHandler struct {
	session Session
}

// NewSessionHandler creates a new SessionHandler for the given session.
func NewSessionHandler(s Session) *SessionHandler {
	return &SessionHandler{session: s}
}

// ServeHTTP routes /api/users, /api/users/{id}/recalibrate, /api/label and /api/record.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/users":
		h.users(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/users/"):
		h.recalibrate(w, r)
	case r.URL.Path == "/api/label":
		h.label(w, r)
	case r.URL.Path == "/api/record":
		h.record(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// users handles GET /api/users
func (h *SessionHandler) users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// recalibrate handles POST /api/users/{id}/recalibrate
func (h *SessionHandler) recalibrate(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	if len(parts) != 2 || parts[1] != "recalibrate" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.Atoi(parts[0])
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	if err := h.session.Recalibrate(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

type labelRequest struct {
	Label string `json:"label"`
}

// label handles GET and PUT /api/label
func (h *SessionHandler) label(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, labelRequest{Label: h.session.Label()})
	case http.MethodPut:
		var req labelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if err := h.session.SetLabel(req.Label); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, labelRequest{Label: req.Label})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type recordRequest struct {
	User  int    `json:"user"`
	Label string `json:"label"`
}

// record handles POST /api/record. An empty body records the first tracked
// user under the active label.
func (h *SessionHandler) record(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req recordRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	sample, err := h.session.RecordSample(req.User, req.Label)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}

// statusFor maps session errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dataset.ErrInvalidLabel):
		return http.StatusBadRequest
	case errors.Is(err, calibration.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, app.ErrNoTrackedUser),
		errors.Is(err, calibration.ErrWrongPhase),
		errors.Is(err, skeleton.ErrDegenerate):
		return http.StatusConflict
	default:
		var lowConf *skeleton.LowConfidenceError
		if errors.As(err, &lowConf) {
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	}
}
