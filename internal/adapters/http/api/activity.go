package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/livetables/internal/domain/types"
)

// ActivityDependencies defines the interface for the consumer activity signal.
type ActivityDependencies interface {
	SetActive(ctx context.Context, active bool) error
	Active() bool
}

// ActivityHandler handles activity signals.
type ActivityHandler struct {
	deps ActivityDependencies
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(deps ActivityDependencies) *ActivityHandler {
	return &ActivityHandler{deps: deps}
}

// HandleActivity handles POST /activity?active=true|false requests.
func (h *ActivityHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_activity"
	active, err := strconv.ParseBool(r.URL.Query().Get("active"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request",
			wrap(op, wrapKind(ErrBadRequest, errors.New("active must be true or false"))))
		return
	}
	if err := h.deps.SetActive(r.Context(), active); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.ActivityResponse{Active: h.deps.Active()})
}
