package api

import (
	"net/http"

	service "github.com/okian/livetables/internal/app"
	"github.com/okian/livetables/internal/domain/types"
)

// RefreshHandler handles forced refresh requests.
type RefreshHandler struct {
	deps RefreshDependencies
}

// NewRefreshHandler creates a new refresh handler.
func NewRefreshHandler(deps RefreshDependencies) *RefreshHandler {
	return &RefreshHandler{deps: deps}
}

// HandleRefresh handles POST /refresh requests.
//
// 200 when a fetch ran or was joined, 429 when rate limited, 409 when the
// service cannot poll right now, 502 when the fetch failed.
func (h *RefreshHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	res := h.deps.ForceRefresh(r.Context())
	body := types.RefreshResponse{Ran: res.Ran, Reason: res.Reason, Changed: res.Changed}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}

	status := http.StatusOK
	switch res.Reason {
	case service.ReasonRateLimited:
		status = http.StatusTooManyRequests
	case service.ReasonStopped, service.ReasonInactive, service.ReasonNoPoller:
		status = http.StatusConflict
	case service.ReasonFailed:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, body)
}
