package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/livetables/internal/adapters/repository"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/internal/domain/types"
)

// TablesDependencies defines the interface for table reads.
type TablesDependencies interface {
	GetEntity(ctx context.Context, id string) (model.Entity, error)
	GetAllEntities(ctx context.Context) []model.Entity
}

// TablesHandler handles table requests.
type TablesHandler struct {
	deps     TablesDependencies
	maxLimit int
}

// NewTablesHandler creates a new tables handler.
func NewTablesHandler(deps TablesDependencies, maxLimit int) *TablesHandler {
	return &TablesHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleList handles GET /tables?limit=N requests.
func (h *TablesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_tables"
	limit, err := h.limit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.TablesFrom(h.deps.GetAllEntities(r.Context()), limit))
}

// HandleGet handles GET /tables/{id}?limit=N requests.
func (h *TablesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_table"
	limit, err := h.limit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrap(op, err))
		return
	}
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", newKind(op, ErrBadRequest))
		return
	}

	e, err := h.deps.GetEntity(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", wrap(op, err))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.TableFrom(e, limit))
}

// limit parses the optional limit query parameter, defaulting to maxLimit.
func (h *TablesHandler) limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.maxLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, wrapKind(ErrBadRequest, errors.New("limit must be a positive integer"))
	}
	if n > h.maxLimit {
		return 0, wrapKind(ErrLimitExceeded, errors.New("limit above "+strconv.Itoa(h.maxLimit)))
	}
	return n, nil
}
