package allocations

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/harborline/harborline/internal/platform/httpx"
	"github.com/harborline/harborline/internal/shared"
)

// Handler wires HTTP endpoints for agent allocations.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	validate       *validator.Validate
	exposeInternal bool
}

// NewHandler constructs the allocations handler.
func NewHandler(logger *slog.Logger, service *Service, exposeInternal bool) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		validate:       validator.New(),
		exposeInternal: exposeInternal,
	}
}

// MountRoutes registers allocation routes under /trips/{tripID}.
func (h *Handler) MountRoutes(r chi.Router) {
	base := "/trips/{tripID}/availabilities/{availabilityID}/agent-allocations"
	r.Post(base, h.Create)
	r.Get(base, h.List)
	r.Get(base+"/{allocationID}", h.Show)
	r.Put(base+"/{allocationID}", h.Update)
	r.Delete(base+"/{allocationID}", h.Delete)
	r.Get("/trips/{tripID}/agent-allocations", h.AgentTotals)
}

type requestScope struct {
	companyID      int64
	tripID         int64
	availabilityID int64
	allocationID   int64
	actor          shared.Actor
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request, withAvailability, withAllocation bool) (requestScope, bool) {
	var scope requestScope
	companyID, ok := shared.CompanyIDFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "company scope missing")
		return scope, false
	}
	scope.companyID = companyID
	scope.actor, _ = shared.ActorFromContext(r.Context())

	tripID, err := strconv.ParseInt(chi.URLParam(r, "tripID"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid trip id")
		return scope, false
	}
	scope.tripID = tripID

	if withAvailability {
		availabilityID, err := strconv.ParseInt(chi.URLParam(r, "availabilityID"), 10, 64)
		if err != nil {
			httpx.Fail(w, http.StatusBadRequest, "invalid availability id")
			return scope, false
		}
		scope.availabilityID = availabilityID
	}
	if withAllocation {
		allocationID, err := strconv.ParseInt(chi.URLParam(r, "allocationID"), 10, 64)
		if err != nil {
			httpx.Fail(w, http.StatusBadRequest, "invalid allocation id")
			return scope, false
		}
		scope.allocationID = allocationID
	}
	return scope, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, true, false)
	if !ok {
		return
	}
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	result, err := h.service.Create(r.Context(), scope.companyID, scope.tripID, scope.availabilityID, req, scope.actor)
	if err != nil {
		h.logger.Error("create allocation failed", slog.Int64("availability", scope.availabilityID), slog.Any("error", err))
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusCreated, "agent allocation created", result)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, true, true)
	if !ok {
		return
	}
	alloc, err := h.service.Get(r.Context(), scope.availabilityID, scope.allocationID)
	if err != nil {
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "", alloc)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, true, false)
	if !ok {
		return
	}
	req := ListRequest{Page: 1, Limit: 20}
	if v := r.URL.Query().Get("page"); v != "" {
		req.Page, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		req.Limit, _ = strconv.Atoi(v)
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}

	allocs, pagination, err := h.service.List(r.Context(), scope.availabilityID, req)
	if err != nil {
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.List(w, "", allocs, *pagination)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, true, true)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Update(r.Context(), scope.companyID, scope.tripID, scope.availabilityID, scope.allocationID, req, scope.actor)
	if err != nil {
		h.logger.Error("update allocation failed", slog.Int64("allocation", scope.allocationID), slog.Any("error", err))
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "agent allocation updated", result)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, true, true)
	if !ok {
		return
	}
	result, err := h.service.SoftDelete(r.Context(), scope.companyID, scope.tripID, scope.availabilityID, scope.allocationID, scope.actor)
	if err != nil {
		h.logger.Error("delete allocation failed", slog.Int64("allocation", scope.allocationID), slog.Any("error", err))
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "agent allocation deleted, seats returned to the availability", result)
}

func (h *Handler) AgentTotals(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, false, false)
	if !ok {
		return
	}
	totals, err := h.service.AgentTotals(r.Context(), scope.companyID, scope.tripID)
	if err != nil {
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "", totals)
}
