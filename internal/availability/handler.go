package availability

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/harborline/harborline/internal/platform/httpx"
	"github.com/harborline/harborline/internal/shared"
)

// Handler wires HTTP endpoints for availability blocks.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	validate       *validator.Validate
	exposeInternal bool
}

// NewHandler constructs the availability handler.
func NewHandler(logger *slog.Logger, service *Service, exposeInternal bool) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		validate:       validator.New(),
		exposeInternal: exposeInternal,
	}
}

// MountRoutes registers availability routes under /trips/{tripID}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/trips/{tripID}/availabilities", h.CreateBatch)
	r.Get("/trips/{tripID}/availabilities/{availabilityID}", h.Show)
	r.Put("/trips/{tripID}/availabilities/{availabilityID}", h.Update)
	r.Delete("/trips/{tripID}/availabilities/{availabilityID}", h.Delete)
	r.Get("/trips/{tripID}/availabilities/{availabilityID}/summary", h.BlockSummary)
	r.Get("/trips/{tripID}/availability-summary", h.TripSummary)
}

type requestScope struct {
	companyID      int64
	tripID         int64
	availabilityID int64
	actor          shared.Actor
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request, withAvailability bool) (requestScope, bool) {
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
	return scope, true
}

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, false)
	if !ok {
		return
	}
	var req CreateBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	created, err := h.service.CreateBatch(r.Context(), scope.companyID, scope.tripID, req, scope.actor)
	if err != nil {
		h.logger.Error("create availabilities failed", slog.Int64("trip", scope.tripID), slog.Any("error", err))
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusCreated, "availabilities created", created)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, true)
	if !ok {
		return
	}
	av, err := h.service.Get(r.Context(), scope.companyID, scope.tripID, scope.availabilityID)
	if err != nil {
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "", av)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, true)
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

	updated, err := h.service.Update(r.Context(), scope.companyID, scope.tripID, scope.availabilityID, req, scope.actor)
	if err != nil {
		h.logger.Error("update availability failed", slog.Int64("availability", scope.availabilityID), slog.Any("error", err))
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "availability updated", updated)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, true)
	if !ok {
		return
	}
	trip, err := h.service.SoftDelete(r.Context(), scope.companyID, scope.tripID, scope.availabilityID, scope.actor)
	if err != nil {
		h.logger.Error("delete availability failed", slog.Int64("availability", scope.availabilityID), slog.Any("error", err))
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "availability deleted, seats restored", trip)
}

func (h *Handler) BlockSummary(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, true)
	if !ok {
		return
	}
	summary, err := h.service.BlockSummary(r.Context(), scope.companyID, scope.tripID, scope.availabilityID)
	if err != nil {
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "", summary)
}

func (h *Handler) TripSummary(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r, false)
	if !ok {
		return
	}
	summary, err := h.service.TripSummary(r.Context(), scope.companyID, scope.tripID)
	if err != nil {
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "", summary)
}
