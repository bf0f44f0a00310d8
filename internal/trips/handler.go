package trips

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/harborline/harborline/internal/platform/httpx"
	"github.com/harborline/harborline/internal/shared"
)

// Handler wires HTTP endpoints for the trips module.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	validate       *validator.Validate
	exposeInternal bool
}

// NewHandler constructs the trips handler.
func NewHandler(logger *slog.Logger, service *Service, exposeInternal bool) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		validate:       validator.New(),
		exposeInternal: exposeInternal,
	}
}

// MountRoutes registers trip routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/trips", h.Create)
	r.Get("/trips", h.List)
	r.Get("/trips/{tripID}", h.Show)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyIDFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "company scope missing")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())

	var req CreateTripRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}

	trip, err := h.service.Create(r.Context(), companyID, req, actor)
	if err != nil {
		h.logger.Error("create trip failed", slog.Any("error", err))
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusCreated, "trip created", trip)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyIDFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "company scope missing")
		return
	}
	tripID, err := strconv.ParseInt(chi.URLParam(r, "tripID"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid trip id")
		return
	}
	trip, err := h.service.Get(r.Context(), companyID, tripID)
	if err != nil {
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.OK(w, http.StatusOK, "", trip)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyIDFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "company scope missing")
		return
	}
	q := r.URL.Query()
	req := ListTripsRequest{CompanyID: companyID}
	req.Page, _ = strconv.Atoi(q.Get("page"))
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	if v := q.Get("ship"); v != "" {
		if shipID, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.ShipID = &shipID
		}
	}
	if v := q.Get("status"); v != "" {
		status := Status(v)
		req.Status = &status
	}
	if from := parseDate(q.Get("date_from")); from != nil {
		req.DateFrom = from
	}
	if to := parseDate(q.Get("date_to")); to != nil {
		req.DateTo = to
	}

	result, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list trips failed", slog.Any("error", err))
		httpx.RespondError(w, err, h.exposeInternal)
		return
	}
	httpx.List(w, "", result, shared.NewPagination(req.Page, req.Limit, total))
}

func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil
	}
	return &t
}
