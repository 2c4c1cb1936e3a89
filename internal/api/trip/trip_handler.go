package trip

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/lvtu-ai/travel-planner/internal/api"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// CreateTravelPlan creates a plan with its flights and accommodations.
func (h *Handler) CreateTravelPlan(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("CreateTravelPlan").Start(r.Context(), "CreateTravelPlan", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/travel-plans"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "CreateTravelPlan"))
	l.DebugContext(ctx, "Create travel plan handler invoked")

	var req types.CreateTravelPlanRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request body", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Destination == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "destination is required")
		return
	}

	plan, err := h.service.CreatePlan(ctx, &req)
	if err != nil {
		l.ErrorContext(ctx, "Failed to create travel plan", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to create travel plan")
		return
	}

	l.InfoContext(ctx, "Travel plan created", slog.Int64("planID", plan.ID))
	api.WriteJSONResponse(w, r, http.StatusCreated, plan)
}

// GetTravelPlan returns one plan with flights, accommodations and generated days.
func (h *Handler) GetTravelPlan(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("GetTravelPlan").Start(r.Context(), "GetTravelPlan", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/travel-plans/{planID}"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "GetTravelPlan"))

	planID, err := parsePlanID(r)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid plan ID")
		return
	}

	detail, err := h.service.GetPlanDetail(ctx, planID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get travel plan", slog.Int64("planID", planID), slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to get travel plan")
		return
	}
	if detail == nil {
		api.ErrorResponse(w, r, http.StatusNotFound, "Travel plan not found")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, detail)
}

// ListTravelPlans returns the plans of the single local user.
func (h *Handler) ListTravelPlans(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ListTravelPlans").Start(r.Context(), "ListTravelPlans", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/travel-plans"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "ListTravelPlans"))

	plans, err := h.service.ListPlans(ctx, 1)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list travel plans", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to list travel plans")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, plans)
}

// DeleteTravelPlan removes a plan and everything hanging off it.
func (h *Handler) DeleteTravelPlan(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("DeleteTravelPlan").Start(r.Context(), "DeleteTravelPlan", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/travel-plans/{planID}"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "DeleteTravelPlan"))

	planID, err := parsePlanID(r)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid plan ID")
		return
	}

	if err := h.service.DeletePlan(ctx, planID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			api.ErrorResponse(w, r, http.StatusNotFound, "Travel plan not found")
			return
		}
		l.ErrorContext(ctx, "Failed to delete travel plan", slog.Int64("planID", planID), slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to delete travel plan")
		return
	}

	l.InfoContext(ctx, "Travel plan deleted", slog.Int64("planID", planID))
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]any{"deleted": true, "id": planID})
}

func parsePlanID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "planID"), 10, 64)
}
