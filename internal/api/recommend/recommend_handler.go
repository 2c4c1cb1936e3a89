package recommend

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/lvtu-ai/travel-planner/internal/api"
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

// GetRecommendations returns the attraction and restaurant pools for a plan's
// destination, filtered by the plan's preferences.
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("GetRecommendations").Start(r.Context(), "GetRecommendations", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/recommendations/{planID}"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "GetRecommendations"))

	planID, err := strconv.ParseInt(chi.URLParam(r, "planID"), 10, 64)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid plan ID")
		return
	}

	recs, err := h.service.GetRecommendations(ctx, planID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get recommendations", slog.Int64("planID", planID), slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to get recommendations")
		return
	}
	if recs == nil {
		api.ErrorResponse(w, r, http.StatusNotFound, "Travel plan not found")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, recs)
}
