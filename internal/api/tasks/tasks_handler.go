package tasks

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/lvtu-ai/travel-planner/internal/api"
)

type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// GetTask returns the status of one background task.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("GetTask").Start(r.Context(), "GetTask", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/tasks/{taskID}"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "GetTask"))

	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	rec, err := h.manager.GetTask(ctx, taskID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get task", slog.String("taskID", taskID), slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to get task")
		return
	}
	if rec == nil {
		api.ErrorResponse(w, r, http.StatusNotFound, "Task not found")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, rec)
}
