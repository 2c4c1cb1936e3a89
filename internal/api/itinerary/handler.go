package itinerary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/lvtu-ai/travel-planner/internal/api"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

// TaskEnqueuer starts background generation jobs; implemented by the task
// manager.
type TaskEnqueuer interface {
	EnqueueItineraryGeneration(ctx context.Context, req *types.GenerateItineraryRequest) (string, error)
}

type Handler struct {
	service  Service
	enqueuer TaskEnqueuer
	logger   *slog.Logger
}

func NewHandler(service Service, enqueuer TaskEnqueuer, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// GenerateItinerary submits a background generation job and returns its task
// id for polling.
func (h *Handler) GenerateItinerary(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("GenerateItinerary").Start(r.Context(), "GenerateItinerary", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/travel-plans/{planID}/generate-itinerary"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "GenerateItinerary"))

	req, ok := h.decodeRequest(w, r, l)
	if !ok {
		return
	}

	taskID, err := h.enqueuer.EnqueueItineraryGeneration(ctx, req)
	if err != nil {
		l.ErrorContext(ctx, "Failed to enqueue itinerary generation",
			slog.Int64("planID", req.TravelPlanID), slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to submit generation task")
		return
	}

	l.InfoContext(ctx, "Itinerary generation task submitted",
		slog.Int64("planID", req.TravelPlanID), slog.String("taskID", taskID))
	api.WriteJSONResponse(w, r, http.StatusAccepted, map[string]string{
		"task_id": taskID,
		"status":  types.TaskStatusPending,
		"message": "路线生成任务已提交，请使用task_id查询进度",
	})
}

// GenerateItineraryStream runs generation inline and relays its events as
// server-sent events. The response stays open until the terminal result or
// error event.
func (h *Handler) GenerateItineraryStream(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("GenerateItineraryStream").Start(r.Context(), "GenerateItineraryStream", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/travel-plans/{planID}/generate-itinerary/stream"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "GenerateItineraryStream"))

	req, ok := h.decodeRequest(w, r, l)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		l.ErrorContext(ctx, "Response writer does not support flushing")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	resp, err := h.service.GenerateItineraryStream(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrPlanNotFound):
			api.ErrorResponse(w, r, http.StatusNotFound, "Travel plan not found")
		case errors.Is(err, ErrInvalidRequest):
			api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		default:
			l.ErrorContext(ctx, "Failed to start itinerary stream",
				slog.Int64("planID", req.TravelPlanID), slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to start generation")
		}
		return
	}
	defer resp.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Keeps nginx from buffering the stream into one delayed burst.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Comment frame first so proxies flush their buffers before any event.
	fmt.Fprint(w, ":\n\n")
	flusher.Flush()

	for event := range resp.Stream {
		if err := writeSSE(w, event); err != nil {
			l.WarnContext(ctx, "Client connection lost during stream",
				slog.Int64("planID", req.TravelPlanID), slog.Any("error", err))
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, l *slog.Logger) (*types.GenerateItineraryRequest, bool) {
	planID, err := strconv.ParseInt(chi.URLParam(r, "planID"), 10, 64)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid plan ID")
		return nil, false
	}

	var req types.GenerateItineraryRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := api.DecodeJSONBody(w, r, &req); err != nil {
			l.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
			return nil, false
		}
	}
	req.TravelPlanID = planID
	return &req, true
}

// writeSSE frames one event for the wire. A payload the encoder cannot
// represent degrades to null rather than breaking the stream.
func writeSSE(w io.Writer, event types.StreamEvent) error {
	payload := event.Data
	if event.Type == types.EventTypeError && payload == nil {
		payload = types.ErrorEvent{Message: event.Error}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
