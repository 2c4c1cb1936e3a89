// Package itinerary is the generation pipeline: it builds the LLM prompt
// from a stored plan, parses the model's semi-structured reply, reconciles
// each day against recommendation pools and trip facts, and streams the
// whole run as ordered server-sent events.
package itinerary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lvtu-ai/travel-planner/app/observability/metrics"
	"github.com/lvtu-ai/travel-planner/config"
	"github.com/lvtu-ai/travel-planner/internal/llm"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

// ErrPlanNotFound marks a generation request for a plan id that does not
// exist; handlers map it to a 404.
var ErrPlanNotFound = errors.New("travel plan not found")

// ErrInvalidRequest marks a request whose dates are missing or inconsistent.
var ErrInvalidRequest = errors.New("invalid generation request")

// sendEventTimeout bounds how long an emit may wait on a slow consumer
// before the event is dropped.
const sendEventTimeout = 2 * time.Second

// Store is the persistence surface the pipeline needs; implemented by the
// trip repository.
type Store interface {
	GetTravelPlan(ctx context.Context, planID int64) (*types.TravelPlan, error)
	GetFlights(ctx context.Context, planID int64) ([]types.Flight, error)
	GetAccommodations(ctx context.Context, planID int64) ([]types.Accommodation, error)
	UpsertDayDetail(ctx context.Context, day *types.ItineraryDay) error
	SaveLlmInteraction(ctx context.Context, rec *types.LlmInteraction) error
}

// Recommender supplies the destination's attraction and restaurant pools;
// implemented by the recommend service.
type Recommender interface {
	Recommend(ctx context.Context, destination string, interests, foodPreferences []string) (*types.Recommendations, error)
}

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	GenerateItineraryStream(ctx context.Context, req *types.GenerateItineraryRequest) (*types.StreamingResponse, error)
	GenerateItinerary(ctx context.Context, req *types.GenerateItineraryRequest) (*types.ItineraryResult, error)
}

type ServiceImpl struct {
	logger      *slog.Logger
	cfg         *config.Config
	llmClient   llm.Client
	store       Store
	recommender Recommender
	geocoder    Geocoder
}

func NewService(
	cfg *config.Config,
	llmClient llm.Client,
	store Store,
	recommender Recommender,
	geocoder Geocoder,
	logger *slog.Logger,
) *ServiceImpl {
	return &ServiceImpl{
		logger:      logger,
		cfg:         cfg,
		llmClient:   llmClient,
		store:       store,
		recommender: recommender,
		geocoder:    geocoder,
	}
}

// GenerateItineraryStream starts a generation run and returns its event
// stream. The returned channel closes after the terminal result or error
// event; Cancel stops the run early.
func (s *ServiceImpl) GenerateItineraryStream(ctx context.Context, req *types.GenerateItineraryRequest) (*types.StreamingResponse, error) {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "GenerateItineraryStream", trace.WithAttributes(
		attribute.Int64("travel_plan.id", req.TravelPlanID),
	))
	defer span.End()

	trip, err := s.buildTripRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.DebugContext(ctx, "Starting itinerary generation stream",
		slog.Int64("travelPlanID", trip.PlanID),
		slog.String("destination", trip.Destination),
		slog.Int("days", trip.Days))

	eventCh := make(chan types.StreamEvent, 100)
	runCtx, cancel := context.WithCancel(ctx)
	go s.run(runCtx, eventCh, trip)

	return &types.StreamingResponse{
		PlanID: trip.PlanID,
		Stream: eventCh,
		Cancel: cancel,
	}, nil
}

// GenerateItinerary runs the same pipeline synchronously and returns the
// terminal result. Used by the background-task path.
func (s *ServiceImpl) GenerateItinerary(ctx context.Context, req *types.GenerateItineraryRequest) (*types.ItineraryResult, error) {
	resp, err := s.GenerateItineraryStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Cancel()

	var result *types.ItineraryResult
	for ev := range resp.Stream {
		switch ev.Type {
		case types.EventTypeResult:
			if r, ok := ev.Data.(types.ItineraryResult); ok {
				result = &r
			}
		case types.EventTypeError:
			msg := ev.Error
			if msg == "" {
				if e, ok := ev.Data.(types.ErrorEvent); ok {
					msg = e.Message
				}
			}
			return nil, fmt.Errorf("itinerary generation failed: %s", msg)
		}
	}
	if result == nil {
		return nil, fmt.Errorf("itinerary generation ended without a result")
	}
	return result, nil
}

// buildTripRequest resolves the stored plan and the effective date range.
// Request dates override the plan's; the plan must exist and the range must
// cover at least one day.
func (s *ServiceImpl) buildTripRequest(ctx context.Context, req *types.GenerateItineraryRequest) (*types.TripRequest, error) {
	plan, err := s.store.GetTravelPlan(ctx, req.TravelPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load travel plan %d: %w", req.TravelPlanID, err)
	}
	if plan == nil {
		return nil, fmt.Errorf("travel plan %d: %w", req.TravelPlanID, ErrPlanNotFound)
	}

	start, end, err := resolveDates(req, plan)
	if err != nil {
		return nil, err
	}
	days := int(dateOnly(end).Sub(dateOnly(start)).Hours()/24) + 1
	if days < 1 {
		return nil, fmt.Errorf("end date before start date: %w", ErrInvalidRequest)
	}

	budgetMin := 0.0
	if plan.BudgetMin != nil {
		budgetMin = *plan.BudgetMin
	}
	budgetMax := 10000.0
	if plan.BudgetMax != nil && *plan.BudgetMax > 0 {
		budgetMax = *plan.BudgetMax
	}

	return &types.TripRequest{
		PlanID:          plan.ID,
		Destination:     plan.Destination,
		StartDate:       dateOnly(start),
		EndDate:         dateOnly(end),
		Days:            days,
		Interests:       plan.Interests,
		FoodPreferences: plan.FoodPreferences,
		Travelers:       plan.Travelers,
		BudgetMin:       budgetMin,
		BudgetMax:       budgetMax,
		Notes:           plan.Notes,
	}, nil
}

func resolveDates(req *types.GenerateItineraryRequest, plan *types.TravelPlan) (time.Time, time.Time, error) {
	if req.StartDate != "" || req.EndDate != "" {
		start, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad start_date %q: %w", req.StartDate, ErrInvalidRequest)
		}
		end, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad end_date %q: %w", req.EndDate, ErrInvalidRequest)
		}
		return start, end, nil
	}
	if plan.StartDate == nil || plan.EndDate == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("plan has no dates and request supplied none: %w", ErrInvalidRequest)
	}
	return *plan.StartDate, *plan.EndDate, nil
}

// run drives one generation end to end, emitting events in protocol order.
// Any panic becomes a terminal error event instead of killing the process.
func (s *ServiceImpl) run(ctx context.Context, eventCh chan<- types.StreamEvent, trip *types.TripRequest) {
	defer close(eventCh)

	appMetrics := metrics.Get()
	appMetrics.GenerationRequestsTotal.Add(ctx, 1)
	startedAt := time.Now()
	status := "ok"
	defer func() {
		appMetrics.GenerationDurationSeconds.Record(ctx, time.Since(startedAt).Seconds(),
			metric.WithAttributes(attribute.String("status", status)))
	}()
	defer func() {
		if rec := recover(); rec != nil {
			status = "panic"
			s.logger.ErrorContext(ctx, "Itinerary generation panicked", slog.Any("panic", rec))
			s.sendEvent(ctx, eventCh, types.StreamEvent{
				Type:    types.EventTypeError,
				Data:    types.ErrorEvent{Message: fmt.Sprint(rec)},
				Error:   fmt.Sprint(rec),
				IsFinal: true,
			})
		}
	}()

	if !s.sendEvent(ctx, eventCh, types.StreamEvent{
		Type: types.EventTypeStarted,
		Data: types.StartedEvent{TravelPlanID: trip.PlanID, Destination: trip.Destination},
	}) {
		status = "cancelled"
		return
	}
	s.sendEvent(ctx, eventCh, types.StreamEvent{
		Type: types.EventTypeHeartbeat,
		Data: types.HeartbeatEvent{Ts: float64(time.Now().UnixNano()) / 1e9},
	})

	prompt := BuildPrompt(trip)
	text, ok := s.generateText(ctx, eventCh, trip, prompt)
	if !ok {
		status = "error"
		return
	}

	s.sendProgress(ctx, eventCh, types.StageParseJSON)
	parsed := Parse(text, trip.Days)

	s.sendProgress(ctx, eventCh, types.StageFetchRecommendations)
	recs := s.fetchRecommendations(ctx, trip)

	flights, accommodations := s.fetchTripFacts(ctx, trip.PlanID)

	s.sendProgress(ctx, eventCh, types.StagePersist)
	reconciler := NewReconciler(s.logger, s.geocoder, trip, recs, flights, accommodations)
	summaries := make([]types.DaySummary, 0, trip.Days)
	for dayNum := 1; dayNum <= trip.Days; dayNum++ {
		day := reconciler.ReconcileDay(ctx, parsed, dayNum)
		if err := s.persistDay(ctx, trip.PlanID, day); err != nil {
			status = "error"
			s.logger.ErrorContext(ctx, "Failed to persist itinerary day",
				slog.Int64("travelPlanID", trip.PlanID),
				slog.Int("day", dayNum),
				slog.Any("error", err))
			s.sendEvent(ctx, eventCh, types.StreamEvent{
				Type:    types.EventTypeError,
				Data:    types.ErrorEvent{Message: err.Error()},
				Error:   err.Error(),
				IsFinal: true,
			})
			return
		}
		if !s.sendEvent(ctx, eventCh, types.StreamEvent{
			Type: types.EventTypeDay,
			Data: day.Event(),
		}) {
			status = "cancelled"
			return
		}
		summaries = append(summaries, day.Summary())
	}

	result := types.ItineraryResult{
		Success:        true,
		TravelPlanID:   trip.PlanID,
		Days:           trip.Days,
		Itinerary:      summaries,
		Attractions:    truncateAttractions(recs.Attractions, 20),
		Restaurants:    truncateRestaurants(recs.Restaurants, 20),
		Flights:        flights,
		Accommodations: accommodations,
	}
	s.sendEvent(ctx, eventCh, types.StreamEvent{
		Type:    types.EventTypeResult,
		Data:    result,
		IsFinal: true,
	})
	s.logger.InfoContext(ctx, "Itinerary generation completed",
		slog.Int64("travelPlanID", trip.PlanID),
		slog.Int("days", trip.Days),
		slog.Duration("elapsed", time.Since(startedAt)))
}

// generateText produces the full LLM response, streaming token deltas when
// the configuration asks for it. A failure emits the terminal error event
// and reports not-ok.
func (s *ServiceImpl) generateText(ctx context.Context, eventCh chan<- types.StreamEvent, trip *types.TripRequest, prompt string) (string, bool) {
	startedAt := time.Now()

	var text string
	var err error
	if s.cfg.LLM.Streaming {
		text, err = s.generateStreaming(ctx, eventCh, prompt)
	} else {
		text, err = s.generateInvoke(ctx, eventCh, prompt)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "LLM generation failed",
			slog.Int64("travelPlanID", trip.PlanID), slog.Any("error", err))
		s.sendEvent(ctx, eventCh, types.StreamEvent{
			Type:    types.EventTypeError,
			Data:    types.ErrorEvent{Message: fmt.Sprintf("failed to generate itinerary: %v", err)},
			Error:   err.Error(),
			IsFinal: true,
		})
		return "", false
	}

	s.auditInteraction(ctx, trip.PlanID, prompt, text, time.Since(startedAt))
	return text, true
}

func (s *ServiceImpl) generateStreaming(ctx context.Context, eventCh chan<- types.StreamEvent, prompt string) (string, error) {
	chunks, err := s.llmClient.GenerateStream(ctx, prompt)
	if err != nil {
		// Provider cannot stream; degrade to a single-shot call.
		s.logger.WarnContext(ctx, "LLM streaming unavailable, falling back to invoke", slog.Any("error", err))
		return s.generateInvoke(ctx, eventCh, prompt)
	}

	s.sendProgress(ctx, eventCh, types.StageLlmStreamStart)
	var buf strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		if chunk.Token == "" {
			continue
		}
		buf.WriteString(chunk.Token)
		metrics.Get().LlmTokensStreamedTotal.Add(ctx, 1)
		s.sendEvent(ctx, eventCh, types.StreamEvent{
			Type: types.EventTypeToken,
			Data: types.TokenEvent{Delta: chunk.Token},
		})
	}
	s.sendProgress(ctx, eventCh, types.StageLlmStreamEnd)
	return buf.String(), nil
}

func (s *ServiceImpl) generateInvoke(ctx context.Context, eventCh chan<- types.StreamEvent, prompt string) (string, error) {
	s.sendProgress(ctx, eventCh, types.StageLlmInvoke)
	text, err := s.llmClient.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if text != "" {
		s.sendEvent(ctx, eventCh, types.StreamEvent{
			Type: types.EventTypeToken,
			Data: types.TokenEvent{Delta: text},
		})
	}
	return text, nil
}

// fetchRecommendations never fails the run: without pools the reconciler
// simply has nothing to backfill or synthesize from.
func (s *ServiceImpl) fetchRecommendations(ctx context.Context, trip *types.TripRequest) *types.Recommendations {
	recs, err := s.recommender.Recommend(ctx, trip.Destination, trip.Interests, trip.FoodPreferences)
	if err != nil {
		s.logger.WarnContext(ctx, "Recommendation fetch failed, continuing without pools",
			slog.String("destination", trip.Destination), slog.Any("error", err))
		return &types.Recommendations{}
	}
	if recs == nil {
		return &types.Recommendations{}
	}
	return recs
}

func (s *ServiceImpl) fetchTripFacts(ctx context.Context, planID int64) ([]types.Flight, []types.Accommodation) {
	flights, err := s.store.GetFlights(ctx, planID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load flights for anchors", slog.Int64("travelPlanID", planID), slog.Any("error", err))
	}
	accommodations, err := s.store.GetAccommodations(ctx, planID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load accommodations for anchors", slog.Int64("travelPlanID", planID), slog.Any("error", err))
	}
	return flights, accommodations
}

func (s *ServiceImpl) persistDay(ctx context.Context, planID int64, day *ReconciledDay) error {
	itineraryJSON, err := json.Marshal(day.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode itinerary for day %d: %w", day.DayNumber, err)
	}
	spotsJSON, err := json.Marshal(truncateActivities(day.Spots, maxSpotsPerDay))
	if err != nil {
		return fmt.Errorf("failed to encode spots for day %d: %w", day.DayNumber, err)
	}
	restaurantsJSON, err := json.Marshal(truncateActivities(day.Restaurants, maxRestaurantsPerDay))
	if err != nil {
		return fmt.Errorf("failed to encode restaurants for day %d: %w", day.DayNumber, err)
	}

	row := &types.ItineraryDay{
		TravelPlanID: planID,
		DayNumber:    day.DayNumber,
		Itinerary:    itineraryJSON,
		Spots:        spotsJSON,
		Restaurants:  restaurantsJSON,
	}
	if err := s.store.UpsertDayDetail(ctx, row); err != nil {
		return fmt.Errorf("failed to persist day %d: %w", day.DayNumber, err)
	}
	return nil
}

// auditInteraction records the prompt/response pair for later inspection.
// Auditing is best-effort and never interrupts generation.
func (s *ServiceImpl) auditInteraction(ctx context.Context, planID int64, prompt, response string, latency time.Duration) {
	rec := &types.LlmInteraction{
		ID:           uuid.New(),
		TravelPlanID: planID,
		Provider:     s.llmClient.Provider(),
		Model:        s.llmClient.Model(),
		Prompt:       prompt,
		Response:     response,
		LatencyMs:    int(latency.Milliseconds()),
	}
	if err := s.store.SaveLlmInteraction(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "Failed to save LLM interaction", slog.Int64("travelPlanID", planID), slog.Any("error", err))
	}
}

func (s *ServiceImpl) sendProgress(ctx context.Context, ch chan<- types.StreamEvent, stage string) {
	s.sendEvent(ctx, ch, types.StreamEvent{
		Type: types.EventTypeProgress,
		Data: types.ProgressEvent{Stage: stage},
	})
}

// sendEvent delivers one event, filling in its id and timestamp. Reports
// false when the consumer is gone or too slow, so callers can stop early.
func (s *ServiceImpl) sendEvent(ctx context.Context, ch chan<- types.StreamEvent, event types.StreamEvent) (sent bool) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Context cancelled, not sending stream event", slog.String("eventType", event.Type))
		return false
	default:
		select {
		case ch <- event:
			return true
		case <-ctx.Done():
			s.logger.WarnContext(ctx, "Context cancelled while trying to send stream event", slog.String("eventType", event.Type))
			return false
		case <-time.After(sendEventTimeout):
			s.logger.WarnContext(ctx, "Dropped stream event due to slow consumer or blocked channel", slog.String("eventType", event.Type))
			return false
		}
	}
}

func truncateActivities(items []*types.Activity, n int) []*types.Activity {
	if items == nil {
		return []*types.Activity{}
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}

func truncateAttractions(items []types.Attraction, n int) []types.Attraction {
	if items == nil {
		return []types.Attraction{}
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}

func truncateRestaurants(items []types.Restaurant, n int) []types.Restaurant {
	if items == nil {
		return []types.Restaurant{}
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}
