// Package tasks tracks background jobs in redis: the recommendation prefetch
// that warms a destination's pools right after a plan is created, and the
// non-streaming itinerary generation submitted for polling.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lvtu-ai/travel-planner/internal/types"
)

const (
	taskKeyPrefix = "task:"
	// Records outlive any plausible polling window, then expire on their own.
	taskTTL = 24 * time.Hour

	prefetchTimeout   = 5 * time.Minute
	generationTimeout = 15 * time.Minute
)

// RecommendationWarmer fills the stored recommendation pool for a city.
type RecommendationWarmer interface {
	WarmAttractions(ctx context.Context, city string) error
	WarmRestaurants(ctx context.Context, city string) error
}

// ItineraryGenerator runs one non-streaming generation; implemented by the
// itinerary service.
type ItineraryGenerator interface {
	GenerateItinerary(ctx context.Context, req *types.GenerateItineraryRequest) (*types.ItineraryResult, error)
}

// Manager enqueues jobs and exposes their redis-backed status.
type Manager struct {
	logger    *slog.Logger
	redis     *redis.Client
	warmer    RecommendationWarmer
	generator ItineraryGenerator
}

func NewManager(redisClient *redis.Client, warmer RecommendationWarmer, generator ItineraryGenerator, logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger.With(slog.String("component", "TaskManager")),
		redis:     redisClient,
		warmer:    warmer,
		generator: generator,
	}
}

// EnqueueRecommendationPrefetch records a pending task and starts the
// prefetch in the background. The returned id is pollable via GetTask.
func (m *Manager) EnqueueRecommendationPrefetch(ctx context.Context, planID int64, destination string) (string, error) {
	now := time.Now().UTC()
	rec := types.TaskRecord{
		ID:           uuid.New().String(),
		Type:         types.TaskTypeRecommendationPrefetch,
		Status:       types.TaskStatusPending,
		TravelPlanID: planID,
		Detail:       destination,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.save(ctx, &rec); err != nil {
		return "", err
	}

	go m.runPrefetch(rec, destination)

	return rec.ID, nil
}

// runPrefetch warms both pools concurrently. It runs detached from the
// request context; only its own timeout stops it.
func (m *Manager) runPrefetch(rec types.TaskRecord, destination string) {
	ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
	defer cancel()

	m.transition(ctx, &rec, types.TaskStatusRunning, "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.warmer.WarmAttractions(gctx, destination)
	})
	g.Go(func() error {
		return m.warmer.WarmRestaurants(gctx, destination)
	})

	if err := g.Wait(); err != nil {
		m.logger.Warn("Recommendation prefetch failed",
			slog.String("taskID", rec.ID),
			slog.String("destination", destination),
			slog.Any("error", err))
		m.transition(ctx, &rec, types.TaskStatusFailed, err.Error())
		return
	}

	m.logger.Info("Recommendation prefetch completed",
		slog.String("taskID", rec.ID), slog.String("destination", destination))
	m.transition(ctx, &rec, types.TaskStatusSucceeded, "")
}

// EnqueueItineraryGeneration records a pending task and runs the full
// non-streaming generation in the background. The result lands on the task
// record once the run succeeds.
func (m *Manager) EnqueueItineraryGeneration(ctx context.Context, req *types.GenerateItineraryRequest) (string, error) {
	now := time.Now().UTC()
	rec := types.TaskRecord{
		ID:           uuid.New().String(),
		Type:         types.TaskTypeItineraryGeneration,
		Status:       types.TaskStatusPending,
		TravelPlanID: req.TravelPlanID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.save(ctx, &rec); err != nil {
		return "", err
	}

	go m.runGeneration(rec, req)

	return rec.ID, nil
}

func (m *Manager) runGeneration(rec types.TaskRecord, req *types.GenerateItineraryRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	defer cancel()

	m.transition(ctx, &rec, types.TaskStatusRunning, "")

	result, err := m.generator.GenerateItinerary(ctx, req)
	if err != nil {
		m.logger.Warn("Itinerary generation task failed",
			slog.String("taskID", rec.ID),
			slog.Int64("travelPlanID", req.TravelPlanID),
			slog.Any("error", err))
		m.transition(ctx, &rec, types.TaskStatusFailed, err.Error())
		return
	}

	if payload, err := json.Marshal(result); err == nil {
		rec.Result = payload
	}
	m.logger.Info("Itinerary generation task completed",
		slog.String("taskID", rec.ID), slog.Int64("travelPlanID", req.TravelPlanID))
	m.transition(ctx, &rec, types.TaskStatusSucceeded, "")
}

// GetTask returns a task record, or (nil, nil) for unknown or expired ids.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*types.TaskRecord, error) {
	val, err := m.redis.Get(ctx, taskKeyPrefix+taskID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: get task %s: %w", taskID, err)
	}
	var rec types.TaskRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("tasks: decode task %s: %w", taskID, err)
	}
	return &rec, nil
}

func (m *Manager) transition(ctx context.Context, rec *types.TaskRecord, status, detail string) {
	rec.Status = status
	if detail != "" {
		rec.Detail = detail
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, rec); err != nil {
		m.logger.Warn("Failed to persist task transition",
			slog.String("taskID", rec.ID),
			slog.String("status", status),
			slog.Any("error", err))
	}
}

func (m *Manager) save(ctx context.Context, rec *types.TaskRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tasks: marshal task %s: %w", rec.ID, err)
	}
	if err := m.redis.Set(ctx, taskKeyPrefix+rec.ID, b, taskTTL).Err(); err != nil {
		return fmt.Errorf("tasks: save task %s: %w", rec.ID, err)
	}
	return nil
}
