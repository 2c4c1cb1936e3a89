package types

import (
	"encoding/json"
	"time"
)

// Task status values stored in redis.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// Task kinds.
const (
	TaskTypeRecommendationPrefetch = "recommendation_prefetch"
	TaskTypeItineraryGeneration    = "itinerary_generation"
)

// TaskRecord is the redis-backed status of one background job. Result holds
// the job's output once it succeeds, when the job produces one.
type TaskRecord struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	TravelPlanID int64           `json:"travel_plan_id,omitempty"`
	Detail       string          `json:"detail,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
