package types

import (
	"context"
	"time"
)

// StreamEvent represents different types of streaming events
type StreamEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventID   string      `json:"event_id"`
	IsFinal   bool        `json:"is_final,omitempty"`
}

// StreamEventType constants
const (
	EventTypeStarted   = "started"
	EventTypeHeartbeat = "heartbeat"
	EventTypeProgress  = "progress"
	EventTypeToken     = "token"
	EventTypeDay       = "day"
	EventTypeResult    = "result"
	EventTypeError     = "error"
)

// Progress stage names emitted inside progress events.
const (
	StageLlmStreamStart       = "llm_stream_start"
	StageLlmStreamEnd         = "llm_stream_end"
	StageLlmInvoke            = "llm_invoke"
	StageParseJSON            = "parse_json"
	StageFetchRecommendations = "fetch_recommendations"
	StagePersist              = "persist"
)

// StreamingResponse wraps the streaming channel and metadata
type StreamingResponse struct {
	PlanID int64
	Stream <-chan StreamEvent
	Cancel context.CancelFunc
}

// StartedEvent is the payload of the first named event on the stream.
type StartedEvent struct {
	TravelPlanID int64  `json:"travel_plan_id"`
	Destination  string `json:"destination"`
}

// HeartbeatEvent carries a unix timestamp in float seconds.
type HeartbeatEvent struct {
	Ts float64 `json:"ts"`
}

// ProgressEvent reports the pipeline stage currently running.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
}

// TokenEvent carries one LLM text delta, never cumulative text.
type TokenEvent struct {
	Delta string `json:"delta"`
}

// ErrorEvent terminates the stream; no event follows it.
type ErrorEvent struct {
	Message string `json:"message"`
}
