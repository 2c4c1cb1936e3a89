package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TravelPlan is a stored plan row. Interests, food preferences and reference
// notes live in JSONB columns.
type TravelPlan struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	Destination     string     `json:"destination"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	BudgetMin       *float64   `json:"budget_min,omitempty"`
	BudgetMax       *float64   `json:"budget_max,omitempty"`
	Travelers       string     `json:"travelers,omitempty"`
	Interests       []string   `json:"interests"`
	FoodPreferences []string   `json:"food_preferences"`
	Notes           []NoteRef  `json:"xiaohongshu_notes,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Flight is a stored flight leg with airport coordinates resolved at insert
// time. Coordinates stay nil when geocoding failed.
type Flight struct {
	ID               int64      `json:"id"`
	TravelPlanID     int64      `json:"travel_plan_id"`
	FlightNumber     string     `json:"flight_number,omitempty"`
	DepartureAirport string     `json:"departure_airport"`
	ArrivalAirport   string     `json:"arrival_airport"`
	DepartureTime    *time.Time `json:"departure_time,omitempty"`
	ArrivalTime      *time.Time `json:"arrival_time,omitempty"`
	DepartureLat     *float64   `json:"departure_lat,omitempty"`
	DepartureLng     *float64   `json:"departure_lng,omitempty"`
	ArrivalLat       *float64   `json:"arrival_lat,omitempty"`
	ArrivalLng       *float64   `json:"arrival_lng,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Accommodation is a stored lodging record. Check-in/check-out are dates, not
// timestamps; a record without a parseable check-in date never anchors a day.
type Accommodation struct {
	ID           int64      `json:"id"`
	TravelPlanID int64      `json:"travel_plan_id"`
	Name         string     `json:"name"`
	Address      string     `json:"address,omitempty"`
	CheckInDate  *time.Time `json:"check_in_date,omitempty"`
	CheckOutDate *time.Time `json:"check_out_date,omitempty"`
	Latitude     *float64   `json:"lat,omitempty"`
	Longitude    *float64   `json:"lng,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Attraction is a city-level recommendation row.
type Attraction struct {
	ID          int64    `json:"id,omitempty"`
	City        string   `json:"city"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Address     string   `json:"address,omitempty"`
	Latitude    *float64 `json:"lat"`
	Longitude   *float64 `json:"lng"`
	Category    string   `json:"category,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
}

// Restaurant is a city-level dining recommendation row.
type Restaurant struct {
	ID          int64    `json:"id,omitempty"`
	City        string   `json:"city"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Address     string   `json:"address,omitempty"`
	Latitude    *float64 `json:"lat"`
	Longitude   *float64 `json:"lng"`
	CuisineType string   `json:"cuisine_type,omitempty"`
	PriceRange  string   `json:"price_range,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
}

// Recommendations bundles both lists for one destination.
type Recommendations struct {
	Attractions []Attraction `json:"attractions"`
	Restaurants []Restaurant `json:"restaurants"`
}

// ItineraryDay is one persisted (plan, day) row. The three JSONB payloads are
// kept raw; the upsert is idempotent per (travel_plan_id, day_number).
type ItineraryDay struct {
	ID           int64           `json:"id"`
	TravelPlanID int64           `json:"travel_plan_id"`
	DayNumber    int             `json:"day_number"`
	Itinerary    json.RawMessage `json:"itinerary"`
	Spots        json.RawMessage `json:"spots"`
	Restaurants  json.RawMessage `json:"restaurants"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TravelPlanDetail is the full plan view returned by the detail endpoint.
type TravelPlanDetail struct {
	TravelPlan
	Flights        []Flight        `json:"flights"`
	Accommodations []Accommodation `json:"accommodations"`
	ItineraryDays  []ItineraryDay  `json:"itinerary_days"`
}

// LlmInteraction audits one LLM call made on behalf of a plan.
type LlmInteraction struct {
	ID           uuid.UUID `json:"id"`
	TravelPlanID int64     `json:"travel_plan_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	LatencyMs    int       `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateTravelPlanRequest is the plan-creation body. Field names follow the
// frontend's camelCase contract; dates are "2006-01-02" strings.
type CreateTravelPlanRequest struct {
	Destination      string               `json:"destination"`
	StartDate        string               `json:"startDate,omitempty"`
	EndDate          string               `json:"endDate,omitempty"`
	BudgetMin        *float64             `json:"budgetMin,omitempty"`
	BudgetMax        *float64             `json:"budgetMax,omitempty"`
	Travelers        string               `json:"travelers,omitempty"`
	Interests        []string             `json:"interests,omitempty"`
	FoodPreferences  []string             `json:"foodPreferences,omitempty"`
	XiaohongshuNotes []string             `json:"xiaohongshuNotes,omitempty"`
	Flights          []FlightInput        `json:"flights,omitempty"`
	Accommodations   []AccommodationInput `json:"accommodations,omitempty"`
}

// FlightInput is one flight leg in a creation request. Times are RFC 3339 or
// "2006-01-02 15:04" strings.
type FlightInput struct {
	FlightNumber     string `json:"flightNumber,omitempty"`
	DepartureAirport string `json:"departureAirport"`
	ArrivalAirport   string `json:"arrivalAirport"`
	DepartureTime    string `json:"departureTime,omitempty"`
	ArrivalTime      string `json:"arrivalTime,omitempty"`
}

// AccommodationInput is one lodging entry in a creation request.
type AccommodationInput struct {
	Name         string `json:"name"`
	Address      string `json:"address,omitempty"`
	CheckInDate  string `json:"checkInDate,omitempty"`
	CheckOutDate string `json:"checkOutDate,omitempty"`
}
