// Package trip manages travel plans: creation with flight and accommodation
// geocoding, detail reads and deletion. Plans are the root aggregate every
// itinerary generation run hangs off.
package trip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lvtu-ai/travel-planner/internal/location"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

// Geocoder resolves free-form addresses. Resolution failures degrade to nil
// coordinates, they never fail plan creation.
type Geocoder interface {
	Geocode(ctx context.Context, address, hintCity string) (*location.GeocodeResult, error)
}

// NoteFetcher scrapes xiaohongshu reference notes at plan creation time.
type NoteFetcher interface {
	FetchAll(ctx context.Context, urls []string) []types.NoteRef
}

// TaskEnqueuer schedules background work after a plan is created.
type TaskEnqueuer interface {
	EnqueueRecommendationPrefetch(ctx context.Context, planID int64, destination string) (string, error)
}

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	CreatePlan(ctx context.Context, req *types.CreateTravelPlanRequest) (*types.TravelPlan, error)
	GetPlanDetail(ctx context.Context, planID int64) (*types.TravelPlanDetail, error)
	ListPlans(ctx context.Context, userID int64) ([]types.TravelPlan, error)
	DeletePlan(ctx context.Context, planID int64) error
}

type ServiceImpl struct {
	logger   *slog.Logger
	repo     Repository
	geocoder Geocoder
	notes    NoteFetcher
	tasks    TaskEnqueuer
}

func NewService(repo Repository, geocoder Geocoder, notes NoteFetcher, tasks TaskEnqueuer, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:   logger,
		repo:     repo,
		geocoder: geocoder,
		notes:    notes,
		tasks:    tasks,
	}
}

// CreatePlan validates and stores a plan. Airports and accommodations are
// geocoded up front so day anchoring later works offline; reference notes are
// scraped once here and frozen into the plan row.
func (s *ServiceImpl) CreatePlan(ctx context.Context, req *types.CreateTravelPlanRequest) (*types.TravelPlan, error) {
	ctx, span := otel.Tracer("TripService").Start(ctx, "CreatePlan", trace.WithAttributes(
		attribute.String("plan.destination", req.Destination),
	))
	defer span.End()

	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return nil, fmt.Errorf("destination is required")
	}

	startDate, err := parseDate(req.StartDate)
	if err != nil {
		return nil, fmt.Errorf("invalid startDate: %w", err)
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("invalid endDate: %w", err)
	}
	if startDate != nil && endDate != nil && endDate.Before(*startDate) {
		return nil, fmt.Errorf("endDate is before startDate")
	}

	plan := &types.TravelPlan{
		Destination:     destination,
		StartDate:       startDate,
		EndDate:         endDate,
		BudgetMin:       req.BudgetMin,
		BudgetMax:       req.BudgetMax,
		Travelers:       req.Travelers,
		Interests:       req.Interests,
		FoodPreferences: req.FoodPreferences,
	}

	if len(req.XiaohongshuNotes) > 0 && s.notes != nil {
		plan.Notes = s.notes.FetchAll(ctx, req.XiaohongshuNotes)
	}

	flights := s.buildFlights(ctx, destination, req.Flights)
	accommodations := s.buildAccommodations(ctx, destination, req.Accommodations)

	planID, err := s.repo.CreateTravelPlan(ctx, plan, flights, accommodations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create travel plan")
		return nil, err
	}
	plan.ID = planID
	plan.UserID = 1
	plan.Status = "draft"

	if s.tasks != nil {
		taskID, err := s.tasks.EnqueueRecommendationPrefetch(ctx, planID, destination)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to enqueue recommendation prefetch",
				slog.Int64("planID", planID), slog.Any("error", err))
		} else {
			s.logger.InfoContext(ctx, "Recommendation prefetch enqueued",
				slog.Int64("planID", planID), slog.String("taskID", taskID))
		}
	}

	span.SetAttributes(attribute.Int64("plan.id", planID))
	span.SetStatus(codes.Ok, "Travel plan created")
	return plan, nil
}

func (s *ServiceImpl) buildFlights(ctx context.Context, destination string, inputs []types.FlightInput) []types.Flight {
	flights := make([]types.Flight, 0, len(inputs))
	for _, in := range inputs {
		if in.DepartureAirport == "" && in.ArrivalAirport == "" {
			continue
		}
		f := types.Flight{
			FlightNumber:     in.FlightNumber,
			DepartureAirport: in.DepartureAirport,
			ArrivalAirport:   in.ArrivalAirport,
			DepartureTime:    parseDateTime(in.DepartureTime),
			ArrivalTime:      parseDateTime(in.ArrivalTime),
		}
		if loc := s.geocode(ctx, in.DepartureAirport, ""); loc != nil {
			f.DepartureLat, f.DepartureLng = &loc.Latitude, &loc.Longitude
		}
		if loc := s.geocode(ctx, in.ArrivalAirport, destination); loc != nil {
			f.ArrivalLat, f.ArrivalLng = &loc.Latitude, &loc.Longitude
		}
		flights = append(flights, f)
	}
	return flights
}

func (s *ServiceImpl) buildAccommodations(ctx context.Context, destination string, inputs []types.AccommodationInput) []types.Accommodation {
	accommodations := make([]types.Accommodation, 0, len(inputs))
	for _, in := range inputs {
		if in.Name == "" {
			continue
		}
		a := types.Accommodation{
			Name:         in.Name,
			Address:      in.Address,
			CheckInDate:  parseDatePtr(in.CheckInDate),
			CheckOutDate: parseDatePtr(in.CheckOutDate),
		}
		query := in.Address
		if query == "" {
			query = in.Name
		}
		if loc := s.geocode(ctx, destination+" "+query, destination); loc != nil {
			a.Latitude, a.Longitude = &loc.Latitude, &loc.Longitude
		}
		accommodations = append(accommodations, a)
	}
	return accommodations
}

func (s *ServiceImpl) geocode(ctx context.Context, address, hintCity string) *location.GeocodeResult {
	if s.geocoder == nil || strings.TrimSpace(address) == "" {
		return nil
	}
	loc, err := s.geocoder.Geocode(ctx, address, hintCity)
	if err != nil {
		s.logger.WarnContext(ctx, "Geocoding failed",
			slog.String("address", address), slog.Any("error", err))
		return nil
	}
	return loc
}

// GetPlanDetail loads the plan with flights, accommodations and any already
// generated itinerary days. Returns (nil, nil) when the plan does not exist.
func (s *ServiceImpl) GetPlanDetail(ctx context.Context, planID int64) (*types.TravelPlanDetail, error) {
	ctx, span := otel.Tracer("TripService").Start(ctx, "GetPlanDetail", trace.WithAttributes(
		attribute.Int64("plan.id", planID),
	))
	defer span.End()

	plan, err := s.repo.GetTravelPlan(ctx, planID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}

	flights, err := s.repo.GetFlights(ctx, planID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	accommodations, err := s.repo.GetAccommodations(ctx, planID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	days, err := s.repo.GetItineraryDays(ctx, planID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "Plan detail loaded")
	return &types.TravelPlanDetail{
		TravelPlan:     *plan,
		Flights:        flights,
		Accommodations: accommodations,
		ItineraryDays:  days,
	}, nil
}

func (s *ServiceImpl) ListPlans(ctx context.Context, userID int64) ([]types.TravelPlan, error) {
	if userID == 0 {
		userID = 1
	}
	return s.repo.ListTravelPlans(ctx, userID)
}

func (s *ServiceImpl) DeletePlan(ctx context.Context, planID int64) error {
	return s.repo.DeleteTravelPlan(ctx, planID)
}

func parseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseDatePtr is the lenient variant: unparseable dates become nil so a bad
// check-in date drops the anchor, not the record.
func parseDatePtr(value string) *time.Time {
	t, err := parseDate(value)
	if err != nil {
		return nil
	}
	return t
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseDateTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
