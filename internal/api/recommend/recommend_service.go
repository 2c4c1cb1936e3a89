// Package recommend serves city-level attraction and restaurant
// recommendations. Reads prefer the stored pool and fall back to a live
// provider search whose results are persisted for the next caller.
package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lvtu-ai/travel-planner/internal/location"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

// Store is the persistence surface; implemented by the trip repository.
type Store interface {
	GetTravelPlan(ctx context.Context, planID int64) (*types.TravelPlan, error)
	SearchAttractions(ctx context.Context, city string) ([]types.Attraction, error)
	SearchRestaurants(ctx context.Context, city string) ([]types.Restaurant, error)
	SaveAttractions(ctx context.Context, city string, items []types.Attraction) error
	SaveRestaurants(ctx context.Context, city string, items []types.Restaurant) error
}

// Searcher is the live place-search surface; implemented by the location client.
type Searcher interface {
	SearchAttractions(ctx context.Context, city string) ([]location.Place, error)
	SearchRestaurants(ctx context.Context, city string) ([]location.Place, error)
	Geocode(ctx context.Context, address, hintCity string) (*location.GeocodeResult, error)
}

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	GetRecommendations(ctx context.Context, planID int64) (*types.Recommendations, error)
	Recommend(ctx context.Context, destination string, interests, foodPreferences []string) (*types.Recommendations, error)
	WarmAttractions(ctx context.Context, city string) error
	WarmRestaurants(ctx context.Context, city string) error
}

type ServiceImpl struct {
	logger   *slog.Logger
	store    Store
	searcher Searcher
}

func NewService(store Store, searcher Searcher, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:   logger,
		store:    store,
		searcher: searcher,
	}
}

// GetRecommendations resolves a plan and recommends for its destination,
// filtered by the plan's interests and food preferences. Returns (nil, nil)
// when the plan does not exist.
func (s *ServiceImpl) GetRecommendations(ctx context.Context, planID int64) (*types.Recommendations, error) {
	plan, err := s.store.GetTravelPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}
	return s.Recommend(ctx, plan.Destination, plan.Interests, plan.FoodPreferences)
}

// Recommend returns both pools for a destination. Preference filters narrow a
// pool only when they actually match something; a filter that would empty the
// pool is ignored so the itinerary always has material to work with.
func (s *ServiceImpl) Recommend(ctx context.Context, destination string, interests, foodPreferences []string) (*types.Recommendations, error) {
	ctx, span := otel.Tracer("RecommendService").Start(ctx, "Recommend", trace.WithAttributes(
		attribute.String("destination", destination),
	))
	defer span.End()

	attractions, err := s.ensureAttractions(ctx, destination)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load attractions")
		return nil, err
	}
	restaurants, err := s.ensureRestaurants(ctx, destination)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load restaurants")
		return nil, err
	}

	attractions = filterAttractions(attractions, interests)
	restaurants = filterRestaurants(restaurants, foodPreferences)

	s.backfillAttractionCoords(ctx, destination, attractions)
	s.backfillRestaurantCoords(ctx, destination, restaurants)

	span.SetAttributes(
		attribute.Int("attractions.count", len(attractions)),
		attribute.Int("restaurants.count", len(restaurants)),
	)
	span.SetStatus(codes.Ok, "Recommendations ready")
	return &types.Recommendations{
		Attractions: attractions,
		Restaurants: restaurants,
	}, nil
}

// WarmAttractions fills the stored pool for a city when it is empty.
func (s *ServiceImpl) WarmAttractions(ctx context.Context, city string) error {
	_, err := s.ensureAttractions(ctx, city)
	return err
}

// WarmRestaurants fills the stored pool for a city when it is empty.
func (s *ServiceImpl) WarmRestaurants(ctx context.Context, city string) error {
	_, err := s.ensureRestaurants(ctx, city)
	return err
}

func (s *ServiceImpl) ensureAttractions(ctx context.Context, city string) ([]types.Attraction, error) {
	stored, err := s.store.SearchAttractions(ctx, city)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		return stored, nil
	}
	if s.searcher == nil {
		return stored, nil
	}

	places, err := s.searcher.SearchAttractions(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("attraction search for %q failed: %w", city, err)
	}
	attractions := make([]types.Attraction, 0, len(places))
	for _, p := range places {
		attractions = append(attractions, types.Attraction{
			City:        city,
			Name:        p.Name,
			Description: p.Description,
			Address:     p.Address,
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			Category:    p.Category,
			Rating:      p.Rating,
		})
	}
	if err := s.store.SaveAttractions(ctx, city, attractions); err != nil {
		s.logger.WarnContext(ctx, "Failed to persist searched attractions",
			slog.String("city", city), slog.Any("error", err))
	}
	return attractions, nil
}

func (s *ServiceImpl) ensureRestaurants(ctx context.Context, city string) ([]types.Restaurant, error) {
	stored, err := s.store.SearchRestaurants(ctx, city)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		return stored, nil
	}
	if s.searcher == nil {
		return stored, nil
	}

	places, err := s.searcher.SearchRestaurants(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("restaurant search for %q failed: %w", city, err)
	}
	restaurants := make([]types.Restaurant, 0, len(places))
	for _, p := range places {
		restaurants = append(restaurants, types.Restaurant{
			City:        city,
			Name:        p.Name,
			Description: p.Description,
			Address:     p.Address,
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			CuisineType: p.CuisineType,
			PriceRange:  p.PriceRange,
			Rating:      p.Rating,
		})
	}
	if err := s.store.SaveRestaurants(ctx, city, restaurants); err != nil {
		s.logger.WarnContext(ctx, "Failed to persist searched restaurants",
			slog.String("city", city), slog.Any("error", err))
	}
	return restaurants, nil
}

func filterAttractions(items []types.Attraction, interests []string) []types.Attraction {
	if len(interests) == 0 {
		return items
	}
	matched := make([]types.Attraction, 0, len(items))
	for _, item := range items {
		if matchesAny(interests, item.Name, item.Description, item.Category) {
			matched = append(matched, item)
		}
	}
	if len(matched) == 0 {
		return items
	}
	return matched
}

func filterRestaurants(items []types.Restaurant, preferences []string) []types.Restaurant {
	if len(preferences) == 0 {
		return items
	}
	matched := make([]types.Restaurant, 0, len(items))
	for _, item := range items {
		if matchesAny(preferences, item.Name, item.Description, item.CuisineType) {
			matched = append(matched, item)
		}
	}
	if len(matched) == 0 {
		return items
	}
	return matched
}

func matchesAny(terms []string, fields ...string) bool {
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		for _, field := range fields {
			if field != "" && strings.Contains(strings.ToLower(field), term) {
				return true
			}
		}
	}
	return false
}

func (s *ServiceImpl) backfillAttractionCoords(ctx context.Context, city string, items []types.Attraction) {
	if s.searcher == nil {
		return
	}
	for i := range items {
		if items[i].Latitude != nil && items[i].Longitude != nil {
			continue
		}
		loc := s.geocode(ctx, city, items[i].Name)
		if loc != nil {
			items[i].Latitude, items[i].Longitude = &loc.Latitude, &loc.Longitude
		}
	}
}

func (s *ServiceImpl) backfillRestaurantCoords(ctx context.Context, city string, items []types.Restaurant) {
	if s.searcher == nil {
		return
	}
	for i := range items {
		if items[i].Latitude != nil && items[i].Longitude != nil {
			continue
		}
		loc := s.geocode(ctx, city, items[i].Name)
		if loc != nil {
			items[i].Latitude, items[i].Longitude = &loc.Latitude, &loc.Longitude
		}
	}
}

func (s *ServiceImpl) geocode(ctx context.Context, city, name string) *location.GeocodeResult {
	if name == "" {
		return nil
	}
	loc, err := s.searcher.Geocode(ctx, city+" "+name, city)
	if err != nil {
		s.logger.WarnContext(ctx, "Recommendation geocode failed",
			slog.String("city", city), slog.String("name", name), slog.Any("error", err))
		return nil
	}
	return loc
}
