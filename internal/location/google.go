package location

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"googlemaps.github.io/maps"
)

// GoogleClient wraps the Google Maps web service client for overseas
// destinations.
type GoogleClient struct {
	client *maps.Client
	logger *slog.Logger
}

func NewGoogleClient(apiKey string, logger *slog.Logger) (*GoogleClient, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google maps: create client: %w", err)
	}
	return &GoogleClient{
		client: client,
		logger: logger.With(slog.String("component", "GoogleMapsClient")),
	}, nil
}

// Geocode resolves an address, returning (nil, nil) when nothing matches.
func (c *GoogleClient) Geocode(ctx context.Context, address, city string) (*GeocodeResult, error) {
	query := address
	if city != "" && !strings.Contains(address, city) {
		query = city + " " + address
	}
	results, err := c.client.Geocode(ctx, &maps.GeocodingRequest{Address: query})
	if err != nil {
		return nil, fmt.Errorf("google maps: geocode: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &GeocodeResult{
		Latitude:         results[0].Geometry.Location.Lat,
		Longitude:        results[0].Geometry.Location.Lng,
		FormattedAddress: results[0].FormattedAddress,
	}, nil
}

// SearchAttractions text-searches tourist attractions for a city.
func (c *GoogleClient) SearchAttractions(ctx context.Context, city string) ([]Place, error) {
	resp, err := c.client.TextSearch(ctx, &maps.TextSearchRequest{
		Query:    city + " tourist attractions",
		Language: "zh-CN",
		Type:     "tourist_attraction",
	})
	if err != nil {
		return nil, fmt.Errorf("google maps: attraction search: %w", err)
	}
	places := make([]Place, 0, len(resp.Results))
	for _, r := range resp.Results {
		p := googlePlace(r)
		if len(r.Types) > 0 {
			p.Category = r.Types[0]
		}
		places = append(places, p)
	}
	return places, nil
}

// SearchRestaurants text-searches restaurants for a city.
func (c *GoogleClient) SearchRestaurants(ctx context.Context, city string) ([]Place, error) {
	resp, err := c.client.TextSearch(ctx, &maps.TextSearchRequest{
		Query:    city + " restaurants",
		Language: "zh-CN",
		Type:     "restaurant",
	})
	if err != nil {
		return nil, fmt.Errorf("google maps: restaurant search: %w", err)
	}
	places := make([]Place, 0, len(resp.Results))
	for _, r := range resp.Results {
		p := googlePlace(r)
		if len(r.Types) > 0 {
			p.CuisineType = r.Types[0]
		}
		if r.PriceLevel > 0 {
			p.PriceRange = strings.Repeat("$", r.PriceLevel)
		}
		places = append(places, p)
	}
	return places, nil
}

func googlePlace(r maps.PlacesSearchResult) Place {
	p := Place{
		Name:    r.Name,
		Address: r.FormattedAddress,
	}
	lat := r.Geometry.Location.Lat
	lng := r.Geometry.Location.Lng
	if lat != 0 || lng != 0 {
		p.Latitude = &lat
		p.Longitude = &lng
	}
	if r.Rating > 0 {
		rating := float64(r.Rating)
		p.Rating = &rating
	}
	return p
}
