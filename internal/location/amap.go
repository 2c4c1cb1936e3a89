package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// Amap POI type codes: scenic spots and dining.
	amapTypeScenic = "110000"
	amapTypeDining = "050000"

	amapPageSize = "25"
)

// AmapClient talks to the Amap web service REST API.
type AmapClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

func NewAmapClient(baseURL, apiKey string, logger *slog.Logger) *AmapClient {
	if baseURL == "" {
		baseURL = "https://restapi.amap.com"
	}
	return &AmapClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger.With(slog.String("component", "AmapClient")),
	}
}

type amapGeocodeResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Geocodes []struct {
		Location         string `json:"location"`
		FormattedAddress string `json:"formatted_address"`
	} `json:"geocodes"`
}

type amapPOI struct {
	Name     string          `json:"name"`
	Location string          `json:"location"`
	Address  json.RawMessage `json:"address"`
	Type     string          `json:"type"`
	BizExt   struct {
		Rating json.RawMessage `json:"rating"`
		Cost   json.RawMessage `json:"cost"`
	} `json:"biz_ext"`
}

type amapPlaceResponse struct {
	Status string    `json:"status"`
	Info   string    `json:"info"`
	Pois   []amapPOI `json:"pois"`
}

func (c *AmapClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	params.Set("key", c.apiKey)
	params.Set("output", "json")
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("amap: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("amap: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("amap: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("amap: decode response: %w", err)
	}
	return nil
}

// Geocode resolves an address via /v3/geocode/geo. Returns (nil, nil) when
// Amap has no candidate for the address.
func (c *AmapClient) Geocode(ctx context.Context, address, city string) (*GeocodeResult, error) {
	params := url.Values{}
	params.Set("address", address)
	if city != "" {
		params.Set("city", city)
	}

	var body amapGeocodeResponse
	if err := c.get(ctx, "/v3/geocode/geo", params, &body); err != nil {
		return nil, err
	}
	if body.Status != "1" {
		return nil, fmt.Errorf("amap: geocode failed: %s", body.Info)
	}
	if len(body.Geocodes) == 0 {
		return nil, nil
	}

	lng, lat, ok := parseAmapLocation(body.Geocodes[0].Location)
	if !ok {
		c.logger.Warn("Unparseable amap location", slog.String("location", body.Geocodes[0].Location))
		return nil, nil
	}
	return &GeocodeResult{
		Latitude:         lat,
		Longitude:        lng,
		FormattedAddress: body.Geocodes[0].FormattedAddress,
	}, nil
}

// SearchAttractions lists scenic POIs for a city via /v3/place/text.
func (c *AmapClient) SearchAttractions(ctx context.Context, city string) ([]Place, error) {
	pois, err := c.placeSearch(ctx, city, amapTypeScenic)
	if err != nil {
		return nil, err
	}
	places := make([]Place, 0, len(pois))
	for _, poi := range pois {
		p := c.basePlace(poi)
		p.Category = firstSegment(poi.Type)
		places = append(places, p)
	}
	return places, nil
}

// SearchRestaurants lists dining POIs for a city via /v3/place/text.
func (c *AmapClient) SearchRestaurants(ctx context.Context, city string) ([]Place, error) {
	pois, err := c.placeSearch(ctx, city, amapTypeDining)
	if err != nil {
		return nil, err
	}
	places := make([]Place, 0, len(pois))
	for _, poi := range pois {
		p := c.basePlace(poi)
		p.CuisineType = lastSegment(poi.Type)
		if cost := rawLeafString(poi.BizExt.Cost); cost != "" {
			p.PriceRange = fmt.Sprintf("人均%s元", cost)
		}
		places = append(places, p)
	}
	return places, nil
}

func (c *AmapClient) placeSearch(ctx context.Context, city, poiType string) ([]amapPOI, error) {
	params := url.Values{}
	params.Set("city", city)
	params.Set("types", poiType)
	params.Set("citylimit", "true")
	params.Set("offset", amapPageSize)
	params.Set("page", "1")
	params.Set("extensions", "all")

	var body amapPlaceResponse
	if err := c.get(ctx, "/v3/place/text", params, &body); err != nil {
		return nil, err
	}
	if body.Status != "1" {
		return nil, fmt.Errorf("amap: place search failed: %s", body.Info)
	}
	return body.Pois, nil
}

func (c *AmapClient) basePlace(poi amapPOI) Place {
	p := Place{
		Name:    poi.Name,
		Address: rawLeafString(poi.Address),
	}
	if lng, lat, ok := parseAmapLocation(poi.Location); ok {
		p.Latitude = &lat
		p.Longitude = &lng
	}
	if r, err := strconv.ParseFloat(rawLeafString(poi.BizExt.Rating), 64); err == nil {
		p.Rating = &r
	}
	return p
}

// parseAmapLocation splits Amap's "lng,lat" coordinate string.
func parseAmapLocation(loc string) (lng, lat float64, ok bool) {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLng != nil || errLat != nil {
		return 0, 0, false
	}
	return lng, lat, true
}

// rawLeafString extracts a scalar from fields Amap serializes inconsistently,
// as a string, a number, or an empty array when absent.
func rawLeafString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

func firstSegment(s string) string {
	if i := strings.Index(s, ";"); i >= 0 {
		return s[:i]
	}
	return s
}

func lastSegment(s string) string {
	if i := strings.LastIndex(s, ";"); i >= 0 {
		return s[i+1:]
	}
	return s
}
