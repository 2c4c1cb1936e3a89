// Package location provides geocoding and city-level place search over two
// providers: Amap for domestic destinations, Google Maps elsewhere. Results
// are cached in-memory by input so repeated lookups within a generation run
// never hit the provider twice.
package location

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/lvtu-ai/travel-planner/app/observability/metrics"
	"github.com/lvtu-ai/travel-planner/config"
)

// GeocodeResult is one resolved address.
type GeocodeResult struct {
	Latitude         float64 `json:"lat"`
	Longitude        float64 `json:"lng"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
}

// Place is one search hit, shared by both providers.
type Place struct {
	Name        string
	Address     string
	Description string
	Category    string
	CuisineType string
	PriceRange  string
	Latitude    *float64
	Longitude   *float64
	Rating      *float64
}

// Provider is one upstream geocoding/search backend.
type Provider interface {
	Geocode(ctx context.Context, address, city string) (*GeocodeResult, error)
	SearchAttractions(ctx context.Context, city string) ([]Place, error)
	SearchRestaurants(ctx context.Context, city string) ([]Place, error)
}

// Client routes lookups to the right provider and caches results.
type Client struct {
	logger *slog.Logger
	cache  *cache.Cache
	amap   Provider
	google Provider
}

// New builds the facade from config. A provider whose API key is absent stays
// nil and the other one takes all traffic.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	ttl := cfg.Maps.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Client{
		logger: logger.With(slog.String("component", "LocationClient")),
		cache:  cache.New(ttl, 10*time.Minute),
	}
	if key := os.Getenv("AMAP_API_KEY"); key != "" {
		c.amap = NewAmapClient(cfg.Maps.AmapBaseURL, key, logger)
	}
	if key := os.Getenv("GOOGLE_MAPS_API_KEY"); key != "" {
		g, err := NewGoogleClient(key, logger)
		if err != nil {
			logger.Warn("Failed to create google maps client", slog.Any("error", err))
		} else {
			c.google = g
		}
	}
	return c
}

// NewWithProviders wires explicit providers; used by tests and anywhere the
// env-driven construction does not apply.
func NewWithProviders(amap, google Provider, ttl time.Duration, logger *slog.Logger) *Client {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		logger: logger.With(slog.String("component", "LocationClient")),
		cache:  cache.New(ttl, 10*time.Minute),
		amap:   amap,
		google: google,
	}
}

// Geocode resolves an address to coordinates, or (nil, nil) when the provider
// has no match. hintCity picks the provider and narrows the provider query.
func (c *Client) Geocode(ctx context.Context, address, hintCity string) (*GeocodeResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	key := "geo:" + address
	if cached, ok := c.cache.Get(key); ok {
		metrics.Get().GeocodeCacheHitsTotal.Add(ctx, 1)
		return cached.(*GeocodeResult), nil
	}

	pick := hintCity
	if pick == "" {
		pick = address
	}
	p := c.provider(pick)
	if p == nil {
		return nil, fmt.Errorf("location: no geocoding provider configured")
	}

	metrics.Get().GeocodeLookupsTotal.Add(ctx, 1)
	res, err := p.Geocode(ctx, address, hintCity)
	if err != nil {
		return nil, err
	}
	if res != nil {
		c.cache.SetDefault(key, res)
	}
	return res, nil
}

// SearchAttractions returns scenic spots for a city.
func (c *Client) SearchAttractions(ctx context.Context, city string) ([]Place, error) {
	return c.search(ctx, "attr:"+city, city, Provider.SearchAttractions)
}

// SearchRestaurants returns dining places for a city.
func (c *Client) SearchRestaurants(ctx context.Context, city string) ([]Place, error) {
	return c.search(ctx, "rest:"+city, city, Provider.SearchRestaurants)
}

func (c *Client) search(ctx context.Context, key, city string, fn func(Provider, context.Context, string) ([]Place, error)) ([]Place, error) {
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]Place), nil
	}
	p := c.provider(city)
	if p == nil {
		return nil, fmt.Errorf("location: no search provider configured")
	}
	places, err := fn(p, ctx, city)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, places)
	return places, nil
}

func (c *Client) provider(name string) Provider {
	if IsDomestic(name) {
		if c.amap != nil {
			return c.amap
		}
		return c.google
	}
	if c.google != nil {
		return c.google
	}
	return c.amap
}

var domesticKeywords = []string{
	"中国", "china",
	"北京", "上海", "广州", "深圳", "杭州", "南京", "苏州", "成都", "重庆",
	"西安", "武汉", "长沙", "厦门", "青岛", "大连", "天津", "昆明", "丽江",
	"大理", "桂林", "三亚", "哈尔滨", "郑州", "合肥", "南昌", "福州", "贵阳",
	"兰州", "西宁", "银川", "乌鲁木齐", "拉萨", "南宁", "海口", "沈阳", "长春",
	"石家庄", "太原", "济南", "宁波", "无锡", "佛山", "东莞", "香港", "澳门",
	"广东", "浙江", "江苏", "四川", "云南", "陕西", "湖北", "湖南", "福建",
	"山东", "海南", "广西", "贵州", "甘肃", "青海", "新疆", "西藏", "内蒙古",
	"黑龙江", "吉林", "辽宁", "河北", "河南", "山西", "安徽", "江西",
}

// IsDomestic reports whether a destination looks like a mainland-coverage
// location, which routes it to Amap.
func IsDomestic(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range domesticKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
