package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lvtu-ai/travel-planner/config"
	"github.com/lvtu-ai/travel-planner/internal/api/itinerary"
	"github.com/lvtu-ai/travel-planner/internal/api/recommend"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

func benchLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func benchTripRequest(days int) *types.TripRequest {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	return &types.TripRequest{
		PlanID:          1,
		Destination:     "杭州",
		StartDate:       start,
		EndDate:         start.AddDate(0, 0, days-1),
		Days:            days,
		Interests:       []string{"历史", "自然"},
		FoodPreferences: []string{"杭帮菜"},
		Travelers:       "情侣",
		BudgetMin:       2000,
		BudgetMax:       6000,
		Notes: []types.NoteRef{
			{URL: "https://www.xiaohongshu.com/note/abc123", Title: "杭州三日游攻略", Content: "西湖要赶在七点前上苏堤，灵隐寺下午人少。"},
		},
	}
}

func benchRecommendations() *types.Recommendations {
	return &types.Recommendations{
		Attractions: []types.Attraction{
			{City: "杭州", Name: "西湖", Latitude: floatPtr(30.2424), Longitude: floatPtr(120.1507)},
			{City: "杭州", Name: "灵隐寺", Latitude: floatPtr(30.2410), Longitude: floatPtr(120.0963)},
			{City: "杭州", Name: "宋城", Latitude: floatPtr(30.1983), Longitude: floatPtr(120.1089)},
		},
		Restaurants: []types.Restaurant{
			{City: "杭州", Name: "楼外楼", CuisineType: "杭帮菜", PriceRange: "人均150元", Latitude: floatPtr(30.2500), Longitude: floatPtr(120.1400)},
			{City: "杭州", Name: "绿茶餐厅", CuisineType: "杭帮菜", PriceRange: "人均80元", Latitude: floatPtr(30.2560), Longitude: floatPtr(120.1480)},
		},
	}
}

// setupBenchPipeline builds the generation service over the in-memory stack
// and returns it with a request for the seeded plan.
func setupBenchPipeline(streaming bool) (*itinerary.ServiceImpl, *types.GenerateItineraryRequest) {
	logger := benchLogger()

	cfg := &config.Config{}
	cfg.LLM.Provider = "deepseek"
	cfg.LLM.Streaming = streaming

	repo := newMemoryRepo()
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	checkOut := start.AddDate(0, 0, 2)
	planID, _ := repo.CreateTravelPlan(context.Background(), &types.TravelPlan{
		Destination: "杭州",
		StartDate:   &start,
		EndDate:     &end,
		Travelers:   "情侣",
	}, nil, []types.Accommodation{
		{Name: "西子湖四季酒店", CheckInDate: &start, CheckOutDate: &checkOut, Latitude: floatPtr(30.2300), Longitude: floatPtr(120.1600)},
	})

	recommendService := recommend.NewService(repo, cannedSearcher{}, logger)
	service := itinerary.NewService(cfg, newScriptedLLM(), repo, recommendService, fixedGeocoder{}, logger)

	return service, &types.GenerateItineraryRequest{TravelPlanID: planID}
}

// BenchmarkBuildPrompt benchmarks prompt construction for a five-day trip
func BenchmarkBuildPrompt(b *testing.B) {
	trip := benchTripRequest(5)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = itinerary.BuildPrompt(trip)
	}
}

// BenchmarkParseFencedReply benchmarks parsing a well-formed fenced reply
func BenchmarkParseFencedReply(b *testing.B) {
	reply := "```json\n" + e2ePlanJSON + "\n```"

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = itinerary.Parse(reply, 2)
	}
}

// BenchmarkParseSalvagedReply benchmarks parsing a reply wrapped in prose
func BenchmarkParseSalvagedReply(b *testing.B) {
	reply := "根据您的需求，我为您规划了如下行程：\n" + e2ePlanJSON + "\n祝您旅途愉快！"

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = itinerary.Parse(reply, 2)
	}
}

// BenchmarkParseUnstructuredReply benchmarks the fallback for replies without JSON
func BenchmarkParseUnstructuredReply(b *testing.B) {
	reply := "抱歉，我无法输出结构化数据。建议第一天游览西湖，第二天去灵隐寺，晚上看宋城演出。"

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = itinerary.Parse(reply, 3)
	}
}

// BenchmarkReconcileDay benchmarks reconciling one parsed day against the pools
func BenchmarkReconcileDay(b *testing.B) {
	logger := benchLogger()
	trip := benchTripRequest(2)
	parsed := itinerary.Parse("```json\n"+e2ePlanJSON+"\n```", 2)
	reconciler := itinerary.NewReconciler(logger, fixedGeocoder{}, trip, benchRecommendations(), nil, nil)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = reconciler.ReconcileDay(ctx, parsed, 1)
	}
}

// BenchmarkSynthesizeDay benchmarks building a day entirely from the pools
func BenchmarkSynthesizeDay(b *testing.B) {
	logger := benchLogger()
	trip := benchTripRequest(3)
	reconciler := itinerary.NewReconciler(logger, fixedGeocoder{}, trip, benchRecommendations(), nil, nil)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		// A fresh empty map forces the synthesis path every iteration.
		parsed := types.ParsedItinerary{}
		_ = reconciler.ReconcileDay(ctx, parsed, 2)
	}
}

// BenchmarkGenerateItinerary benchmarks one full generation run end to end
func BenchmarkGenerateItinerary(b *testing.B) {
	service, req := setupBenchPipeline(false)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := service.GenerateItinerary(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkGenerateItineraryStreaming benchmarks a full run with token streaming
func BenchmarkGenerateItineraryStreaming(b *testing.B) {
	service, req := setupBenchPipeline(true)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := service.GenerateItinerary(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkStreamEndpoint benchmarks the SSE handler over the router
func BenchmarkStreamEndpoint(b *testing.B) {
	service, req := setupBenchPipeline(true)
	handler := itinerary.NewHandler(service, &recordingEnqueuer{}, benchLogger())

	r := chi.NewRouter()
	r.Post("/travel-plans/{planID}/generate-itinerary/stream", handler.GenerateItineraryStream)
	path := fmt.Sprintf("/travel-plans/%d/generate-itinerary/stream", req.TravelPlanID)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		httpReq := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httpReq)
		if w.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", w.Code)
		}
	}
}
