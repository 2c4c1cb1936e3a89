package itinerary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lvtu-ai/travel-planner/app/observability/metrics"
	"github.com/lvtu-ai/travel-planner/config"
	"github.com/lvtu-ai/travel-planner/internal/llm"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

func TestMain(m *testing.M) {
	metrics.InitAppMetrics()
	os.Exit(m.Run())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetTravelPlan(ctx context.Context, planID int64) (*types.TravelPlan, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.TravelPlan), args.Error(1)
}

func (m *MockStore) GetFlights(ctx context.Context, planID int64) ([]types.Flight, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Flight), args.Error(1)
}

func (m *MockStore) GetAccommodations(ctx context.Context, planID int64) ([]types.Accommodation, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Accommodation), args.Error(1)
}

func (m *MockStore) UpsertDayDetail(ctx context.Context, day *types.ItineraryDay) error {
	args := m.Called(ctx, day)
	return args.Error(0)
}

func (m *MockStore) SaveLlmInteraction(ctx context.Context, rec *types.LlmInteraction) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// MockRecommender is a mock implementation of Recommender
type MockRecommender struct {
	mock.Mock
}

func (m *MockRecommender) Recommend(ctx context.Context, destination string, interests, foodPreferences []string) (*types.Recommendations, error) {
	args := m.Called(ctx, destination, interests, foodPreferences)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Recommendations), args.Error(1)
}

var (
	_ Store       = (*MockStore)(nil)
	_ Recommender = (*MockRecommender)(nil)
	_ llm.Client  = (*fakeLLM)(nil)
)

// fakeLLM is a canned-response client. Generate returns text, GenerateStream
// replays chunks and then chunkErr if set. streamErr fails the stream open.
type fakeLLM struct {
	mu          sync.Mutex
	text        string
	genErr      error
	chunks      []string
	chunkErr    error
	streamErr   error
	genCalls    int
	streamCalls int
}

func (f *fakeLLM) Provider() string { return "fake" }

func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genCalls++
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.text, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan llm.StreamChunk, len(f.chunks)+1)
	for _, tok := range f.chunks {
		ch <- llm.StreamChunk{Token: tok}
	}
	if f.chunkErr != nil {
		ch <- llm.StreamChunk{Err: f.chunkErr}
	}
	close(ch)
	return ch, nil
}

func setupStreamTest(streaming bool, client llm.Client) (*ServiceImpl, *MockStore, *MockRecommender) {
	cfg := &config.Config{}
	cfg.LLM.Streaming = streaming
	mockStore := new(MockStore)
	mockRecommender := new(MockRecommender)
	service := NewService(cfg, client, mockStore, mockRecommender, &stubGeocoder{}, testLogger())
	return service, mockStore, mockRecommender
}

func storedPlan(days int) *types.TravelPlan {
	start := date(2025, 6, 1)
	end := start.AddDate(0, 0, days-1)
	return &types.TravelPlan{
		ID:          7,
		UserID:      1,
		Destination: "杭州",
		StartDate:   &start,
		EndDate:     &end,
		Travelers:   "情侣",
		Interests:   []string{"历史"},
	}
}

// llmDayJSON builds a well-formed model reply with one spot and one
// restaurant per day, coordinates included so nothing needs geocoding.
func llmDayJSON(days int) string {
	var b strings.Builder
	b.WriteString("{")
	for d := 1; d <= days; d++ {
		if d > 1 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b,
			`"day_%d": {"theme": "第%d天主题", "schedule": {"morning": [{"type": "spot", "name": "景点%d", "lat": 30.1, "lng": 120.1}], "afternoon": [{"type": "restaurant", "name": "餐厅%d", "cuisine": "杭帮菜", "lat": 30.2, "lng": 120.2}], "evening": []}}`,
			d, d, d, d)
	}
	b.WriteString("}")
	return b.String()
}

// collectEvents drains the stream until it closes, which also means the
// generation goroutine has finished.
func collectEvents(t *testing.T, resp *types.StreamingResponse) []types.StreamEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var events []types.StreamEvent
	for {
		select {
		case ev, ok := <-resp.Stream:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("stream did not close in time")
		}
	}
}

func eventTypes(events []types.StreamEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func progressStages(events []types.StreamEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == types.EventTypeProgress {
			out = append(out, ev.Data.(types.ProgressEvent).Stage)
		}
	}
	return out
}

func dayNumbers(events []types.StreamEvent) []int {
	var out []int
	for _, ev := range events {
		if ev.Type == types.EventTypeDay {
			out = append(out, ev.Data.(types.DayEvent).DayNumber)
		}
	}
	return out
}

func TestGenerateItineraryStreamEventOrder(t *testing.T) {
	reply := llmDayJSON(2)
	cut := strings.Index(reply, `"day_2"`)
	client := &fakeLLM{chunks: []string{reply[:cut], "", reply[cut:]}}
	service, mockStore, mockRecommender := setupStreamTest(true, client)

	mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(storedPlan(2), nil).Once()
	mockStore.On("SaveLlmInteraction", mock.Anything, mock.Anything).Return(nil).Once()
	mockStore.On("GetFlights", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("GetAccommodations", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("UpsertDayDetail", mock.Anything, mock.Anything).Return(nil).Times(2)
	mockRecommender.On("Recommend", mock.Anything, "杭州", mock.Anything, mock.Anything).Return(testRecs(), nil).Once()

	resp, err := service.GenerateItineraryStream(context.Background(), &types.GenerateItineraryRequest{TravelPlanID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.PlanID)

	events := collectEvents(t, resp)

	// The empty chunk is skipped, so exactly two token events appear.
	assert.Equal(t, []string{
		types.EventTypeStarted,
		types.EventTypeHeartbeat,
		types.EventTypeProgress,
		types.EventTypeToken,
		types.EventTypeToken,
		types.EventTypeProgress,
		types.EventTypeProgress,
		types.EventTypeProgress,
		types.EventTypeProgress,
		types.EventTypeDay,
		types.EventTypeDay,
		types.EventTypeResult,
	}, eventTypes(events))
	assert.Equal(t, []string{
		types.StageLlmStreamStart,
		types.StageLlmStreamEnd,
		types.StageParseJSON,
		types.StageFetchRecommendations,
		types.StagePersist,
	}, progressStages(events))
	assert.Equal(t, []int{1, 2}, dayNumbers(events))

	for _, ev := range events {
		assert.NotEmpty(t, ev.EventID)
		assert.False(t, ev.Timestamp.IsZero())
	}

	started := events[0].Data.(types.StartedEvent)
	assert.Equal(t, int64(7), started.TravelPlanID)
	assert.Equal(t, "杭州", started.Destination)
	assert.Positive(t, events[1].Data.(types.HeartbeatEvent).Ts)
	assert.Equal(t, reply[:cut], events[3].Data.(types.TokenEvent).Delta)
	assert.Equal(t, reply[cut:], events[4].Data.(types.TokenEvent).Delta)

	day1 := events[9].Data.(types.DayEvent)
	assert.Equal(t, "2025-06-01", day1.Date)
	assert.Equal(t, "第1天主题", day1.Theme)
	require.Len(t, day1.Items["morning"], 1)
	assert.Equal(t, "spot_1_0", day1.Items["morning"][0].UniqueID)

	last := events[len(events)-1]
	assert.True(t, last.IsFinal)
	result := last.Data.(types.ItineraryResult)
	assert.True(t, result.Success)
	assert.Equal(t, int64(7), result.TravelPlanID)
	assert.Equal(t, 2, result.Days)
	require.Len(t, result.Itinerary, 2)
	assert.Equal(t, "第1天主题", result.Itinerary[0].Theme)
	assert.Len(t, result.Attractions, 3)
	assert.Len(t, result.Restaurants, 1)

	assert.Equal(t, 1, client.streamCalls)
	assert.Zero(t, client.genCalls)
	mockStore.AssertExpectations(t)
	mockRecommender.AssertExpectations(t)
}

func TestGenerateItineraryStreamPersistFailureShortCircuits(t *testing.T) {
	client := &fakeLLM{text: llmDayJSON(5)}
	service, mockStore, mockRecommender := setupStreamTest(false, client)

	mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(storedPlan(5), nil).Once()
	mockStore.On("SaveLlmInteraction", mock.Anything, mock.Anything).Return(nil).Once()
	mockStore.On("GetFlights", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("GetAccommodations", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("UpsertDayDetail", mock.Anything, mock.Anything).Return(nil).Once()
	mockStore.On("UpsertDayDetail", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
	mockRecommender.On("Recommend", mock.Anything, "杭州", mock.Anything, mock.Anything).Return(testRecs(), nil).Once()

	resp, err := service.GenerateItineraryStream(context.Background(), &types.GenerateItineraryRequest{TravelPlanID: 7})
	require.NoError(t, err)

	events := collectEvents(t, resp)

	// Day 1 made it out; day 2 failed to persist, so the stream ends on the
	// error event with no further day events and no result.
	assert.Equal(t, []int{1}, dayNumbers(events))
	last := events[len(events)-1]
	assert.Equal(t, types.EventTypeError, last.Type)
	assert.True(t, last.IsFinal)
	assert.Contains(t, last.Error, "failed to persist day 2")
	for _, ev := range events {
		assert.NotEqual(t, types.EventTypeResult, ev.Type)
	}
	mockStore.AssertNumberOfCalls(t, "UpsertDayDetail", 2)
}

func TestGenerateItineraryStreamInvokeMode(t *testing.T) {
	reply := llmDayJSON(1)
	client := &fakeLLM{text: reply}
	service, mockStore, mockRecommender := setupStreamTest(false, client)

	mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(storedPlan(1), nil).Once()
	mockStore.On("SaveLlmInteraction", mock.Anything, mock.Anything).Return(nil).Once()
	mockStore.On("GetFlights", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("GetAccommodations", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("UpsertDayDetail", mock.Anything, mock.Anything).Return(nil).Once()
	// Recommendation failure degrades to empty pools without ending the run.
	mockRecommender.On("Recommend", mock.Anything, "杭州", mock.Anything, mock.Anything).Return(nil, errors.New("upstream down")).Once()

	resp, err := service.GenerateItineraryStream(context.Background(), &types.GenerateItineraryRequest{TravelPlanID: 7})
	require.NoError(t, err)

	events := collectEvents(t, resp)

	assert.Equal(t, []string{
		types.StageLlmInvoke,
		types.StageParseJSON,
		types.StageFetchRecommendations,
		types.StagePersist,
	}, progressStages(events))

	var tokens []string
	for _, ev := range events {
		if ev.Type == types.EventTypeToken {
			tokens = append(tokens, ev.Data.(types.TokenEvent).Delta)
		}
	}
	// Invoke mode emits the full text as a single token event.
	assert.Equal(t, []string{reply}, tokens)

	last := events[len(events)-1]
	require.Equal(t, types.EventTypeResult, last.Type)
	result := last.Data.(types.ItineraryResult)
	assert.True(t, result.Success)
	assert.Empty(t, result.Attractions)
	assert.Empty(t, result.Restaurants)

	assert.Equal(t, 1, client.genCalls)
	assert.Zero(t, client.streamCalls)
}

func TestGenerateItineraryStreamFallsBackToInvoke(t *testing.T) {
	client := &fakeLLM{streamErr: errors.New("streaming not supported"), text: llmDayJSON(1)}
	service, mockStore, mockRecommender := setupStreamTest(true, client)

	mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(storedPlan(1), nil).Once()
	// An audit failure is logged and swallowed.
	mockStore.On("SaveLlmInteraction", mock.Anything, mock.Anything).Return(errors.New("audit insert failed")).Once()
	mockStore.On("GetFlights", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("GetAccommodations", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("UpsertDayDetail", mock.Anything, mock.Anything).Return(nil).Once()
	mockRecommender.On("Recommend", mock.Anything, "杭州", mock.Anything, mock.Anything).Return(testRecs(), nil).Once()

	resp, err := service.GenerateItineraryStream(context.Background(), &types.GenerateItineraryRequest{TravelPlanID: 7})
	require.NoError(t, err)

	events := collectEvents(t, resp)

	stages := progressStages(events)
	assert.Contains(t, stages, types.StageLlmInvoke)
	assert.NotContains(t, stages, types.StageLlmStreamStart)
	assert.Equal(t, types.EventTypeResult, events[len(events)-1].Type)
	assert.Equal(t, 1, client.streamCalls)
	assert.Equal(t, 1, client.genCalls)
}

func TestGenerateItineraryStreamMidStreamError(t *testing.T) {
	client := &fakeLLM{chunks: []string{`{"day_1": {"theme": "西`}, chunkErr: errors.New("stream reset")}
	service, mockStore, _ := setupStreamTest(true, client)

	mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(storedPlan(1), nil).Once()

	resp, err := service.GenerateItineraryStream(context.Background(), &types.GenerateItineraryRequest{TravelPlanID: 7})
	require.NoError(t, err)

	events := collectEvents(t, resp)

	// The run dies inside the LLM phase: stream start was announced, but no
	// parsing or persistence stage ever runs.
	assert.Equal(t, []string{types.StageLlmStreamStart}, progressStages(events))
	last := events[len(events)-1]
	assert.Equal(t, types.EventTypeError, last.Type)
	assert.True(t, last.IsFinal)
	assert.Contains(t, last.Error, "stream reset")
	assert.Empty(t, dayNumbers(events))
	mockStore.AssertNotCalled(t, "UpsertDayDetail", mock.Anything, mock.Anything)
}

func TestGenerateItineraryStreamUnparsableReplySynthesizesDays(t *testing.T) {
	client := &fakeLLM{text: "很抱歉,我无法以JSON格式回答这个问题。"}
	service, mockStore, mockRecommender := setupStreamTest(false, client)

	mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(storedPlan(2), nil).Once()
	mockStore.On("SaveLlmInteraction", mock.Anything, mock.Anything).Return(nil).Once()
	mockStore.On("GetFlights", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("GetAccommodations", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("UpsertDayDetail", mock.Anything, mock.Anything).Return(nil).Times(2)
	mockRecommender.On("Recommend", mock.Anything, "杭州", mock.Anything, mock.Anything).Return(testRecs(), nil).Once()

	resp, err := service.GenerateItineraryStream(context.Background(), &types.GenerateItineraryRequest{TravelPlanID: 7})
	require.NoError(t, err)

	events := collectEvents(t, resp)

	assert.Equal(t, []int{1, 2}, dayNumbers(events))
	for _, ev := range events {
		if ev.Type != types.EventTypeDay {
			continue
		}
		day := ev.Data.(types.DayEvent)
		assert.Equal(t, fmt.Sprintf("第%d天行程", day.DayNumber), day.Theme)
		// Zero raw counts with populated groups marks a synthesized day.
		assert.Equal(t, types.SegmentCounts{}, day.Stats.Schedule)
		grouped := day.Stats.Grouped
		assert.Positive(t, grouped.Morning+grouped.Afternoon+grouped.Evening)
	}
	assert.Equal(t, types.EventTypeResult, events[len(events)-1].Type)
}

func TestGenerateItineraryStreamRequestDatesOverridePlan(t *testing.T) {
	client := &fakeLLM{text: llmDayJSON(2)}
	service, mockStore, mockRecommender := setupStreamTest(false, client)

	mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(storedPlan(5), nil).Once()
	mockStore.On("SaveLlmInteraction", mock.Anything, mock.Anything).Return(nil).Once()
	mockStore.On("GetFlights", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("GetAccommodations", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("UpsertDayDetail", mock.Anything, mock.Anything).Return(nil).Times(2)
	mockRecommender.On("Recommend", mock.Anything, "杭州", mock.Anything, mock.Anything).Return(testRecs(), nil).Once()

	resp, err := service.GenerateItineraryStream(context.Background(), &types.GenerateItineraryRequest{
		TravelPlanID: 7,
		StartDate:    "2025-07-01",
		EndDate:      "2025-07-02",
	})
	require.NoError(t, err)

	events := collectEvents(t, resp)

	var dates []string
	for _, ev := range events {
		if ev.Type == types.EventTypeDay {
			dates = append(dates, ev.Data.(types.DayEvent).Date)
		}
	}
	assert.Equal(t, []string{"2025-07-01", "2025-07-02"}, dates)

	last := events[len(events)-1]
	require.Equal(t, types.EventTypeResult, last.Type)
	assert.Equal(t, 2, last.Data.(types.ItineraryResult).Days)
	mockStore.AssertNumberOfCalls(t, "UpsertDayDetail", 2)
}

func TestGenerateItineraryStreamPlanNotFound(t *testing.T) {
	service, mockStore, _ := setupStreamTest(false, &fakeLLM{})

	mockStore.On("GetTravelPlan", mock.Anything, int64(404)).Return(nil, nil).Once()

	resp, err := service.GenerateItineraryStream(context.Background(), &types.GenerateItineraryRequest{TravelPlanID: 404})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPlanNotFound))
	assert.Nil(t, resp)
}

func TestGenerateItineraryStreamDateValidation(t *testing.T) {
	noDates := storedPlan(3)
	noDates.StartDate = nil
	noDates.EndDate = nil

	tests := []struct {
		name string
		plan *types.TravelPlan
		req  *types.GenerateItineraryRequest
	}{
		{
			name: "end before start",
			plan: storedPlan(3),
			req:  &types.GenerateItineraryRequest{TravelPlanID: 7, StartDate: "2025-06-05", EndDate: "2025-06-01"},
		},
		{
			name: "unparseable start date",
			plan: storedPlan(3),
			req:  &types.GenerateItineraryRequest{TravelPlanID: 7, StartDate: "06/01/2025", EndDate: "2025-06-03"},
		},
		{
			name: "partial override misses end date",
			plan: storedPlan(3),
			req:  &types.GenerateItineraryRequest{TravelPlanID: 7, StartDate: "2025-06-01"},
		},
		{
			name: "plan without dates and no override",
			plan: noDates,
			req:  &types.GenerateItineraryRequest{TravelPlanID: 7},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			service, mockStore, _ := setupStreamTest(false, &fakeLLM{})
			mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(tc.plan, nil).Once()

			resp, err := service.GenerateItineraryStream(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
			assert.Nil(t, resp)
		})
	}
}

func TestGenerateItineraryDrainsToResult(t *testing.T) {
	client := &fakeLLM{text: llmDayJSON(2)}
	service, mockStore, mockRecommender := setupStreamTest(false, client)

	mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(storedPlan(2), nil).Once()
	mockStore.On("SaveLlmInteraction", mock.Anything, mock.Anything).Return(nil).Once()
	mockStore.On("GetFlights", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("GetAccommodations", mock.Anything, int64(7)).Return(nil, nil).Once()
	mockStore.On("UpsertDayDetail", mock.Anything, mock.Anything).Return(nil).Times(2)
	mockRecommender.On("Recommend", mock.Anything, "杭州", mock.Anything, mock.Anything).Return(testRecs(), nil).Once()

	result, err := service.GenerateItinerary(context.Background(), &types.GenerateItineraryRequest{TravelPlanID: 7})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Days)
	assert.Len(t, result.Itinerary, 2)
}

func TestGenerateItineraryReturnsStreamError(t *testing.T) {
	client := &fakeLLM{genErr: errors.New("model unavailable")}
	service, mockStore, _ := setupStreamTest(false, client)

	mockStore.On("GetTravelPlan", mock.Anything, int64(7)).Return(storedPlan(2), nil).Once()

	result, err := service.GenerateItinerary(context.Background(), &types.GenerateItineraryRequest{TravelPlanID: 7})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "itinerary generation failed")
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestTruncateActivities(t *testing.T) {
	assert.Equal(t, []*types.Activity{}, truncateActivities(nil, 5))

	items := []*types.Activity{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	assert.Len(t, truncateActivities(items, 2), 2)
	assert.Equal(t, "a", truncateActivities(items, 2)[0].Name)
	assert.Len(t, truncateActivities(items, 5), 3)
}
