package trip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lvtu-ai/travel-planner/internal/location"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

// MockRepository is a mock implementation of Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateTravelPlan(ctx context.Context, plan *types.TravelPlan, flights []types.Flight, accommodations []types.Accommodation) (int64, error) {
	args := m.Called(ctx, plan, flights, accommodations)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) GetTravelPlan(ctx context.Context, planID int64) (*types.TravelPlan, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.TravelPlan), args.Error(1)
}

func (m *MockRepository) ListTravelPlans(ctx context.Context, userID int64) ([]types.TravelPlan, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.TravelPlan), args.Error(1)
}

func (m *MockRepository) DeleteTravelPlan(ctx context.Context, planID int64) error {
	args := m.Called(ctx, planID)
	return args.Error(0)
}

func (m *MockRepository) UpdateTravelPlanStatus(ctx context.Context, planID int64, status string) error {
	args := m.Called(ctx, planID, status)
	return args.Error(0)
}

func (m *MockRepository) GetFlights(ctx context.Context, planID int64) ([]types.Flight, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Flight), args.Error(1)
}

func (m *MockRepository) GetAccommodations(ctx context.Context, planID int64) ([]types.Accommodation, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Accommodation), args.Error(1)
}

func (m *MockRepository) UpsertDayDetail(ctx context.Context, day *types.ItineraryDay) error {
	args := m.Called(ctx, day)
	return args.Error(0)
}

func (m *MockRepository) GetItineraryDays(ctx context.Context, planID int64) ([]types.ItineraryDay, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ItineraryDay), args.Error(1)
}

func (m *MockRepository) SearchAttractions(ctx context.Context, city string) ([]types.Attraction, error) {
	args := m.Called(ctx, city)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Attraction), args.Error(1)
}

func (m *MockRepository) SearchRestaurants(ctx context.Context, city string) ([]types.Restaurant, error) {
	args := m.Called(ctx, city)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Restaurant), args.Error(1)
}

func (m *MockRepository) SaveAttractions(ctx context.Context, city string, items []types.Attraction) error {
	args := m.Called(ctx, city, items)
	return args.Error(0)
}

func (m *MockRepository) SaveRestaurants(ctx context.Context, city string, items []types.Restaurant) error {
	args := m.Called(ctx, city, items)
	return args.Error(0)
}

func (m *MockRepository) SaveLlmInteraction(ctx context.Context, rec *types.LlmInteraction) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// MockGeocoder is a mock implementation of Geocoder
type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) Geocode(ctx context.Context, address, hintCity string) (*location.GeocodeResult, error) {
	args := m.Called(ctx, address, hintCity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*location.GeocodeResult), args.Error(1)
}

// MockNoteFetcher is a mock implementation of NoteFetcher
type MockNoteFetcher struct {
	mock.Mock
}

func (m *MockNoteFetcher) FetchAll(ctx context.Context, urls []string) []types.NoteRef {
	args := m.Called(ctx, urls)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]types.NoteRef)
}

// MockTaskEnqueuer is a mock implementation of TaskEnqueuer
type MockTaskEnqueuer struct {
	mock.Mock
}

func (m *MockTaskEnqueuer) EnqueueRecommendationPrefetch(ctx context.Context, planID int64, destination string) (string, error) {
	args := m.Called(ctx, planID, destination)
	return args.String(0), args.Error(1)
}

func setupServiceTest() (*ServiceImpl, *MockRepository, *MockGeocoder, *MockNoteFetcher, *MockTaskEnqueuer) {
	mockRepo := new(MockRepository)
	mockGeo := new(MockGeocoder)
	mockNotes := new(MockNoteFetcher)
	mockTasks := new(MockTaskEnqueuer)
	service := NewService(mockRepo, mockGeo, mockNotes, mockTasks, testLogger())
	return service, mockRepo, mockGeo, mockNotes, mockTasks
}

func TestServiceImpl_CreatePlan(t *testing.T) {
	ctx := context.Background()

	t.Run("success geocodes airports and lodging", func(t *testing.T) {
		service, mockRepo, mockGeo, mockNotes, mockTasks := setupServiceTest()

		req := &types.CreateTravelPlanRequest{
			Destination:      "杭州",
			StartDate:        "2025-06-01",
			EndDate:          "2025-06-03",
			Interests:        []string{"历史"},
			XiaohongshuNotes: []string{"https://xhslink.com/a/x"},
			Flights: []types.FlightInput{{
				FlightNumber:     "CA1234",
				DepartureAirport: "北京首都机场",
				ArrivalAirport:   "杭州萧山机场",
				DepartureTime:    "2025-06-01 08:30",
			}},
			Accommodations: []types.AccommodationInput{{
				Name:         "西湖亚朵",
				Address:      "湖滨路1号",
				CheckInDate:  "2025-06-01",
				CheckOutDate: "2025-06-03",
			}},
		}

		mockNotes.On("FetchAll", mock.Anything, req.XiaohongshuNotes).
			Return([]types.NoteRef{{URL: "https://xhslink.com/a/x", Title: "攻略"}}).Once()
		mockGeo.On("Geocode", mock.Anything, "北京首都机场", "").
			Return(&location.GeocodeResult{Latitude: 40.07, Longitude: 116.59}, nil).Once()
		mockGeo.On("Geocode", mock.Anything, "杭州萧山机场", "杭州").
			Return(&location.GeocodeResult{Latitude: 30.23, Longitude: 120.43}, nil).Once()
		mockGeo.On("Geocode", mock.Anything, "杭州 湖滨路1号", "杭州").
			Return(&location.GeocodeResult{Latitude: 30.25, Longitude: 120.16}, nil).Once()

		var gotFlights []types.Flight
		var gotAccommodations []types.Accommodation
		var gotPlan *types.TravelPlan
		mockRepo.On("CreateTravelPlan", mock.Anything, mock.AnythingOfType("*types.TravelPlan"),
			mock.AnythingOfType("[]types.Flight"), mock.AnythingOfType("[]types.Accommodation")).
			Run(func(args mock.Arguments) {
				gotPlan = args.Get(1).(*types.TravelPlan)
				gotFlights = args.Get(2).([]types.Flight)
				gotAccommodations = args.Get(3).([]types.Accommodation)
			}).
			Return(int64(42), nil).Once()
		mockTasks.On("EnqueueRecommendationPrefetch", mock.Anything, int64(42), "杭州").
			Return("task-1", nil).Once()

		plan, err := service.CreatePlan(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(42), plan.ID)
		assert.Equal(t, "杭州", plan.Destination)

		require.NotNil(t, gotPlan)
		require.Len(t, gotPlan.Notes, 1)
		assert.Equal(t, "攻略", gotPlan.Notes[0].Title)

		require.Len(t, gotFlights, 1)
		require.NotNil(t, gotFlights[0].DepartureLat)
		assert.InDelta(t, 40.07, *gotFlights[0].DepartureLat, 1e-9)
		require.NotNil(t, gotFlights[0].ArrivalLat)
		assert.InDelta(t, 30.23, *gotFlights[0].ArrivalLat, 1e-9)
		require.NotNil(t, gotFlights[0].DepartureTime)
		assert.Equal(t, 8, gotFlights[0].DepartureTime.Hour())

		require.Len(t, gotAccommodations, 1)
		require.NotNil(t, gotAccommodations[0].Latitude)
		assert.InDelta(t, 30.25, *gotAccommodations[0].Latitude, 1e-9)
		require.NotNil(t, gotAccommodations[0].CheckInDate)

		mockRepo.AssertExpectations(t)
		mockGeo.AssertExpectations(t)
		mockNotes.AssertExpectations(t)
		mockTasks.AssertExpectations(t)
	})

	t.Run("destination required", func(t *testing.T) {
		service, mockRepo, _, _, _ := setupServiceTest()

		_, err := service.CreatePlan(ctx, &types.CreateTravelPlanRequest{Destination: "  "})
		require.Error(t, err)
		mockRepo.AssertNotCalled(t, "CreateTravelPlan")
	})

	t.Run("invalid date rejected", func(t *testing.T) {
		service, _, _, _, _ := setupServiceTest()

		_, err := service.CreatePlan(ctx, &types.CreateTravelPlanRequest{
			Destination: "杭州",
			StartDate:   "06/01/2025",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid startDate")
	})

	t.Run("end date before start date rejected", func(t *testing.T) {
		service, _, _, _, _ := setupServiceTest()

		_, err := service.CreatePlan(ctx, &types.CreateTravelPlanRequest{
			Destination: "杭州",
			StartDate:   "2025-06-03",
			EndDate:     "2025-06-01",
		})
		require.Error(t, err)
	})

	t.Run("geocoding failure degrades to nil coordinates", func(t *testing.T) {
		service, mockRepo, mockGeo, _, mockTasks := setupServiceTest()

		req := &types.CreateTravelPlanRequest{
			Destination: "杭州",
			Flights:     []types.FlightInput{{DepartureAirport: "北京首都机场", ArrivalAirport: "杭州萧山机场"}},
		}

		mockGeo.On("Geocode", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("quota exceeded"))

		var gotFlights []types.Flight
		mockRepo.On("CreateTravelPlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				gotFlights = args.Get(2).([]types.Flight)
			}).
			Return(int64(7), nil).Once()
		mockTasks.On("EnqueueRecommendationPrefetch", mock.Anything, int64(7), "杭州").
			Return("task-2", nil).Once()

		plan, err := service.CreatePlan(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(7), plan.ID)
		require.Len(t, gotFlights, 1)
		assert.Nil(t, gotFlights[0].DepartureLat)
		assert.Nil(t, gotFlights[0].ArrivalLat)
	})

	t.Run("enqueue failure does not fail creation", func(t *testing.T) {
		service, mockRepo, _, _, mockTasks := setupServiceTest()

		mockRepo.On("CreateTravelPlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(int64(9), nil).Once()
		mockTasks.On("EnqueueRecommendationPrefetch", mock.Anything, int64(9), "杭州").
			Return("", errors.New("redis down")).Once()

		plan, err := service.CreatePlan(ctx, &types.CreateTravelPlanRequest{Destination: "杭州"})
		require.NoError(t, err)
		assert.Equal(t, int64(9), plan.ID)
		mockTasks.AssertExpectations(t)
	})
}

func TestServiceImpl_GetPlanDetail(t *testing.T) {
	ctx := context.Background()

	t.Run("composes plan with subresources", func(t *testing.T) {
		service, mockRepo, _, _, _ := setupServiceTest()

		plan := &types.TravelPlan{ID: 7, Destination: "杭州"}
		mockRepo.On("GetTravelPlan", mock.Anything, int64(7)).Return(plan, nil).Once()
		mockRepo.On("GetFlights", mock.Anything, int64(7)).
			Return([]types.Flight{{ID: 1, DepartureAirport: "北京首都机场", ArrivalAirport: "杭州萧山机场"}}, nil).Once()
		mockRepo.On("GetAccommodations", mock.Anything, int64(7)).
			Return([]types.Accommodation{{ID: 1, Name: "西湖亚朵"}}, nil).Once()
		mockRepo.On("GetItineraryDays", mock.Anything, int64(7)).
			Return([]types.ItineraryDay{}, nil).Once()

		detail, err := service.GetPlanDetail(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, detail)
		assert.Equal(t, "杭州", detail.Destination)
		assert.Len(t, detail.Flights, 1)
		assert.Len(t, detail.Accommodations, 1)
		mockRepo.AssertExpectations(t)
	})

	t.Run("missing plan returns nil without error", func(t *testing.T) {
		service, mockRepo, _, _, _ := setupServiceTest()

		mockRepo.On("GetTravelPlan", mock.Anything, int64(999)).Return(nil, nil).Once()

		detail, err := service.GetPlanDetail(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, detail)
		mockRepo.AssertNotCalled(t, "GetFlights")
	})

	t.Run("subresource error bubbles", func(t *testing.T) {
		service, mockRepo, _, _, _ := setupServiceTest()

		mockRepo.On("GetTravelPlan", mock.Anything, int64(7)).
			Return(&types.TravelPlan{ID: 7}, nil).Once()
		mockRepo.On("GetFlights", mock.Anything, int64(7)).
			Return(nil, errors.New("db error")).Once()

		_, err := service.GetPlanDetail(ctx, 7)
		require.Error(t, err)
	})
}

func TestServiceImpl_ListPlans(t *testing.T) {
	service, mockRepo, _, _, _ := setupServiceTest()
	ctx := context.Background()

	// Zero falls back to the single local user.
	mockRepo.On("ListTravelPlans", mock.Anything, int64(1)).
		Return([]types.TravelPlan{{ID: 1}, {ID: 2}}, nil).Once()

	plans, err := service.ListPlans(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
	mockRepo.AssertExpectations(t)
}

func TestServiceImpl_DeletePlan(t *testing.T) {
	service, mockRepo, _, _, _ := setupServiceTest()
	ctx := context.Background()

	expectedErr := errors.New("db error on delete")
	mockRepo.On("DeleteTravelPlan", mock.Anything, int64(7)).Return(expectedErr).Once()

	err := service.DeletePlan(ctx, 7)
	require.Error(t, err)
	assert.EqualError(t, err, expectedErr.Error())
	mockRepo.AssertExpectations(t)
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *time.Time
	}{
		{"rfc3339", "2025-06-01T08:30:00Z", func() *time.Time {
			v := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
			return &v
		}()},
		{"space separated", "2025-06-01 08:30", func() *time.Time {
			v := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
			return &v
		}()},
		{"date only", "2025-06-01", func() *time.Time {
			v := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
			return &v
		}()},
		{"empty", "", nil},
		{"garbage", "tomorrow morning", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDateTime(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got))
		})
	}
}
