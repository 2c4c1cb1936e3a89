package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lvtu-ai/travel-planner/app/observability/metrics"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

var _ Repository = (*RepositoryImpl)(nil)

// DB is the pgx surface the repository uses. Satisfied by *pgxpool.Pool and
// by pgxmock pools in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository owns all travel-plan persistence: plans with their flights and
// accommodations, per-day itinerary rows, the city recommendation pool and
// the LLM call audit log.
type Repository interface {
	CreateTravelPlan(ctx context.Context, plan *types.TravelPlan, flights []types.Flight, accommodations []types.Accommodation) (int64, error)
	GetTravelPlan(ctx context.Context, planID int64) (*types.TravelPlan, error)
	ListTravelPlans(ctx context.Context, userID int64) ([]types.TravelPlan, error)
	DeleteTravelPlan(ctx context.Context, planID int64) error
	UpdateTravelPlanStatus(ctx context.Context, planID int64, status string) error

	GetFlights(ctx context.Context, planID int64) ([]types.Flight, error)
	GetAccommodations(ctx context.Context, planID int64) ([]types.Accommodation, error)

	UpsertDayDetail(ctx context.Context, day *types.ItineraryDay) error
	GetItineraryDays(ctx context.Context, planID int64) ([]types.ItineraryDay, error)

	SearchAttractions(ctx context.Context, city string) ([]types.Attraction, error)
	SearchRestaurants(ctx context.Context, city string) ([]types.Restaurant, error)
	SaveAttractions(ctx context.Context, city string, items []types.Attraction) error
	SaveRestaurants(ctx context.Context, city string, items []types.Restaurant) error

	SaveLlmInteraction(ctx context.Context, rec *types.LlmInteraction) error
}

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool DB
}

func NewRepository(pgpool DB, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *RepositoryImpl) observe(ctx context.Context, query string, start time.Time, err error) {
	m := metrics.Get()
	m.DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("query", query)))
	if err != nil {
		m.DbQueryErrorsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("query", query)))
	}
}

func (r *RepositoryImpl) CreateTravelPlan(ctx context.Context, plan *types.TravelPlan, flights []types.Flight, accommodations []types.Accommodation) (int64, error) {
	ctx, span := otel.Tracer("TripRepository").Start(ctx, "CreateTravelPlan", trace.WithAttributes(
		attribute.String("plan.destination", plan.Destination),
	))
	defer span.End()

	start := time.Now()
	tx, err := r.pgpool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	interests, err := jsonbList(plan.Interests)
	if err != nil {
		return 0, err
	}
	foodPrefs, err := jsonbList(plan.FoodPreferences)
	if err != nil {
		return 0, err
	}
	notes := plan.Notes
	if notes == nil {
		notes = []types.NoteRef{}
	}
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal notes: %w", err)
	}

	userID := plan.UserID
	if userID == 0 {
		userID = 1
	}
	status := plan.Status
	if status == "" {
		status = "draft"
	}

	query := `
        INSERT INTO travel_plans (
            user_id, destination, start_date, end_date, budget_min, budget_max,
            travelers, interests, food_preferences, xiaohongshu_notes, status
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `
	var planID int64
	err = tx.QueryRow(ctx, query,
		userID, plan.Destination, plan.StartDate, plan.EndDate,
		plan.BudgetMin, plan.BudgetMax, plan.Travelers,
		interests, foodPrefs, notesJSON, status,
	).Scan(&planID)
	if err != nil {
		r.observe(ctx, "create_travel_plan", start, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to insert travel plan")
		return 0, fmt.Errorf("failed to insert travel plan: %w", err)
	}

	flightQuery := `
        INSERT INTO flights (
            travel_plan_id, flight_number, departure_airport, arrival_airport,
            departure_time, arrival_time, departure_lat, departure_lng, arrival_lat, arrival_lng
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	for _, f := range flights {
		if _, err = tx.Exec(ctx, flightQuery,
			planID, f.FlightNumber, f.DepartureAirport, f.ArrivalAirport,
			f.DepartureTime, f.ArrivalTime,
			f.DepartureLat, f.DepartureLng, f.ArrivalLat, f.ArrivalLng,
		); err != nil {
			r.observe(ctx, "create_travel_plan", start, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to insert flight")
			return 0, fmt.Errorf("failed to insert flight: %w", err)
		}
	}

	accQuery := `
        INSERT INTO accommodations (
            travel_plan_id, name, address, check_in_date, check_out_date, lat, lng
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	for _, a := range accommodations {
		if _, err = tx.Exec(ctx, accQuery,
			planID, a.Name, a.Address, a.CheckInDate, a.CheckOutDate, a.Latitude, a.Longitude,
		); err != nil {
			r.observe(ctx, "create_travel_plan", start, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to insert accommodation")
			return 0, fmt.Errorf("failed to insert accommodation: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		r.observe(ctx, "create_travel_plan", start, err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	r.observe(ctx, "create_travel_plan", start, nil)
	span.SetAttributes(attribute.Int64("plan.id", planID))
	span.SetStatus(codes.Ok, "Travel plan created")

	r.logger.Info("Travel plan created",
		slog.Int64("planID", planID),
		slog.String("destination", plan.Destination),
		slog.Int("flights", len(flights)),
		slog.Int("accommodations", len(accommodations)))
	return planID, nil
}

const planColumns = `
        id, user_id, destination, start_date, end_date, budget_min, budget_max,
        COALESCE(travelers, ''), interests, food_preferences, xiaohongshu_notes, status,
        created_at, updated_at`

func (r *RepositoryImpl) GetTravelPlan(ctx context.Context, planID int64) (*types.TravelPlan, error) {
	query := `SELECT` + planColumns + ` FROM travel_plans WHERE id = $1`

	plan, err := scanPlan(r.pgpool.QueryRow(ctx, query, planID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get travel plan: %w", err)
	}
	return plan, nil
}

func (r *RepositoryImpl) ListTravelPlans(ctx context.Context, userID int64) ([]types.TravelPlan, error) {
	query := `SELECT` + planColumns + ` FROM travel_plans WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pgpool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list travel plans: %w", err)
	}
	defer rows.Close()

	plans := make([]types.TravelPlan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan travel plan row: %w", err)
		}
		plans = append(plans, *plan)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating travel plan rows: %w", err)
	}
	return plans, nil
}

func (r *RepositoryImpl) DeleteTravelPlan(ctx context.Context, planID int64) error {
	tag, err := r.pgpool.Exec(ctx, `DELETE FROM travel_plans WHERE id = $1`, planID)
	if err != nil {
		return fmt.Errorf("failed to delete travel plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	r.logger.Info("Travel plan deleted", slog.Int64("planID", planID))
	return nil
}

func (r *RepositoryImpl) UpdateTravelPlanStatus(ctx context.Context, planID int64, status string) error {
	_, err := r.pgpool.Exec(ctx,
		`UPDATE travel_plans SET status = $2, updated_at = now() WHERE id = $1`,
		planID, status)
	if err != nil {
		return fmt.Errorf("failed to update travel plan status: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetFlights(ctx context.Context, planID int64) ([]types.Flight, error) {
	query := `
        SELECT id, travel_plan_id, COALESCE(flight_number, ''), departure_airport, arrival_airport,
               departure_time, arrival_time, departure_lat, departure_lng, arrival_lat, arrival_lng,
               created_at
        FROM flights
        WHERE travel_plan_id = $1
        ORDER BY id ASC
    `
	rows, err := r.pgpool.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()

	flights := make([]types.Flight, 0)
	for rows.Next() {
		var f types.Flight
		if err := rows.Scan(
			&f.ID, &f.TravelPlanID, &f.FlightNumber, &f.DepartureAirport, &f.ArrivalAirport,
			&f.DepartureTime, &f.ArrivalTime,
			&f.DepartureLat, &f.DepartureLng, &f.ArrivalLat, &f.ArrivalLng,
			&f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flight row: %w", err)
		}
		flights = append(flights, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flight rows: %w", err)
	}
	return flights, nil
}

func (r *RepositoryImpl) GetAccommodations(ctx context.Context, planID int64) ([]types.Accommodation, error) {
	query := `
        SELECT id, travel_plan_id, name, COALESCE(address, ''), check_in_date, check_out_date,
               lat, lng, created_at
        FROM accommodations
        WHERE travel_plan_id = $1
        ORDER BY id ASC
    `
	rows, err := r.pgpool.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accommodations: %w", err)
	}
	defer rows.Close()

	accommodations := make([]types.Accommodation, 0)
	for rows.Next() {
		var a types.Accommodation
		if err := rows.Scan(
			&a.ID, &a.TravelPlanID, &a.Name, &a.Address, &a.CheckInDate, &a.CheckOutDate,
			&a.Latitude, &a.Longitude, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan accommodation row: %w", err)
		}
		accommodations = append(accommodations, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accommodation rows: %w", err)
	}
	return accommodations, nil
}

// UpsertDayDetail writes one (plan, day) itinerary row, replacing any
// previous payload for the same day.
func (r *RepositoryImpl) UpsertDayDetail(ctx context.Context, day *types.ItineraryDay) error {
	ctx, span := otel.Tracer("TripRepository").Start(ctx, "UpsertDayDetail", trace.WithAttributes(
		attribute.Int64("plan.id", day.TravelPlanID),
		attribute.Int("day.number", day.DayNumber),
	))
	defer span.End()

	start := time.Now()
	query := `
        INSERT INTO itinerary_details (travel_plan_id, day_number, itinerary, spots, restaurants)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT ON CONSTRAINT uk_plan_day
        DO UPDATE SET itinerary = EXCLUDED.itinerary,
                      spots = EXCLUDED.spots,
                      restaurants = EXCLUDED.restaurants,
                      updated_at = now()
    `
	_, err := r.pgpool.Exec(ctx, query,
		day.TravelPlanID, day.DayNumber, day.Itinerary, day.Spots, day.Restaurants)
	r.observe(ctx, "upsert_day_detail", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to upsert day detail")
		return fmt.Errorf("failed to upsert itinerary day %d: %w", day.DayNumber, err)
	}
	span.SetStatus(codes.Ok, "Day detail upserted")
	return nil
}

func (r *RepositoryImpl) GetItineraryDays(ctx context.Context, planID int64) ([]types.ItineraryDay, error) {
	query := `
        SELECT id, travel_plan_id, day_number, itinerary, spots, restaurants, created_at, updated_at
        FROM itinerary_details
        WHERE travel_plan_id = $1
        ORDER BY day_number ASC
    `
	rows, err := r.pgpool.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query itinerary days: %w", err)
	}
	defer rows.Close()

	days := make([]types.ItineraryDay, 0)
	for rows.Next() {
		var d types.ItineraryDay
		if err := rows.Scan(
			&d.ID, &d.TravelPlanID, &d.DayNumber,
			&d.Itinerary, &d.Spots, &d.Restaurants,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan itinerary day row: %w", err)
		}
		days = append(days, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating itinerary day rows: %w", err)
	}
	return days, nil
}

func (r *RepositoryImpl) SearchAttractions(ctx context.Context, city string) ([]types.Attraction, error) {
	start := time.Now()
	query := `
        SELECT id, city, name, COALESCE(description, ''), COALESCE(address, ''),
               lat, lng, COALESCE(category, ''), rating
        FROM attractions
        WHERE city = $1
        ORDER BY rating DESC NULLS LAST, id ASC
        LIMIT 50
    `
	rows, err := r.pgpool.Query(ctx, query, city)
	if err != nil {
		r.observe(ctx, "search_attractions", start, err)
		return nil, fmt.Errorf("failed to query attractions: %w", err)
	}
	defer rows.Close()

	attractions := make([]types.Attraction, 0)
	for rows.Next() {
		var a types.Attraction
		if err := rows.Scan(
			&a.ID, &a.City, &a.Name, &a.Description, &a.Address,
			&a.Latitude, &a.Longitude, &a.Category, &a.Rating,
		); err != nil {
			r.observe(ctx, "search_attractions", start, err)
			return nil, fmt.Errorf("failed to scan attraction row: %w", err)
		}
		attractions = append(attractions, a)
	}
	if err = rows.Err(); err != nil {
		r.observe(ctx, "search_attractions", start, err)
		return nil, fmt.Errorf("error iterating attraction rows: %w", err)
	}
	r.observe(ctx, "search_attractions", start, nil)
	return attractions, nil
}

func (r *RepositoryImpl) SearchRestaurants(ctx context.Context, city string) ([]types.Restaurant, error) {
	start := time.Now()
	query := `
        SELECT id, city, name, COALESCE(description, ''), COALESCE(address, ''),
               lat, lng, COALESCE(cuisine_type, ''), COALESCE(price_range, ''), rating
        FROM restaurants
        WHERE city = $1
        ORDER BY rating DESC NULLS LAST, id ASC
        LIMIT 50
    `
	rows, err := r.pgpool.Query(ctx, query, city)
	if err != nil {
		r.observe(ctx, "search_restaurants", start, err)
		return nil, fmt.Errorf("failed to query restaurants: %w", err)
	}
	defer rows.Close()

	restaurants := make([]types.Restaurant, 0)
	for rows.Next() {
		var rr types.Restaurant
		if err := rows.Scan(
			&rr.ID, &rr.City, &rr.Name, &rr.Description, &rr.Address,
			&rr.Latitude, &rr.Longitude, &rr.CuisineType, &rr.PriceRange, &rr.Rating,
		); err != nil {
			r.observe(ctx, "search_restaurants", start, err)
			return nil, fmt.Errorf("failed to scan restaurant row: %w", err)
		}
		restaurants = append(restaurants, rr)
	}
	if err = rows.Err(); err != nil {
		r.observe(ctx, "search_restaurants", start, err)
		return nil, fmt.Errorf("error iterating restaurant rows: %w", err)
	}
	r.observe(ctx, "search_restaurants", start, nil)
	return restaurants, nil
}

// SaveAttractions upserts searched places into the city pool so the next
// request is served from storage.
func (r *RepositoryImpl) SaveAttractions(ctx context.Context, city string, items []types.Attraction) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.pgpool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO attractions (city, name, description, address, lat, lng, category, rating)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT ON CONSTRAINT uk_attractions_city_name
        DO UPDATE SET description = EXCLUDED.description,
                      address = EXCLUDED.address,
                      lat = EXCLUDED.lat,
                      lng = EXCLUDED.lng,
                      category = EXCLUDED.category,
                      rating = EXCLUDED.rating
    `
	for _, a := range items {
		if a.Name == "" {
			continue
		}
		if _, err = tx.Exec(ctx, query,
			city, a.Name, a.Description, a.Address, a.Latitude, a.Longitude, a.Category, a.Rating,
		); err != nil {
			return fmt.Errorf("failed to upsert attraction %q: %w", a.Name, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	r.logger.Info("Attractions saved", slog.String("city", city), slog.Int("count", len(items)))
	return nil
}

func (r *RepositoryImpl) SaveRestaurants(ctx context.Context, city string, items []types.Restaurant) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.pgpool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO restaurants (city, name, description, address, lat, lng, cuisine_type, price_range, rating)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT ON CONSTRAINT uk_restaurants_city_name
        DO UPDATE SET description = EXCLUDED.description,
                      address = EXCLUDED.address,
                      lat = EXCLUDED.lat,
                      lng = EXCLUDED.lng,
                      cuisine_type = EXCLUDED.cuisine_type,
                      price_range = EXCLUDED.price_range,
                      rating = EXCLUDED.rating
    `
	for _, rr := range items {
		if rr.Name == "" {
			continue
		}
		if _, err = tx.Exec(ctx, query,
			city, rr.Name, rr.Description, rr.Address, rr.Latitude, rr.Longitude,
			rr.CuisineType, rr.PriceRange, rr.Rating,
		); err != nil {
			return fmt.Errorf("failed to upsert restaurant %q: %w", rr.Name, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	r.logger.Info("Restaurants saved", slog.String("city", city), slog.Int("count", len(items)))
	return nil
}

// SaveLlmInteraction appends one audit row for an LLM call. Failures here are
// for the caller to log, not to fail generation on.
func (r *RepositoryImpl) SaveLlmInteraction(ctx context.Context, rec *types.LlmInteraction) error {
	query := `
        INSERT INTO llm_interactions (id, travel_plan_id, provider, model, prompt, response, latency_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := r.pgpool.Exec(ctx, query,
		rec.ID, rec.TravelPlanID, rec.Provider, rec.Model, rec.Prompt, rec.Response, rec.LatencyMs)
	if err != nil {
		return fmt.Errorf("failed to insert llm interaction: %w", err)
	}
	return nil
}

func jsonbList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list: %w", err)
	}
	return b, nil
}

func scanPlan(row pgx.Row) (*types.TravelPlan, error) {
	var (
		plan      types.TravelPlan
		interests []byte
		foodPrefs []byte
		notes     []byte
	)
	if err := row.Scan(
		&plan.ID, &plan.UserID, &plan.Destination, &plan.StartDate, &plan.EndDate,
		&plan.BudgetMin, &plan.BudgetMax, &plan.Travelers,
		&interests, &foodPrefs, &notes,
		&plan.Status, &plan.CreatedAt, &plan.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(interests, &plan.Interests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interests: %w", err)
	}
	if err := json.Unmarshal(foodPrefs, &plan.FoodPreferences); err != nil {
		return nil, fmt.Errorf("failed to unmarshal food preferences: %w", err)
	}
	if err := json.Unmarshal(notes, &plan.Notes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
	}
	return &plan, nil
}
