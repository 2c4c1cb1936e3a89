package itinerary

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lvtu-ai/travel-planner/internal/location"
	"github.com/lvtu-ai/travel-planner/internal/types"
)

const (
	activitySpot       = "spot"
	activityRestaurant = "restaurant"

	categorySpot       = "景点"
	categoryRestaurant = "美食"

	slotMorning   = "morning"
	slotAfternoon = "afternoon"
	slotEvening   = "evening"

	defaultDurationMinutes = 60
	synthSpotMinutes       = 120
	synthRestaurantMinutes = 60

	// Fallback price bands used when the model gave no price text at all.
	defaultSpotCost       = "门票20-80元"
	defaultRestaurantCost = "人均50-150元"

	maxSpotsPerDay       = 5
	maxRestaurantsPerDay = 3
)

// Geocoder resolves free-text addresses; implemented by the location client.
type Geocoder interface {
	Geocode(ctx context.Context, address, hintCity string) (*location.GeocodeResult, error)
}

// Reconciler turns parsed day plans into persistable rows and renderable day
// events, using the destination's recommendation pools and the plan's stored
// flights and accommodations. One instance serves one generation run;
// reconciling a day mutates the parsed plan in place (normalized slots,
// backfilled coordinates).
type Reconciler struct {
	logger         *slog.Logger
	geocoder       Geocoder
	destination    string
	days           int
	startDate      time.Time
	attractions    []types.Attraction
	restaurants    []types.Restaurant
	flights        []types.Flight
	accommodations []types.Accommodation
}

func NewReconciler(
	logger *slog.Logger,
	geocoder Geocoder,
	trip *types.TripRequest,
	recs *types.Recommendations,
	flights []types.Flight,
	accommodations []types.Accommodation,
) *Reconciler {
	r := &Reconciler{
		logger:         logger,
		geocoder:       geocoder,
		destination:    trip.Destination,
		days:           trip.Days,
		startDate:      trip.StartDate,
		flights:        flights,
		accommodations: accommodations,
	}
	if recs != nil {
		r.attractions = recs.Attractions
		r.restaurants = recs.Restaurants
	}
	return r
}

// ReconciledDay is the outcome of reconciling one day: the normalized plan,
// the classified activity lists backing persistence, the grouped items and
// stats for the day event, and the day's geographic anchors.
type ReconciledDay struct {
	DayNumber   int
	Date        time.Time
	Plan        *types.DayPlan
	Spots       []*types.Activity
	Restaurants []*types.Activity
	Items       map[string][]types.ItineraryItem
	Stats       types.DayStats
	StartPoint  *types.AnchorPoint
	EndPoint    *types.AnchorPoint
	Synthesized bool
}

// Event shapes the day for the stream.
func (d *ReconciledDay) Event() types.DayEvent {
	return types.DayEvent{
		DayNumber:  d.DayNumber,
		Date:       d.Date.Format("2006-01-02"),
		Theme:      d.Plan.Theme,
		Items:      d.Items,
		Stats:      d.Stats,
		StartPoint: d.StartPoint,
		EndPoint:   d.EndPoint,
	}
}

// Summary shapes the day for the result event's overview list.
func (d *ReconciledDay) Summary() types.DaySummary {
	return types.DaySummary{
		DayNumber:   d.DayNumber,
		Date:        d.Date.Format("2006-01-02"),
		Theme:       d.Plan.Theme,
		Spots:       len(d.Spots),
		Restaurants: len(d.Restaurants),
	}
}

// ReconcileDay normalizes, classifies, backfills and anchors one day. A day
// the model left out entirely gets an empty plan first, then the usual
// fallback synthesis.
func (r *Reconciler) ReconcileDay(ctx context.Context, it types.ParsedItinerary, dayNum int) *ReconciledDay {
	date := r.startDate.AddDate(0, 0, dayNum-1)

	plan := it[types.DayKey(dayNum)]
	if plan == nil {
		plan = emptyDayPlan(dayNum)
		it[types.DayKey(dayNum)] = plan
	}
	if plan.Theme == "" {
		plan.Theme = fmt.Sprintf("第%d天行程", dayNum)
	}
	if plan.Date == "" {
		plan.Date = date.Format("2006-01-02")
	}

	day := &ReconciledDay{
		DayNumber: dayNum,
		Date:      date,
		Plan:      plan,
	}

	// Raw counts before any synthesis, so a client can tell a model-empty
	// day apart from a synthesized one.
	day.Stats.Schedule = types.SegmentCounts{
		Morning:   len(plan.Schedule.Morning.Items),
		Afternoon: len(plan.Schedule.Afternoon.Items),
		Evening:   len(plan.Schedule.Evening.Items),
	}

	if day.Stats.Schedule.Morning+day.Stats.Schedule.Afternoon+day.Stats.Schedule.Evening == 0 {
		day.Synthesized = r.synthesizeDay(plan, dayNum)
	}

	slots := []struct {
		name string
		slot *types.Slot
	}{
		{slotMorning, &plan.Schedule.Morning},
		{slotAfternoon, &plan.Schedule.Afternoon},
		{slotEvening, &plan.Schedule.Evening},
	}

	day.Items = map[string][]types.ItineraryItem{
		slotMorning:   {},
		slotAfternoon: {},
		slotEvening:   {},
	}
	for _, s := range slots {
		for _, act := range s.slot.Items {
			kind := classify(act)
			r.backfillCoords(ctx, act, kind)

			var idx int
			if kind == activityRestaurant {
				idx = len(day.Restaurants)
				day.Restaurants = append(day.Restaurants, act)
			} else {
				idx = len(day.Spots)
				day.Spots = append(day.Spots, act)
			}
			day.Items[s.name] = append(day.Items[s.name], buildItem(act, kind, s.name, dayNum, idx))
		}
	}

	day.Stats.Spots = len(day.Spots)
	day.Stats.Restaurants = len(day.Restaurants)
	day.Stats.Grouped = types.SegmentCounts{
		Morning:   len(day.Items[slotMorning]),
		Afternoon: len(day.Items[slotAfternoon]),
		Evening:   len(day.Items[slotEvening]),
	}

	day.StartPoint, day.EndPoint = r.deriveAnchors(dayNum, date)
	return day
}

// classify maps an activity onto spot or restaurant. An explicit type tag
// wins; without one, any cuisine or price field marks a restaurant.
func classify(a *types.Activity) string {
	if t := strings.ToLower(strings.TrimSpace(a.Type)); t != "" {
		if t == activityRestaurant {
			return activityRestaurant
		}
		return activitySpot
	}
	if a.Cuisine != "" || a.CuisineType != "" || a.PriceRange != "" {
		return activityRestaurant
	}
	return activitySpot
}

// backfillCoords fills missing coordinates: first a name match against the
// matching recommendation pool, then a geocode of "{destination} {name}",
// else the coordinates stay null.
func (r *Reconciler) backfillCoords(ctx context.Context, a *types.Activity, kind string) {
	if a.Latitude != nil && a.Longitude != nil {
		return
	}
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return
	}

	if kind == activityRestaurant {
		for i := range r.restaurants {
			c := &r.restaurants[i]
			if c.Latitude != nil && c.Longitude != nil && nameMatches(name, c.Name) {
				a.Latitude, a.Longitude = c.Latitude, c.Longitude
				return
			}
		}
	} else {
		for i := range r.attractions {
			c := &r.attractions[i]
			if c.Latitude != nil && c.Longitude != nil && nameMatches(name, c.Name) {
				a.Latitude, a.Longitude = c.Latitude, c.Longitude
				return
			}
		}
	}

	if geo := r.geocode(ctx, name); geo != nil {
		lat, lng := geo.Latitude, geo.Longitude
		a.Latitude, a.Longitude = &lat, &lng
	}
}

// nameMatches is the case-insensitive exact-or-substring match used for
// coordinate backfill. Either side may contain the other.
func nameMatches(activityName, candidateName string) bool {
	an := strings.ToLower(strings.TrimSpace(activityName))
	cn := strings.ToLower(strings.TrimSpace(candidateName))
	if an == "" || cn == "" {
		return false
	}
	return strings.Contains(an, cn) || strings.Contains(cn, an)
}

func (r *Reconciler) geocode(ctx context.Context, name string) *location.GeocodeResult {
	geo, err := r.geocoder.Geocode(ctx, fmt.Sprintf("%s %s", r.destination, name), r.destination)
	if err != nil {
		r.logger.WarnContext(ctx, "Geocode failed during coordinate backfill",
			slog.String("name", name), slog.Any("error", err))
		return nil
	}
	return geo
}

// synthesizeDay fills a fully empty day from the recommendation pools,
// rotating through them by day offset so consecutive empty days get
// different places. Reports whether anything was placed.
func (r *Reconciler) synthesizeDay(plan *types.DayPlan, dayNum int) bool {
	if len(r.attractions) == 0 && len(r.restaurants) == 0 {
		return false
	}
	offset := dayNum - 1

	var morning, afternoon, evening []*types.Activity
	if n := len(r.attractions); n > 0 {
		morning = append(morning, activityFromAttraction(&r.attractions[offset%n]))
		evening = append(evening, activityFromAttraction(&r.attractions[(offset+1)%n]))
	}
	if n := len(r.restaurants); n > 0 {
		afternoon = append(afternoon, activityFromRestaurant(&r.restaurants[offset%n]))
	}

	plan.Schedule.Morning = types.Slot{Kind: types.SlotList, Items: morning}
	plan.Schedule.Afternoon = types.Slot{Kind: types.SlotList, Items: afternoon}
	plan.Schedule.Evening = types.Slot{Kind: types.SlotList, Items: evening}
	return len(morning)+len(afternoon)+len(evening) > 0
}

func activityFromAttraction(src *types.Attraction) *types.Activity {
	minutes := synthSpotMinutes
	return &types.Activity{
		Type:            activitySpot,
		Name:            src.Name,
		Description:     src.Description,
		PlayTimeMinutes: &minutes,
		Latitude:        src.Latitude,
		Longitude:       src.Longitude,
	}
}

func activityFromRestaurant(src *types.Restaurant) *types.Activity {
	minutes := synthRestaurantMinutes
	return &types.Activity{
		Type:            activityRestaurant,
		Name:            src.Name,
		Description:     src.Description,
		PlayTimeMinutes: &minutes,
		CuisineType:     src.CuisineType,
		PriceRange:      src.PriceRange,
		Latitude:        src.Latitude,
		Longitude:       src.Longitude,
	}
}

// deriveAnchors computes the day's start and end points. Accommodations are
// evaluated first in stored order, then flights, which may supplement the
// start and override the end. A departure on the day always wins the end
// anchor: you finish the day at the airport no matter where you slept.
func (r *Reconciler) deriveAnchors(dayNum int, date time.Time) (start, end *types.AnchorPoint) {
	cur := dateOnly(date)

	for i := range r.accommodations {
		acc := &r.accommodations[i]
		if acc.Latitude == nil || acc.Longitude == nil {
			continue
		}
		if acc.CheckInDate == nil {
			continue
		}
		in := dateOnly(*acc.CheckInDate)
		var out time.Time
		hasOut := acc.CheckOutDate != nil
		if hasOut {
			out = dateOnly(*acc.CheckOutDate)
		}

		switch {
		case in.Equal(cur):
			start = lodgingAnchor(acc)
			if hasOut && out.Equal(cur) {
				end = lodgingAnchor(acc)
			}
		case hasOut && out.Equal(cur):
			end = lodgingAnchor(acc)
			if start == nil {
				start = lodgingAnchor(acc)
			}
		case hasOut && in.Before(cur) && cur.Before(out):
			if start == nil {
				start = lodgingAnchor(acc)
			}
			if end == nil {
				end = lodgingAnchor(acc)
			}
		}
	}

	for i := range r.flights {
		f := &r.flights[i]
		if f.ArrivalTime != nil && dateOnly(*f.ArrivalTime).Equal(cur) && start == nil {
			start = airportAnchor(f.ArrivalAirport, f.ArrivalLat, f.ArrivalLng)
		}
		if f.DepartureTime != nil && dateOnly(*f.DepartureTime).Equal(cur) {
			if p := airportAnchor(f.DepartureAirport, f.DepartureLat, f.DepartureLng); p != nil {
				end = p
			}
		}
	}

	if dayNum == 1 && start == nil {
		if f := earliestDeparture(r.flights); f != nil {
			start = airportAnchor(f.DepartureAirport, f.DepartureLat, f.DepartureLng)
		}
	}
	if dayNum == r.days && end == nil {
		if f := latestArrival(r.flights); f != nil {
			end = airportAnchor(f.ArrivalAirport, f.ArrivalLat, f.ArrivalLng)
		}
	}
	return start, end
}

func lodgingAnchor(acc *types.Accommodation) *types.AnchorPoint {
	return &types.AnchorPoint{
		Name:      acc.Name,
		Address:   acc.Address,
		Latitude:  *acc.Latitude,
		Longitude: *acc.Longitude,
		Category:  "住宿",
		Type:      "accommodation",
	}
}

// airportAnchor builds an airport anchor, or nil when the coordinates are
// missing. Airport coordinates come from the stored flight row and are never
// re-geocoded here.
func airportAnchor(name string, lat, lng *float64) *types.AnchorPoint {
	if lat == nil || lng == nil {
		return nil
	}
	return &types.AnchorPoint{
		Name:      name,
		Latitude:  *lat,
		Longitude: *lng,
		Category:  "机场",
		Type:      "airport",
	}
}

// earliestDeparture picks the flight that leaves first among those able to
// anchor (departure time and coordinates present).
func earliestDeparture(flights []types.Flight) *types.Flight {
	var best *types.Flight
	for i := range flights {
		f := &flights[i]
		if f.DepartureTime == nil || f.DepartureLat == nil || f.DepartureLng == nil {
			continue
		}
		if best == nil || f.DepartureTime.Before(*best.DepartureTime) {
			best = f
		}
	}
	return best
}

// latestArrival picks the flight that lands last among those able to anchor.
func latestArrival(flights []types.Flight) *types.Flight {
	var best *types.Flight
	for i := range flights {
		f := &flights[i]
		if f.ArrivalTime == nil || f.ArrivalLat == nil || f.ArrivalLng == nil {
			continue
		}
		if best == nil || f.ArrivalTime.After(*best.ArrivalTime) {
			best = f
		}
	}
	return best
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// buildItem shapes one activity for the day event. idx is the activity's
// position within the day's spot or restaurant list, which keeps uniqueId
// stable across the grouped segments.
func buildItem(a *types.Activity, kind, slot string, dayNum, idx int) types.ItineraryItem {
	item := types.ItineraryItem{
		Type:            kind,
		TimeSlot:        slot,
		Description:     a.Description,
		DurationMinutes: durationFor(a),
		Notes:           a.Notes,
		CommuteFromPrev: a.CommuteFromPrev,
		Cost:            costFor(a, kind),
		Latitude:        a.Latitude,
		Longitude:       a.Longitude,
	}
	if kind == activityRestaurant {
		item.UniqueID = fmt.Sprintf("rest_%d_%d", dayNum, idx)
		item.Category = categoryRestaurant
		item.Name = firstNonEmpty(a.Name, fmt.Sprintf("餐厅%d", idx+1))
		item.Cuisine = firstNonEmpty(a.Cuisine, a.CuisineType)
		item.PriceRange = a.PriceRange
	} else {
		item.UniqueID = fmt.Sprintf("spot_%d_%d", dayNum, idx)
		item.Category = categorySpot
		item.Name = firstNonEmpty(a.Name, a.Field("location"), fmt.Sprintf("景点%d", idx+1))
	}
	return item
}

func durationFor(a *types.Activity) int {
	if a.PlayTimeMinutes != nil {
		return *a.PlayTimeMinutes
	}
	if a.RecommendedTime != nil {
		return *a.RecommendedTime
	}
	return defaultDurationMinutes
}

var costNumberRe = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// parseCost extracts the first number in a price text as the yuan estimate
// and keeps the original wording as the label. "人均80-120" gives 80.
func parseCost(text string) *types.CostEstimate {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	est := &types.CostEstimate{Label: text}
	if m := costNumberRe.FindString(text); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			est.Yuan = &v
		}
	}
	return est
}

// costFor derives the per-item estimate. Restaurants use their price range,
// spots a ticket-price-like field; either falls back to a fixed band.
func costFor(a *types.Activity, kind string) *types.CostEstimate {
	if kind == activityRestaurant {
		if a.PriceRange != "" {
			return parseCost(a.PriceRange)
		}
		return parseCost(defaultRestaurantCost)
	}
	for _, key := range []string{"ticket_price", "ticket", "price", "cost"} {
		if v := strings.TrimSpace(a.Field(key)); v != "" {
			return parseCost(v)
		}
	}
	return parseCost(defaultSpotCost)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
