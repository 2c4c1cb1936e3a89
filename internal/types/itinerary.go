package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TripRequest holds everything one generation run needs. Built once per run
// from the stored plan plus the request dates, never mutated afterwards.
type TripRequest struct {
	PlanID          int64
	Destination     string
	StartDate       time.Time
	EndDate         time.Time
	Days            int
	Interests       []string
	FoodPreferences []string
	Travelers       string
	BudgetMin       float64
	BudgetMax       float64
	Notes           []NoteRef
}

// NoteRef is a reference note attached to a plan, with content fetched at
// plan-creation time. Content may be empty when extraction failed.
type NoteRef struct {
	URL     string `json:"url"`
	NoteID  string `json:"note_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// ParsedItinerary maps "day_1".."day_N" to the day plans extracted from the
// LLM response. A successful parse keeps exactly the keys the model emitted;
// the reconciler treats a missing day key as an empty day.
type ParsedItinerary map[string]*DayPlan

// DayKey returns the canonical map key for a day number.
func DayKey(day int) string { return fmt.Sprintf("day_%d", day) }

// DayPlan is one day as the model described it. Decoding is lenient: a theme
// that is not a string becomes its string form, a missing or malformed
// schedule leaves all slots absent.
type DayPlan struct {
	Date     string      `json:"date,omitempty"`
	Theme    string      `json:"theme"`
	Schedule DaySchedule `json:"schedule"`
	Tips     string      `json:"tips,omitempty"`
}

func (d *DayPlan) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	d.Date = lenientString(m["date"])
	d.Theme = lenientString(m["theme"])
	d.Tips = lenientString(m["tips"])
	if raw, ok := m["schedule"]; ok {
		_ = json.Unmarshal(raw, &d.Schedule)
	}
	return nil
}

// DaySchedule holds the three timeslots of a day.
type DaySchedule struct {
	Morning   Slot `json:"morning"`
	Afternoon Slot `json:"afternoon"`
	Evening   Slot `json:"evening"`
}

func (s *DaySchedule) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		// Schedule was not an object; keep every slot absent.
		return nil
	}
	if raw, ok := m["morning"]; ok {
		_ = json.Unmarshal(raw, &s.Morning)
	}
	if raw, ok := m["afternoon"]; ok {
		_ = json.Unmarshal(raw, &s.Afternoon)
	}
	if raw, ok := m["evening"]; ok {
		_ = json.Unmarshal(raw, &s.Evening)
	}
	return nil
}

// SlotKind discriminates the JSON shapes a timeslot value arrives in.
type SlotKind uint8

const (
	SlotAbsent SlotKind = iota
	SlotList
	SlotSingleItem
	SlotItemsWrapper
)

// Slot is a timeslot value as a tagged union over the shapes the model
// produces: an activity list, a single activity object, an object wrapping an
// "items" list, or nothing usable. Items always holds the normalized ordered
// sequence; Kind records which shape produced it.
type Slot struct {
	Kind  SlotKind
	Items []*Activity
}

// UnmarshalJSON never fails: unknown shapes decode to an absent slot.
func (s *Slot) UnmarshalJSON(data []byte) error {
	s.Kind = SlotAbsent
	s.Items = nil
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	switch trimmed[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil
		}
		s.Kind = SlotList
		s.Items = decodeActivities(raws)
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil
		}
		if itemsRaw, ok := m["items"]; ok && len(bytes.TrimSpace(itemsRaw)) > 0 && bytes.TrimSpace(itemsRaw)[0] == '[' {
			var raws []json.RawMessage
			if err := json.Unmarshal(itemsRaw, &raws); err == nil {
				s.Kind = SlotItemsWrapper
				s.Items = decodeActivities(raws)
				return nil
			}
		}
		var a Activity
		if err := json.Unmarshal(trimmed, &a); err == nil {
			s.Kind = SlotSingleItem
			s.Items = []*Activity{&a}
		}
	}
	return nil
}

// MarshalJSON writes the canonical list form regardless of the input shape.
func (s Slot) MarshalJSON() ([]byte, error) {
	if s.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Items)
}

func decodeActivities(raws []json.RawMessage) []*Activity {
	out := make([]*Activity, 0, len(raws))
	for _, r := range raws {
		var a Activity
		if err := json.Unmarshal(r, &a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	return out
}

// Activity is a single itinerary entry as the model emitted it. Typed fields
// are coerced leniently (numbers written as strings still count); the raw
// field map is retained so presence checks and uncommon keys keep working.
type Activity struct {
	Type            string
	Name            string
	Description     string
	PlayTimeMinutes *int
	RecommendedTime *int
	Notes           []string
	CommuteFromPrev json.RawMessage
	Cuisine         string
	CuisineType     string
	PriceRange      string
	Latitude        *float64
	Longitude       *float64

	raw map[string]json.RawMessage
}

func (a *Activity) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	a.raw = m
	a.Type = lenientString(m["type"])
	a.Name = lenientString(m["name"])
	a.Description = lenientString(m["description"])
	a.PlayTimeMinutes = lenientInt(m["play_time_minutes"])
	a.RecommendedTime = lenientInt(m["recommended_time"])
	a.Notes = lenientStringList(m["notes"])
	a.CommuteFromPrev = m["commute_from_prev"]
	a.Cuisine = lenientString(m["cuisine"])
	a.CuisineType = lenientString(m["cuisine_type"])
	a.PriceRange = lenientString(m["price_range"])
	if a.Latitude = lenientFloat(m["lat"]); a.Latitude == nil {
		a.Latitude = lenientFloat(m["latitude"])
	}
	if a.Longitude = lenientFloat(m["lng"]); a.Longitude == nil {
		a.Longitude = lenientFloat(m["longitude"])
	}
	return nil
}

// MarshalJSON preserves the model's original fields when they exist, with
// coordinates written back so backfilled values survive persistence.
func (a *Activity) MarshalJSON() ([]byte, error) {
	if a.raw != nil {
		m := make(map[string]json.RawMessage, len(a.raw)+2)
		for k, v := range a.raw {
			m[k] = v
		}
		if a.Latitude != nil && a.Longitude != nil {
			lat, _ := json.Marshal(*a.Latitude)
			lng, _ := json.Marshal(*a.Longitude)
			m["lat"] = lat
			m["lng"] = lng
		}
		return json.Marshal(m)
	}
	out := map[string]interface{}{
		"type": a.Type,
		"name": a.Name,
	}
	if a.Description != "" {
		out["description"] = a.Description
	}
	if a.PlayTimeMinutes != nil {
		out["play_time_minutes"] = *a.PlayTimeMinutes
	}
	if len(a.Notes) > 0 {
		out["notes"] = a.Notes
	}
	if a.Cuisine != "" {
		out["cuisine"] = a.Cuisine
	}
	if a.CuisineType != "" {
		out["cuisine_type"] = a.CuisineType
	}
	if a.PriceRange != "" {
		out["price_range"] = a.PriceRange
	}
	if a.Latitude != nil && a.Longitude != nil {
		out["lat"] = *a.Latitude
		out["lng"] = *a.Longitude
	}
	return json.Marshal(out)
}

// Has reports whether the model's original object carried the key at all,
// regardless of its value.
func (a *Activity) Has(key string) bool {
	_, ok := a.raw[key]
	return ok
}

// Field returns the lenient string form of an arbitrary original field.
func (a *Activity) Field(key string) string {
	return lenientString(a.raw[key])
}

// CostEstimate is the derived per-item cost: the first number extracted from
// a price-like text plus a label preserving the original wording.
type CostEstimate struct {
	Label string   `json:"label"`
	Yuan  *float64 `json:"cost_yuan"`
}

// AnchorPoint is a day's geographic start or end, derived from trip facts.
// Never persisted; recomputed per day.
type AnchorPoint struct {
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Category  string  `json:"category"` // 住宿 or 机场
	Type      string  `json:"type"`     // accommodation or airport
}

// ItineraryItem is one frontend-ready entry in a day event, grouped under its
// timeslot.
type ItineraryItem struct {
	UniqueID        string          `json:"uniqueId"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`     // spot or restaurant
	Category        string          `json:"category"` // 景点 or 美食
	Description     string          `json:"description,omitempty"`
	DurationMinutes int             `json:"duration_minutes"`
	Notes           []string        `json:"notes,omitempty"`
	CommuteFromPrev json.RawMessage `json:"commute_from_prev,omitempty"`
	Cuisine         string          `json:"cuisine,omitempty"`
	PriceRange      string          `json:"price_range,omitempty"`
	Cost            *CostEstimate   `json:"cost,omitempty"`
	Latitude        *float64        `json:"lat"`
	Longitude       *float64        `json:"lng"`
	TimeSlot        string          `json:"time_slot"`
}

// SegmentCounts counts items per timeslot.
type SegmentCounts struct {
	Morning   int `json:"morning"`
	Afternoon int `json:"afternoon"`
	Evening   int `json:"evening"`
}

// DayStats lets the client diagnose empty days: raw schedule counts versus
// grouped item counts per segment, plus classified totals.
type DayStats struct {
	Spots       int           `json:"spots"`
	Restaurants int           `json:"restaurants"`
	Schedule    SegmentCounts `json:"schedule"`
	Grouped     SegmentCounts `json:"grouped"`
}

// DayEvent is the payload of one day event on the stream.
type DayEvent struct {
	DayNumber  int                        `json:"day_number"`
	Date       string                     `json:"date"`
	Theme      string                     `json:"theme,omitempty"`
	Items      map[string][]ItineraryItem `json:"items"`
	Stats      DayStats                   `json:"stats"`
	StartPoint *AnchorPoint               `json:"start_point"`
	EndPoint   *AnchorPoint               `json:"end_point"`
}

// DaySummary is one line of the result event's itinerary overview.
type DaySummary struct {
	DayNumber   int    `json:"day_number"`
	Date        string `json:"date"`
	Theme       string `json:"theme"`
	Spots       int    `json:"spots"`
	Restaurants int    `json:"restaurants"`
}

// ItineraryResult is the payload of the terminal result event.
type ItineraryResult struct {
	Success        bool            `json:"success"`
	TravelPlanID   int64           `json:"travel_plan_id"`
	Days           int             `json:"days"`
	Itinerary      []DaySummary    `json:"itinerary"`
	Attractions    []Attraction    `json:"attractions"`
	Restaurants    []Restaurant    `json:"restaurants"`
	Flights        []Flight        `json:"flights"`
	Accommodations []Accommodation `json:"accommodations"`
}

// GenerateItineraryRequest is the body of both generation endpoints. Dates are
// optional "2006-01-02" strings overriding the stored plan dates.
type GenerateItineraryRequest struct {
	TravelPlanID int64  `json:"travel_plan_id"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
}

// --- lenient JSON coercion ----------------------------------------------

func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if p := lenientString(item); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

func lenientInt(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		v := int(n)
		return &v
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if v, err := strconv.Atoi(s); err == nil {
			return &v
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			v := int(f)
			return &v
		}
	}
	return nil
}

func lenientFloat(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &f
		}
	}
	return nil
}

func lenientStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := strings.TrimSpace(lenientString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := strings.TrimSpace(lenientString(raw)); s != "" {
		return []string{s}
	}
	return nil
}
