package itinerary

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lvtu-ai/travel-planner/internal/types"
)

var (
	leadingFenceRe  = regexp.MustCompile("(?i)^\\s*```(?:json)?\\s*")
	trailingFenceRe = regexp.MustCompile("\\s*```\\s*$")
)

// stripCodeFences removes a Markdown code-fence wrapper the model sometimes
// adds around its JSON.
func stripCodeFences(text string) string {
	if text == "" {
		return text
	}
	text = leadingFenceRe.ReplaceAllString(text, "")
	text = trailingFenceRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// parseStrategy attempts to extract one JSON object from raw text. Strategies
// report failure instead of returning errors; the caller tries the next one.
type parseStrategy func(raw string) (map[string]json.RawMessage, bool)

// parseWhole accepts the text only when it is exactly one JSON object.
func parseWhole(raw string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// parseScan tries a partial decode at every opening brace, accepting the
// first complete well-formed object. Tolerates prose before the JSON and
// garbage after it.
func parseScan(raw string) (map[string]json.RawMessage, bool) {
	for start := strings.IndexByte(raw, '{'); start != -1; {
		dec := json.NewDecoder(strings.NewReader(raw[start:]))
		var obj map[string]json.RawMessage
		if err := dec.Decode(&obj); err == nil && obj != nil {
			return obj, true
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next == -1 {
			break
		}
		start += 1 + next
	}
	return nil, false
}

// parseOutermost cuts from the first '{' to the last '}' and parses that.
func parseOutermost(raw string) (map[string]json.RawMessage, bool) {
	first := strings.IndexByte(raw, '{')
	last := strings.LastIndexByte(raw, '}')
	if first == -1 || last <= first {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[first:last+1]), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// Parse extracts a day-keyed itinerary from free-form LLM output. Strategies
// run in priority order and the first success wins; when every strategy
// fails the caller still gets a usable itinerary with one empty day plan per
// day. Never returns nil.
func Parse(raw string, days int) types.ParsedItinerary {
	cleaned := stripCodeFences(strings.TrimSpace(raw))

	strategies := []parseStrategy{parseWhole, parseScan, parseOutermost}
	for _, strategy := range strategies {
		if obj, ok := strategy(cleaned); ok {
			return decodeItinerary(obj)
		}
	}
	return DefaultItinerary(days)
}

// decodeItinerary converts the extracted object into day plans. Keys whose
// values are not objects are dropped.
func decodeItinerary(obj map[string]json.RawMessage) types.ParsedItinerary {
	it := make(types.ParsedItinerary, len(obj))
	for key, raw := range obj {
		var plan types.DayPlan
		if err := json.Unmarshal(raw, &plan); err != nil {
			continue
		}
		it[key] = &plan
	}
	return it
}

// DefaultItinerary builds the total-failure fallback: exactly one empty day
// plan per day, themed "第N天行程".
func DefaultItinerary(days int) types.ParsedItinerary {
	it := make(types.ParsedItinerary, days)
	for day := 1; day <= days; day++ {
		it[types.DayKey(day)] = emptyDayPlan(day)
	}
	return it
}

func emptyDayPlan(day int) *types.DayPlan {
	return &types.DayPlan{
		Theme: fmt.Sprintf("第%d天行程", day),
	}
}
