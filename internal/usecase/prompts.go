package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"sort"
	"strings"
)

const cacheKeyPrefix = "itinerary:v1:"

// Stage temperatures. Candidate lists and balancing favour consistency,
// personalization favours variety.
const (
	temperatureCandidates  float32 = 0.4
	temperatureDay         float32 = 0.6
	temperatureBalance     float32 = 0.3
	temperaturePersonalize float32 = 0.7
	temperatureRevise      float32 = 0.5
)

func attractionCount(dayCount int) int { return min(dayCount*3, 15) }

func diningCount(dayCount int) int { return min(dayCount*2, 10) }

// tripScope is the (destination, dates) part shared by every cache key.
func tripScope(req entity.GenerationRequest) string {
	return strings.ToLower(strings.TrimSpace(req.Destination)) + "|" + req.StartDate.String() + "|" + req.EndDate.String()
}

// tagSet renders tags as an order-independent key fragment.
func tagSet(tags []entity.Tag) string {
	ids := make([]string, 0, len(tags))
	for _, t := range tags {
		ids = append(ids, strings.ToLower(t.ID))
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func tagLabels(tags []entity.Tag) string {
	if len(tags) == 0 {
		return "none specified"
	}
	labels := make([]string, 0, len(tags))
	for _, t := range tags {
		label := t.Label
		if label == "" {
			label = t.ID
		}
		labels = append(labels, label)
	}
	return strings.Join(labels, ", ")
}

func cacheKey(stage string, parts ...string) string {
	return cacheKeyPrefix + stage + ":" + strings.Join(parts, "|")
}

func attractionsTask(req entity.GenerationRequest, count int) entity.PromptTask {
	prompt := fmt.Sprintf(`You are a travel researcher. List %d attractions in %s worth visiting between %s and %s.
Favour attractions matching these interests: %s.
Respond ONLY with JSON of the form:
{"attractions":[{"name":"","description":"","location":"","category":""}]}`,
		count, req.Destination, req.StartDate, req.EndDate, tagLabels(req.Interests))

	return entity.PromptTask{
		Prompt:      prompt,
		Temperature: temperatureCandidates,
		Parser:      extractObject,
		CacheKey:    cacheKey("attractions", tripScope(req), tagSet(req.Interests)),
	}
}

func diningTask(req entity.GenerationRequest, count int) entity.PromptTask {
	prompt := fmt.Sprintf(`You are a food guide. List %d places to eat in %s.
Every place must suit these dietary preferences: %s.
Respond ONLY with JSON of the form:
{"restaurants":[{"name":"","description":"","location":"","category":""}]}`,
		count, req.Destination, tagLabels(req.Preferences.DietaryPreferences))

	return entity.PromptTask{
		Prompt:      prompt,
		Temperature: temperatureCandidates,
		Parser:      extractObject,
		CacheKey:    cacheKey("dining", tripScope(req), tagSet(req.Preferences.DietaryPreferences)),
	}
}

func dayTask(req entity.GenerationRequest, dayIndex int, attractions, dining []candidate) entity.PromptTask {
	date := req.StartDate.AddDays(dayIndex)
	prompt := fmt.Sprintf(`Plan day %d (%s) of a trip to %s at a %s pace.
Use these attractions: %s
Use these places to eat: %s
Return an ordered, time-sequenced list of activities.
Respond ONLY with JSON of the form:
{"activities":[{"title":"","description":"","location":"","time":"HH:MM","type":"attraction|dining|transport|rest","category":"","subcategory":""}]}`,
		dayIndex+1, date, req.Destination, req.Preferences.Pace, mustJSON(attractions), mustJSON(dining))

	return entity.PromptTask{
		Prompt:      prompt,
		Temperature: temperatureDay,
		Parser:      extractObject,
		CacheKey:    cacheKey("day", tripScope(req), fmt.Sprintf("%d", dayIndex+1)),
	}
}

func balanceTask(req entity.GenerationRequest, draft []wireDay) entity.PromptTask {
	prompt := fmt.Sprintf(`Here is a draft %d-day itinerary for %s:
%s
Rebalance pacing and ordering across the whole trip for a %s pace: avoid overloaded days,
group nearby locations, keep every day. Do not invent new day numbers.
Respond ONLY with JSON of the form:
{"days":[{"dayNumber":1,"activities":[{"id":"","title":"","description":"","location":"","time":"","type":"","category":"","subcategory":""}]}]}`,
		len(draft), req.Destination, mustJSON(draft), req.Preferences.Pace)

	return entity.PromptTask{
		Prompt:      prompt,
		Temperature: temperatureBalance,
		Parser:      extractObject,
		CacheKey:    cacheKey("balance", tripScope(req), tagSet(req.Interests)),
	}
}

// personalizeTask is never cached: it must reflect the latest preferences.
func personalizeTask(req entity.GenerationRequest, balanced []wireDay) entity.PromptTask {
	p := req.Preferences
	prompt := fmt.Sprintf(`Personalize this itinerary for %s:
%s
Travel style: %s. Travelling as: %s. Budget: %s. Getting around by: %s. Dietary needs: %s. Pace: %s.
Adjust descriptions, swap unsuitable activities and keep ids of unchanged activities.
Respond ONLY with JSON of the form:
{"days":[{"dayNumber":1,"activities":[{"id":"","title":"","description":"","location":"","time":"","type":"","category":"","subcategory":""}]}]}`,
		req.Destination, mustJSON(balanced), p.TravelStyle, p.TravelGroup, p.Budget, p.TransportMode,
		tagLabels(p.DietaryPreferences), p.Pace)

	return entity.PromptTask{
		Prompt:      prompt,
		Temperature: temperaturePersonalize,
		Parser:      extractObject,
	}
}

func reviseTask(it entity.Itinerary, instruction string) entity.PromptTask {
	prompt := fmt.Sprintf(`Here is an itinerary for %s from %s to %s:
%s
Apply this change request from the traveller: %q
Keep every day and keep ids of unchanged activities.
Respond ONLY with JSON of the form:
{"days":[{"dayNumber":1,"activities":[{"id":"","title":"","description":"","location":"","time":"","type":"","category":"","subcategory":""}]}]}`,
		it.Destination, it.StartDate, it.EndDate, mustJSON(toWireDays(it.Days)), instruction)

	return entity.PromptTask{
		Prompt:      prompt,
		Temperature: temperatureRevise,
		Parser:      extractObject,
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// extractObject recovers a JSON object wrapped in surrounding prose.
func extractObject(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in response")
	}
	obj := text[start : end+1]
	if !json.Valid([]byte(obj)) {
		return nil, errors.New("embedded JSON object is malformed")
	}
	return json.RawMessage(obj), nil
}
