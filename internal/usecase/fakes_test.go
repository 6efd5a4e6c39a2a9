package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"strings"
	"sync"
)

// fakeService is a GenerativeService that records every request and answers
// through respond.
type fakeService struct {
	mu      sync.Mutex
	calls   []entity.SubmitRequest
	respond func(ctx context.Context, req entity.SubmitRequest, call int) (string, error)
}

func (f *fakeService) Submit(ctx context.Context, req entity.SubmitRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()

	if f.respond == nil {
		return "{}", nil
	}
	return f.respond(ctx, req, n)
}

func (f *fakeService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeService) CallsMatching(fragment string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c.Prompt, fragment) {
			n++
		}
	}
	return n
}

func (f *fakeService) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Prompt
	}
	return out
}

// Prompt fragments identifying each stage.
const (
	attractionsPrompt = "travel researcher"
	diningPrompt      = "food guide"
	dayPrompt         = "Plan day"
	balancePrompt     = "Rebalance"
	personalizePrompt = "Personalize this itinerary"
	revisePrompt      = "Apply this change request"
)

// tripResponder answers every stage with well-formed JSON for a trip of
// dayCount days. Personalized activities reuse the same id on every day.
func tripResponder(dayCount int) func(context.Context, entity.SubmitRequest, int) (string, error) {
	return func(_ context.Context, req entity.SubmitRequest, _ int) (string, error) {
		switch {
		case strings.Contains(req.Prompt, attractionsPrompt):
			return candidatesJSON("attractions", "Sight", 15), nil
		case strings.Contains(req.Prompt, diningPrompt):
			return candidatesJSON("restaurants", "Cafe", 10), nil
		case strings.Contains(req.Prompt, dayPrompt):
			return `{"activities":[{"title":"Morning walk","time":"09:00","type":"attraction"},{"title":"Lunch","time":"13:00","type":"dining"}]}`, nil
		case strings.Contains(req.Prompt, balancePrompt):
			return daysJSON(dayCount, ""), nil
		case strings.Contains(req.Prompt, personalizePrompt):
			return "```json\n" + daysJSON(dayCount, "same-id") + "\n```", nil
		case strings.Contains(req.Prompt, revisePrompt):
			return daysJSON(dayCount, "revised"), nil
		}
		return "", fmt.Errorf("unexpected prompt: %.40s", req.Prompt)
	}
}

func candidatesJSON(field, prefix string, n int) string {
	items := make([]map[string]string, n)
	for i := range items {
		items[i] = map[string]string{"name": fmt.Sprintf("%s %d", prefix, i+1)}
	}
	b, _ := json.Marshal(map[string]any{field: items})
	return string(b)
}

func daysJSON(dayCount int, activityID string) string {
	days := make([]wireDay, dayCount)
	for i := range days {
		days[i] = wireDay{
			DayNumber: i + 1,
			Activities: []entity.Activity{
				{ID: activityID, Title: fmt.Sprintf("Day %d highlight", i+1), Time: "10:00", Type: "attraction"},
			},
		}
	}
	b, _ := json.Marshal(daysResponse{Days: days})
	return string(b)
}

func lisbonRequest() entity.GenerationRequest {
	return entity.GenerationRequest{
		Destination: "Lisbon",
		StartDate:   entity.NewDate(2025, 5, 1),
		EndDate:     entity.NewDate(2025, 5, 3),
		Interests:   []entity.Tag{{ID: "history", Label: "History"}, {ID: "food", Label: "Food"}},
		Preferences: entity.Preferences{
			TravelStyle: "relaxed",
			Budget:      "mid-range",
			Pace:        entity.PaceModerate,
		},
	}
}

type memoryTripStore struct {
	mu    sync.Mutex
	items map[string][]byte
	err   error
}

func newMemoryTripStore() *memoryTripStore {
	return &memoryTripStore{items: make(map[string][]byte)}
}

func (s *memoryTripStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[key]
	return b, ok, nil
}

func (s *memoryTripStore) Save(_ context.Context, key string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.items[key] = payload
	return key, nil
}

func (s *memoryTripStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *memoryTripStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
