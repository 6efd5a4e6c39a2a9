package usecase

import (
	"encoding/json"
	"fmt"
	"itinerary-core/internal/domain/entity"
)

type candidate struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Category    string `json:"category,omitempty"`
}

type attractionsResponse struct {
	Attractions []candidate `json:"attractions"`
}

type diningResponse struct {
	Restaurants []candidate `json:"restaurants"`
}

type dayResponse struct {
	Activities []entity.Activity `json:"activities"`
}

// wireDay is the model-facing day shape. Dates are derived locally so a
// malformed date from the model can never fail a run.
type wireDay struct {
	DayNumber  int               `json:"dayNumber"`
	Activities []entity.Activity `json:"activities"`
}

type daysResponse struct {
	Days []wireDay `json:"days"`
}

func decodeStage(stage string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s stage: %v", entity.ErrParse, stage, err)
	}
	return nil
}

// pickCycled returns n candidates for slot, cycling through the list when it
// is shorter than needed. Duplicates within one slot are skipped.
func pickCycled(list []candidate, slot, n int) []candidate {
	if len(list) == 0 || n <= 0 {
		return nil
	}
	out := make([]candidate, 0, n)
	seen := make(map[int]struct{}, n)
	for k := 0; k < n; k++ {
		idx := (slot*n + k) % len(list)
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, list[idx])
	}
	return out
}

func toWireDays(days []entity.Day) []wireDay {
	out := make([]wireDay, len(days))
	for i, d := range days {
		out[i] = wireDay{DayNumber: d.DayNumber, Activities: d.Activities}
	}
	return out
}

// normalizeDays returns exactly dayCount days numbered 1..dayCount and dated
// from start. Days with a missing, out of range or repeated number fill the
// first free slot; remaining gaps come from fallback; extras are dropped.
func normalizeDays(days, fallback []wireDay, start entity.Date, dayCount int) []entity.Day {
	slots := make([]*wireDay, dayCount)
	var unplaced []wireDay
	for i := range days {
		d := days[i]
		if d.DayNumber >= 1 && d.DayNumber <= dayCount && slots[d.DayNumber-1] == nil {
			slots[d.DayNumber-1] = &d
			continue
		}
		unplaced = append(unplaced, d)
	}
	for i := range slots {
		if slots[i] != nil || len(unplaced) == 0 {
			continue
		}
		d := unplaced[0]
		unplaced = unplaced[1:]
		slots[i] = &d
	}

	fallbackByNumber := make(map[int]wireDay, len(fallback))
	for _, d := range fallback {
		if _, exists := fallbackByNumber[d.DayNumber]; !exists {
			fallbackByNumber[d.DayNumber] = d
		}
	}

	out := make([]entity.Day, dayCount)
	for i := range out {
		var activities []entity.Activity
		switch {
		case slots[i] != nil:
			activities = slots[i].Activities
		default:
			activities = fallbackByNumber[i+1].Activities
		}
		if activities == nil {
			activities = []entity.Activity{}
		}
		out[i] = entity.Day{
			DayNumber:  i + 1,
			Date:       start.AddDays(i),
			Activities: activities,
		}
	}
	return out
}

// assignActivityIDs gives every activity an id unique across the itinerary.
// Missing ids are generated; on collision the later activity is renamed.
func assignActivityIDs(days []entity.Day, newID func() string) {
	seen := make(map[string]struct{})
	for di := range days {
		acts := make([]entity.Activity, len(days[di].Activities))
		copy(acts, days[di].Activities)
		for ai := range acts {
			id := acts[ai].ID
			for id == "" {
				id = newID()
			}
			for {
				if _, taken := seen[id]; !taken {
					break
				}
				id = newID()
			}
			acts[ai].ID = id
			seen[id] = struct{}{}
		}
		days[di].Activities = acts
	}
}
