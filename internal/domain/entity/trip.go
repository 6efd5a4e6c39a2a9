package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxTripDays is the longest itinerary that can be generated.
const MaxTripDays = 14

const dateLayout = "2006-01-02"

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{d.AddDate(0, 0, n)}
}

// DaysUntil returns the number of calendar days from d to other.
func (d Date) DaysUntil(other Date) int {
	a := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(other.Year(), other.Month(), other.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	*d = parsed
	return nil
}

// Tag is an {id, label} pair used for interests and dietary preferences.
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Pace string

const (
	PaceSlow     Pace = "slow"
	PaceModerate Pace = "moderate"
	PaceFast     Pace = "fast"
)

type Preferences struct {
	TravelStyle        string `json:"travelStyle"`
	TravelGroup        string `json:"travelGroup"`
	Budget             string `json:"budget"`
	TransportMode      string `json:"transportMode"`
	DietaryPreferences []Tag  `json:"dietaryPreferences"`
	Pace               Pace   `json:"pace"`
}

// GenerationRequest describes the trip to plan.
type GenerationRequest struct {
	Destination string      `json:"destination"`
	StartDate   Date        `json:"startDate"`
	EndDate     Date        `json:"endDate"`
	Interests   []Tag       `json:"interests"`
	Preferences Preferences `json:"preferences"`
}

// DayCount is the inclusive number of days in the trip.
func (r GenerationRequest) DayCount() int {
	return r.StartDate.DaysUntil(r.EndDate) + 1
}

// Validate checks the request invariants and normalises ordered sets.
// It never performs I/O.
func (r *GenerationRequest) Validate() error {
	r.Destination = strings.TrimSpace(r.Destination)
	if r.Destination == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrValidation)
	}
	if r.EndDate.Before(r.StartDate.Time) {
		return fmt.Errorf("%w: end date must not be before start date", ErrValidation)
	}
	if n := r.DayCount(); n > MaxTripDays {
		return fmt.Errorf("%w: trip spans %d days, the maximum is %d", ErrValidation, n, MaxTripDays)
	}
	switch r.Preferences.Pace {
	case "":
		r.Preferences.Pace = PaceModerate
	case PaceSlow, PaceModerate, PaceFast:
	default:
		return fmt.Errorf("%w: unknown pace %q", ErrValidation, r.Preferences.Pace)
	}
	r.Interests = dedupeTags(r.Interests)
	r.Preferences.DietaryPreferences = dedupeTags(r.Preferences.DietaryPreferences)
	return nil
}

func dedupeTags(tags []Tag) []Tag {
	if len(tags) == 0 {
		return tags
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Activity is a single itinerary entry.
type Activity struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Time        string `json:"time"`
	Type        string `json:"type"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
}

type Day struct {
	DayNumber  int        `json:"dayNumber"`
	Date       Date       `json:"date"`
	Activities []Activity `json:"activities"`
}

// Itinerary is a day-by-day trip plan.
type Itinerary struct {
	ID          string    `json:"id,omitempty"`
	Destination string    `json:"destination"`
	StartDate   Date      `json:"startDate"`
	EndDate     Date      `json:"endDate"`
	Days        []Day     `json:"days"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// DayCount is the inclusive number of days between the itinerary dates.
func (it Itinerary) DayCount() int {
	return it.StartDate.DaysUntil(it.EndDate) + 1
}

// Validate checks that an existing itinerary can be used as an update base.
func (it Itinerary) Validate() error {
	if strings.TrimSpace(it.Destination) == "" {
		return fmt.Errorf("%w: itinerary destination is required", ErrValidation)
	}
	if it.StartDate.IsZero() || it.EndDate.IsZero() || it.EndDate.Before(it.StartDate.Time) {
		return fmt.Errorf("%w: itinerary has an invalid date range", ErrValidation)
	}
	if n := it.DayCount(); n > MaxTripDays {
		return fmt.Errorf("%w: itinerary spans %d days, the maximum is %d", ErrValidation, n, MaxTripDays)
	}
	if len(it.Days) == 0 {
		return fmt.Errorf("%w: itinerary has no days", ErrValidation)
	}
	return nil
}
