package entity

// Status is the coordinator lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusLoading  Status = "loading"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// GenerationState is the client-visible snapshot of a generation run.
type GenerationState struct {
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	Step         string `json:"step"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ItineraryID  string `json:"itineraryId,omitempty"`
}

// Terminal reports whether no further updates are expected for the current run.
func (s GenerationState) Terminal() bool {
	return s.Status == StatusSuccess || s.Status == StatusError || s.Status == StatusIdle
}
