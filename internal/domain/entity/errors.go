package entity

import (
	"errors"
	"fmt"
)

// Standard domain errors
var (
	ErrCancelled        = errors.New("operation cancelled")
	ErrTransientService = errors.New("generative service temporarily unavailable")
	ErrPermanentService = errors.New("generative service rejected the request")
	ErrParse            = errors.New("generative service response could not be interpreted")
	ErrEmptyResult      = errors.New("generation produced no usable days")
	ErrValidation       = errors.New("invalid request parameters")

	ErrQuotaExceeded = errors.New("generation quota exceeded")
	ErrNotFound      = errors.New("the requested resource was not found")
)

// ServiceError is returned by GenerativeService adapters so the executor can
// classify failures without parsing messages.
type ServiceError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("generative service error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generative service error: %v", e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// UserMessage maps a terminal generation error to the text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "Please check your trip details: " + unwrapDetail(err)
	case errors.Is(err, ErrTransientService):
		return "The itinerary service is busy right now. Please try again in a moment."
	case errors.Is(err, ErrPermanentService):
		return "The itinerary service could not process this request."
	case errors.Is(err, ErrParse):
		return "We received an unexpected response while building your itinerary. Please try again."
	case errors.Is(err, ErrEmptyResult):
		return "We couldn't build any days for this trip. Try adjusting your destination or interests."
	case errors.Is(err, ErrQuotaExceeded):
		return "You have reached your itinerary generation limit."
	default:
		return "Something went wrong while generating your itinerary."
	}
}

func unwrapDetail(err error) string {
	msg := err.Error()
	prefix := ErrValidation.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
