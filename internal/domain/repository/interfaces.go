package repository

import (
	"context"
	"encoding/json"
	"itinerary-core/internal/domain/entity"
	"time"
)

// GenerativeService is the outbound text generation boundary.
type GenerativeService interface {
	Submit(ctx context.Context, req entity.SubmitRequest) (string, error)
}

// ResponseCache memoizes generation results by caller-assigned key.
type ResponseCache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration)
}

// TripStore persists opaque payloads such as saved itineraries and user preferences.
type TripStore interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, payload []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

type QuotaLimiter interface {
	CheckLimit(ctx context.Context, sessionID string) (bool, error)
	Increment(ctx context.Context, sessionID string) error
}

type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}
