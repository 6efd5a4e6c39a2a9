package client

import (
	"context"
	"errors"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

type GeminiClient struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewGeminiClientFromClient wraps an existing genai client. requestsPerSecond
// of zero disables pacing.
func NewGeminiClientFromClient(c *genai.Client, model string, requestsPerSecond float64) *GeminiClient {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = max(1, int(requestsPerSecond))
	}
	return &GeminiClient{
		client:  c,
		model:   model,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Submit sends one prompt and returns the raw response text.
func (g *GeminiClient) Submit(ctx context.Context, req entity.SubmitRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	model := req.Model
	if model == "" {
		model = g.model
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.ResponseFormat == entity.ResponseFormatJSON {
		cfg.ResponseMIMEType = "application/json"
	}

	result, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", mapError(err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", &entity.ServiceError{Retryable: true, Err: errors.New("empty response from model")}
	}
	return text, nil
}

// mapError converts genai API failures into entity.ServiceError. Other errors
// (network, context) pass through for the executor to classify.
func mapError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) {
			return err
		}
		apiErr = *apiErrPtr
	}
	return &entity.ServiceError{
		StatusCode: apiErr.Code,
		Retryable:  retryableStatus(apiErr.Code, apiErr.Message),
		Err:        fmt.Errorf("%s: %s", apiErr.Status, apiErr.Message),
	}
}

// retryableStatus reports whether a failed call may succeed if repeated.
// Rate limiting is retryable unless the quota itself is exhausted.
func retryableStatus(code int, message string) bool {
	switch code {
	case http.StatusTooManyRequests:
		return !strings.Contains(strings.ToLower(message), "quota")
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
