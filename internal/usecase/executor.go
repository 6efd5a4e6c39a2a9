package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"itinerary-core/internal/domain/repository"
	"itinerary-core/internal/observability"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type ExecutorConfig struct {
	Model          string
	FallbackModel  string // tried once after the primary exhausts its retries
	MaxRetries     int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

// Executor performs a single prompt task with classification-driven retry.
type Executor struct {
	service repository.GenerativeService
	cfg     ExecutorConfig
	logger  *zap.Logger
}

func NewExecutor(service repository.GenerativeService, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 25 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Executor{service: service, cfg: cfg, logger: logger}
}

// Execute runs the task and returns its response as JSON. Failures wrap one of
// entity.ErrCancelled, ErrTransientService, ErrPermanentService or ErrParse.
func (e *Executor) Execute(ctx context.Context, task entity.PromptTask) (json.RawMessage, error) {
	model := task.Model
	if model == "" {
		model = e.cfg.Model
	}

	text, err := e.executeWithRetry(ctx, task, model)
	if err != nil && errors.Is(err, entity.ErrTransientService) && e.cfg.FallbackModel != "" && e.cfg.FallbackModel != model {
		e.logger.Warn("primary model exhausted, switching to fallback",
			zap.String("model", model),
			zap.String("fallback", e.cfg.FallbackModel),
			zap.Error(err))
		text, err = e.attempt(ctx, task, e.cfg.FallbackModel)
	}
	if err != nil {
		return nil, err
	}
	return e.parse(task, text)
}

func (e *Executor) executeWithRetry(ctx context.Context, task entity.PromptTask, model string) (string, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.cfg.BaseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0.2
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(e.cfg.MaxRetries)), ctx)

	var text string
	attempts := 0
	op := func() error {
		attempts++
		out, err := e.attempt(ctx, task, model)
		if err == nil {
			text = out
			return nil
		}
		if errors.Is(err, entity.ErrTransientService) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Info("transient generation failure, retrying",
			zap.String("model", model),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", entity.ErrCancelled, ctxErr)
		}
		return "", err
	}
	return text, nil
}

// attempt issues one call under its own timeout.
func (e *Executor) attempt(ctx context.Context, task entity.PromptTask, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		observability.LLMAttempts.WithLabelValues(model, "cancelled").Inc()
		return "", fmt.Errorf("%w: %w", entity.ErrCancelled, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	text, err := e.service.Submit(attemptCtx, entity.SubmitRequest{
		Prompt:         task.Prompt,
		Model:          model,
		Temperature:    task.Temperature,
		ResponseFormat: entity.ResponseFormatJSON,
	})
	if err == nil {
		observability.LLMAttempts.WithLabelValues(model, "success").Inc()
		return text, nil
	}

	switch classify(ctx, err) {
	case errorClassCancelled:
		observability.LLMAttempts.WithLabelValues(model, "cancelled").Inc()
		return "", fmt.Errorf("%w: %w", entity.ErrCancelled, err)
	case errorClassTransient:
		observability.LLMAttempts.WithLabelValues(model, "transient").Inc()
		return "", fmt.Errorf("%w: %w", entity.ErrTransientService, err)
	default:
		observability.LLMAttempts.WithLabelValues(model, "permanent").Inc()
		return "", fmt.Errorf("%w: %w", entity.ErrPermanentService, err)
	}
}

type errorClass int

const (
	errorClassPermanent errorClass = iota
	errorClassTransient
	errorClassCancelled
)

// classify decides whether a failed attempt may be retried. parent is the
// caller's context, not the per-attempt one.
func classify(parent context.Context, err error) errorClass {
	if parent.Err() != nil || errors.Is(err, entity.ErrCancelled) {
		return errorClassCancelled
	}

	var svcErr *entity.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.Retryable {
			return errorClassTransient
		}
		return errorClassPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errorClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errorClassTransient
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "quota") {
		return errorClassPermanent
	}
	for _, marker := range []string{"429", "500", "502", "503", "504", "overloaded", "unavailable", "connection reset", "timeout"} {
		if strings.Contains(msg, marker) {
			return errorClassTransient
		}
	}
	return errorClassPermanent
}

func (e *Executor) parse(task entity.PromptTask, text string) (json.RawMessage, error) {
	cleaned := stripCodeFence(text)
	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned), nil
	}
	if task.Parser != nil {
		out, err := task.Parser(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", entity.ErrParse, err)
		}
		return out, nil
	}

	e.logger.Warn("response is not JSON, returning raw text",
		zap.String("cache_key", task.CacheKey),
		zap.Int("length", len(text)))
	raw, err := json.Marshal(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrParse, err)
	}
	return raw, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block if present.
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
