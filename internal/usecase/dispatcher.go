package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"itinerary-core/internal/domain/repository"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TaskExecutor runs one prompt task. *Executor is the production implementation.
type TaskExecutor interface {
	Execute(ctx context.Context, task entity.PromptTask) (json.RawMessage, error)
}

type DispatchOptions struct {
	UseCache bool
}

// Dispatcher fans a batch of independent tasks out concurrently.
type Dispatcher struct {
	executor TaskExecutor
	cache    repository.ResponseCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewDispatcher(executor TaskExecutor, cache repository.ResponseCache, cacheTTL time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		executor: executor,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Dispatch returns results aligned index-for-index with tasks. The batch fails
// on the first unrecovered task error and no partial results are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []entity.PromptTask, opts DispatchOptions) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(tasks))
	useCache := opts.UseCache && d.cache != nil

	var pending []int
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", entity.ErrCancelled, err)
		}
		if useCache && task.CacheKey != "" {
			if cached, ok := d.cache.Get(ctx, task.CacheKey); ok {
				results[i] = cached
				continue
			}
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		d.logger.Debug("batch served from cache", zap.Int("tasks", len(tasks)))
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range pending {
		g.Go(func() error {
			out, err := d.executor.Execute(gctx, tasks[idx])
			if err != nil {
				return fmt.Errorf("task %d: %w", idx, err)
			}
			results[idx] = out
			return nil
		})
	}
	err := g.Wait()

	// Once cancellation is observed nothing else may be written for this run.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrCancelled, ctxErr)
	}
	if err != nil {
		return nil, err
	}

	if useCache {
		for _, idx := range pending {
			if key := tasks[idx].CacheKey; key != "" {
				d.cache.Set(ctx, key, results[idx], d.cacheTTL)
			}
		}
	}

	d.logger.Debug("batch dispatched",
		zap.Int("tasks", len(tasks)),
		zap.Int("cache_hits", len(tasks)-len(pending)))
	return results, nil
}
