package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"itinerary-core/internal/domain/repository"
	"itinerary-core/internal/observability"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TripKeyPrefix namespaces saved itineraries in the TripStore.
const TripKeyPrefix = "trip:"

// Runner produces itineraries. *Pipeline is the production implementation.
type Runner interface {
	Run(ctx context.Context, req entity.GenerationRequest, progress ProgressFunc) (*entity.Itinerary, error)
	Update(ctx context.Context, current entity.Itinerary, instruction string, progress ProgressFunc) (*entity.Itinerary, error)
}

type CoordinatorConfig struct {
	SessionID         string
	ProgressDebounce  time.Duration
	ErrorResetTimeout time.Duration
}

type observer struct {
	id uint64
	fn func(entity.GenerationState)
}

type pendingProgress struct {
	progress int
	step     string
}

// Coordinator owns the lifecycle of one caller's generation runs. At most one
// run is in flight; starting another cancels the previous one.
type Coordinator struct {
	runner Runner
	store  repository.TripStore
	quota  repository.QuotaLimiter
	cfg    CoordinatorConfig
	logger *zap.Logger

	mu            sync.Mutex
	state         entity.GenerationState
	result        *entity.Itinerary
	runID         uint64
	cancel        context.CancelFunc
	pending       *pendingProgress
	debounceTimer *time.Timer
	debounceSeq   uint64
	resetTimer    *time.Timer
	observers     []observer
	nextObserver  uint64
	outbox        []entity.GenerationState

	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

// NewCoordinator wires a coordinator. store and quota may be nil.
func NewCoordinator(
	runner Runner,
	store repository.TripStore,
	quota repository.QuotaLimiter,
	cfg CoordinatorConfig,
	logger *zap.Logger,
) *Coordinator {
	if cfg.ErrorResetTimeout <= 0 {
		cfg.ErrorResetTimeout = 10 * time.Second
	}
	if cfg.ProgressDebounce < 0 {
		cfg.ProgressDebounce = 0
	}
	return &Coordinator{
		runner: runner,
		store:  store,
		quota:  quota,
		cfg:    cfg,
		logger: logger.With(zap.String("session", cfg.SessionID)),
		state:  entity.GenerationState{Status: entity.StatusIdle},
	}
}

// StartGeneration begins a new itinerary run in the background. Invalid
// requests and exhausted quotas are reported synchronously.
func (c *Coordinator) StartGeneration(req entity.GenerationRequest) error {
	if err := req.Validate(); err != nil {
		c.rejectStart(err)
		return err
	}
	if err := c.checkQuota(); err != nil {
		c.rejectStart(err)
		return err
	}
	c.start("generate", func(ctx context.Context, progress ProgressFunc) (*entity.Itinerary, error) {
		return c.runner.Run(ctx, req, progress)
	})
	return nil
}

// StartUpdate revises an existing itinerary according to instruction.
func (c *Coordinator) StartUpdate(current entity.Itinerary, instruction string) error {
	if err := current.Validate(); err != nil {
		c.rejectStart(err)
		return err
	}
	if strings.TrimSpace(instruction) == "" {
		err := fmt.Errorf("%w: change request is empty", entity.ErrValidation)
		c.rejectStart(err)
		return err
	}
	if err := c.checkQuota(); err != nil {
		c.rejectStart(err)
		return err
	}
	c.start("update", func(ctx context.Context, progress ProgressFunc) (*entity.Itinerary, error) {
		return c.runner.Update(ctx, current, instruction, progress)
	})
	return nil
}

// Cancel aborts the in-flight run, if any, and returns to idle.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	c.abortLocked()
	if c.state.Status != entity.StatusIdle {
		c.publishLocked(entity.GenerationState{Status: entity.StatusIdle})
	}
	c.mu.Unlock()
	c.flush()
}

// Reset cancels any run, forgets the last result and returns to idle.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.abortLocked()
	c.result = nil
	c.publishLocked(entity.GenerationState{Status: entity.StatusIdle})
	c.mu.Unlock()
	c.flush()
}

// Subscribe registers fn for every state change and returns a function that
// removes it. Callbacks run one at a time, in publication order.
func (c *Coordinator) Subscribe(fn func(entity.GenerationState)) func() {
	c.mu.Lock()
	c.nextObserver++
	id := c.nextObserver
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, o := range c.observers {
				if o.id == id {
					c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Busy reports whether a run is in flight or an observer is subscribed.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil || len(c.observers) > 0
}

func (c *Coordinator) State() entity.GenerationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the itinerary produced by the last successful run.
func (c *Coordinator) Result() (*entity.Itinerary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.result != nil
}

// Wait blocks until every background run has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) start(kind string, run func(ctx context.Context, progress ProgressFunc) (*entity.Itinerary, error)) {
	c.mu.Lock()
	c.abortLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	id := c.runID
	c.publishLocked(entity.GenerationState{Status: entity.StatusStarting, Step: "Starting"})
	c.mu.Unlock()
	c.flush()

	c.logger.Info("generation run started", zap.String("kind", kind), zap.Uint64("run", id))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		c.mu.Lock()
		if c.runID == id {
			c.publishLocked(entity.GenerationState{Status: entity.StatusLoading, Step: "Preparing"})
		}
		c.mu.Unlock()
		c.flush()

		it, err := run(ctx, func(progress int, step string) {
			c.reportProgress(id, progress, step)
		})
		c.finish(ctx, id, kind, it, err)
	}()
}

// rejectStart surfaces a synchronous start failure as the error state. A run
// already in flight is left untouched.
func (c *Coordinator) rejectStart(err error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	c.abortLocked()
	c.failLocked(c.runID, err)
	c.mu.Unlock()
	c.flush()
}

func (c *Coordinator) reportProgress(id uint64, progress int, step string) {
	c.mu.Lock()
	if id != c.runID || c.state.Status != entity.StatusLoading {
		c.mu.Unlock()
		return
	}
	floor := c.state.Progress
	if c.pending != nil && c.pending.progress > floor {
		floor = c.pending.progress
	}
	if progress < floor {
		c.mu.Unlock()
		return
	}

	if progress%25 == 0 || c.cfg.ProgressDebounce == 0 {
		c.stopDebounceLocked()
		c.publishLocked(entity.GenerationState{Status: entity.StatusLoading, Progress: progress, Step: step})
		c.mu.Unlock()
		c.flush()
		return
	}

	c.pending = &pendingProgress{progress: progress, step: step}
	if c.debounceTimer == nil {
		c.debounceSeq++
		seq := c.debounceSeq
		c.debounceTimer = time.AfterFunc(c.cfg.ProgressDebounce, func() {
			c.publishPending(id, seq)
		})
	}
	c.mu.Unlock()
}

// publishPending runs when debounce timer seq fires. A timer that was stopped
// or replaced while waiting for the lock does nothing.
func (c *Coordinator) publishPending(id, seq uint64) {
	c.mu.Lock()
	if id != c.runID || seq != c.debounceSeq || c.debounceTimer == nil {
		c.mu.Unlock()
		return
	}
	c.debounceTimer = nil
	p := c.pending
	c.pending = nil
	if p == nil || c.state.Status != entity.StatusLoading || p.progress < c.state.Progress {
		c.mu.Unlock()
		return
	}
	c.publishLocked(entity.GenerationState{Status: entity.StatusLoading, Progress: p.progress, Step: p.step})
	c.mu.Unlock()
	c.flush()
}

func (c *Coordinator) finish(ctx context.Context, id uint64, kind string, it *entity.Itinerary, err error) {
	c.mu.Lock()
	if id != c.runID {
		// Superseded by Cancel, Reset or a newer run.
		c.mu.Unlock()
		observability.GenerationRuns.WithLabelValues(kind, "cancelled").Inc()
		return
	}
	pending := c.pending
	c.stopDebounceLocked()
	c.cancel = nil

	switch {
	case err == nil:
		c.result = it
		c.publishLocked(entity.GenerationState{
			Status:      entity.StatusSuccess,
			Progress:    100,
			Step:        "Your itinerary is ready",
			ItineraryID: it.ID,
		})
	case errors.Is(err, entity.ErrCancelled):
		c.publishLocked(entity.GenerationState{Status: entity.StatusIdle})
	default:
		// Buffered progress was reported by the run and counts as the last value.
		if pending != nil && pending.progress > c.state.Progress {
			c.state.Progress, c.state.Step = pending.progress, pending.step
		}
		c.failLocked(id, err)
	}
	c.mu.Unlock()
	c.flush()

	switch {
	case err == nil:
		observability.GenerationRuns.WithLabelValues(kind, string(entity.StatusSuccess)).Inc()
		c.logger.Info("generation run succeeded", zap.String("kind", kind), zap.String("itinerary", it.ID))
		c.persist(context.WithoutCancel(ctx), it)
	case errors.Is(err, entity.ErrCancelled):
		observability.GenerationRuns.WithLabelValues(kind, "cancelled").Inc()
		c.logger.Info("generation run cancelled", zap.String("kind", kind))
	default:
		observability.GenerationRuns.WithLabelValues(kind, string(entity.StatusError)).Inc()
		c.logger.Error("generation run failed", zap.String("kind", kind), zap.Error(err))
	}
}

// persist saves the itinerary and charges the session quota. Failures are
// logged only; the run already succeeded.
func (c *Coordinator) persist(ctx context.Context, it *entity.Itinerary) {
	if c.store != nil {
		payload, err := json.Marshal(it)
		if err == nil {
			_, err = c.store.Save(ctx, TripKeyPrefix+it.ID, payload)
		}
		if err != nil {
			c.logger.Warn("failed to save itinerary", zap.String("itinerary", it.ID), zap.Error(err))
		}
	}
	if c.quota != nil {
		if err := c.quota.Increment(ctx, c.cfg.SessionID); err != nil {
			c.logger.Warn("failed to record generation usage", zap.Error(err))
		}
	}
}

func (c *Coordinator) checkQuota() error {
	if c.quota == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	allowed, err := c.quota.CheckLimit(ctx, c.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}
	if !allowed {
		return entity.ErrQuotaExceeded
	}
	return nil
}

// failLocked publishes the error state, keeping the last progress value, and
// arms the auto-clear timer for run id.
func (c *Coordinator) failLocked(id uint64, err error) {
	c.publishLocked(entity.GenerationState{
		Status:       entity.StatusError,
		Progress:     c.state.Progress,
		Step:         c.state.Step,
		ErrorMessage: entity.UserMessage(err),
	})
	c.resetTimer = time.AfterFunc(c.cfg.ErrorResetTimeout, func() {
		c.mu.Lock()
		if id != c.runID || c.state.Status != entity.StatusError {
			c.mu.Unlock()
			return
		}
		c.resetTimer = nil
		c.publishLocked(entity.GenerationState{Status: entity.StatusIdle})
		c.mu.Unlock()
		c.flush()
	})
}

// abortLocked invalidates the current run and stops every timer.
func (c *Coordinator) abortLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.runID++
	c.stopDebounceLocked()
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

func (c *Coordinator) stopDebounceLocked() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
		c.debounceSeq++
	}
	c.pending = nil
}

func (c *Coordinator) publishLocked(s entity.GenerationState) {
	c.state = s
	c.outbox = append(c.outbox, s)
}

// flush delivers queued states. Only one goroutine delivers at a time; a
// callback that re-enters the coordinator has its states picked up by the
// loop already running.
func (c *Coordinator) flush() {
	for {
		if !c.deliverMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			if len(c.outbox) == 0 {
				c.mu.Unlock()
				break
			}
			s := c.outbox[0]
			c.outbox = c.outbox[1:]
			observers := append([]observer(nil), c.observers...)
			c.mu.Unlock()

			for _, o := range observers {
				o.fn(s)
			}
		}
		c.deliverMu.Unlock()

		c.mu.Lock()
		more := len(c.outbox) > 0
		c.mu.Unlock()
		if !more {
			return
		}
	}
}
