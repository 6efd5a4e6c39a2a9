package usecase

import (
	"context"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"itinerary-core/internal/observability"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProgressFunc receives (0-100, step description) pairs while a run advances.
type ProgressFunc func(progress int, step string)

type PipelineConfig struct {
	// DayBatchSize caps how many per-day tasks are dispatched together.
	DayBatchSize int
}

// Pipeline composes dispatcher batches into a complete itinerary.
type Pipeline struct {
	dispatcher *Dispatcher
	cfg        PipelineConfig
	logger     *zap.Logger
	newID      func() string
}

func NewPipeline(dispatcher *Dispatcher, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if cfg.DayBatchSize < 1 {
		cfg.DayBatchSize = 5
	}
	return &Pipeline{
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

// Run generates an itinerary from scratch: candidates, per-day synthesis,
// whole-trip balancing, then personalization.
func (p *Pipeline) Run(ctx context.Context, req entity.GenerationRequest, progress ProgressFunc) (*entity.Itinerary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(int, string) {}
	}
	dayCount := req.DayCount()
	log := p.logger.With(zap.String("destination", req.Destination), zap.Int("days", dayCount))

	progress(5, "Gathering attractions and dining options")
	attractions, dining, err := p.gatherCandidates(ctx, req, dayCount)
	if err != nil {
		return nil, err
	}
	if len(attractions) < attractionCount(dayCount) || len(dining) < diningCount(dayCount) {
		log.Warn("fewer candidates than requested, reusing candidates across days",
			zap.Int("attractions", len(attractions)),
			zap.Int("dining", len(dining)))
	}
	progress(25, fmt.Sprintf("Found %d attractions and %d places to eat", len(attractions), len(dining)))

	draft, err := p.synthesizeDays(ctx, req, dayCount, attractions, dining, progress)
	if err != nil {
		return nil, err
	}

	progress(60, "Balancing the trip")
	balanced, err := p.balance(ctx, req, draft, dayCount)
	if err != nil {
		return nil, err
	}

	progress(75, "Personalizing your itinerary")
	personalized, err := p.personalize(ctx, req, balanced)
	if err != nil {
		return nil, err
	}

	progress(95, "Finalizing")
	it, err := p.finalize(personalized, balanced, req.StartDate, dayCount)
	if err != nil {
		return nil, err
	}
	it.ID = p.newID()
	it.Destination = req.Destination
	it.StartDate = req.StartDate
	it.EndDate = req.EndDate
	it.CreatedAt = time.Now().UTC()

	log.Info("itinerary generated", zap.Int("activities", countActivities(it.Days)))
	return it, nil
}

// Update re-synthesizes an existing itinerary from a free-text change request.
func (p *Pipeline) Update(ctx context.Context, current entity.Itinerary, instruction string, progress ProgressFunc) (*entity.Itinerary, error) {
	if err := current.Validate(); err != nil {
		return nil, err
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, fmt.Errorf("%w: change request is empty", entity.ErrValidation)
	}
	if progress == nil {
		progress = func(int, string) {}
	}
	dayCount := current.DayCount()

	progress(10, "Reviewing your requested changes")
	var revised daysResponse
	if err := p.runSingle(ctx, "revise", reviseTask(current, instruction), false, &revised); err != nil {
		return nil, err
	}

	progress(90, "Applying changes")
	it, err := p.finalize(revised.Days, toWireDays(current.Days), current.StartDate, dayCount)
	if err != nil {
		return nil, err
	}
	it.ID = current.ID
	if it.ID == "" {
		it.ID = p.newID()
	}
	it.Destination = current.Destination
	it.StartDate = current.StartDate
	it.EndDate = current.EndDate
	it.CreatedAt = current.CreatedAt
	return it, nil
}

func (p *Pipeline) gatherCandidates(ctx context.Context, req entity.GenerationRequest, dayCount int) ([]candidate, []candidate, error) {
	defer observeStage("candidates", time.Now())

	tasks := []entity.PromptTask{
		attractionsTask(req, attractionCount(dayCount)),
		diningTask(req, diningCount(dayCount)),
	}
	results, err := p.dispatcher.Dispatch(ctx, tasks, DispatchOptions{UseCache: true})
	if err != nil {
		return nil, nil, err
	}

	var attractions attractionsResponse
	if err := decodeStage("attractions", results[0], &attractions); err != nil {
		return nil, nil, err
	}
	var dining diningResponse
	if err := decodeStage("dining", results[1], &dining); err != nil {
		return nil, nil, err
	}
	return attractions.Attractions, dining.Restaurants, nil
}

// synthesizeDays dispatches one task per day in chunks of DayBatchSize and
// reports progress between 25 and 60.
func (p *Pipeline) synthesizeDays(
	ctx context.Context,
	req entity.GenerationRequest,
	dayCount int,
	attractions, dining []candidate,
	progress ProgressFunc,
) ([]wireDay, error) {
	defer observeStage("days", time.Now())

	draft := make([]wireDay, 0, dayCount)
	for start := 0; start < dayCount; start += p.cfg.DayBatchSize {
		end := min(start+p.cfg.DayBatchSize, dayCount)

		tasks := make([]entity.PromptTask, 0, end-start)
		for day := start; day < end; day++ {
			tasks = append(tasks, dayTask(req, day, pickCycled(attractions, day, 3), pickCycled(dining, day, 2)))
		}

		results, err := p.dispatcher.Dispatch(ctx, tasks, DispatchOptions{UseCache: true})
		if err != nil {
			return nil, err
		}
		for i, raw := range results {
			var resp dayResponse
			if err := decodeStage("day", raw, &resp); err != nil {
				return nil, err
			}
			draft = append(draft, wireDay{DayNumber: start + i + 1, Activities: resp.Activities})
		}

		progress(25+35*end/dayCount, fmt.Sprintf("Planned %d of %d days", end, dayCount))
	}
	return draft, nil
}

func (p *Pipeline) balance(ctx context.Context, req entity.GenerationRequest, draft []wireDay, dayCount int) ([]wireDay, error) {
	defer observeStage("balance", time.Now())

	var resp daysResponse
	if err := p.runSingle(ctx, "balance", balanceTask(req, draft), true, &resp); err != nil {
		return nil, err
	}
	return toWireDays(normalizeDays(resp.Days, draft, req.StartDate, dayCount)), nil
}

func (p *Pipeline) personalize(ctx context.Context, req entity.GenerationRequest, balanced []wireDay) ([]wireDay, error) {
	defer observeStage("personalize", time.Now())

	var resp daysResponse
	if err := p.runSingle(ctx, "personalize", personalizeTask(req, balanced), false, &resp); err != nil {
		return nil, err
	}
	return resp.Days, nil
}

func (p *Pipeline) runSingle(ctx context.Context, stage string, task entity.PromptTask, useCache bool, out any) error {
	results, err := p.dispatcher.Dispatch(ctx, []entity.PromptTask{task}, DispatchOptions{UseCache: useCache})
	if err != nil {
		return err
	}
	return decodeStage(stage, results[0], out)
}

func (p *Pipeline) finalize(days, fallback []wireDay, start entity.Date, dayCount int) (*entity.Itinerary, error) {
	if len(days) == 0 {
		return nil, entity.ErrEmptyResult
	}
	normalized := normalizeDays(days, fallback, start, dayCount)
	assignActivityIDs(normalized, p.newID)
	return &entity.Itinerary{Days: normalized}, nil
}

func countActivities(days []entity.Day) int {
	n := 0
	for _, d := range days {
		n += len(d.Activities)
	}
	return n
}

func observeStage(stage string, started time.Time) {
	observability.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}
