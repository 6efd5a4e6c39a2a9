package usecase

import (
	"context"
	"errors"
	"itinerary-core/internal/domain/entity"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type progressLog struct {
	mu     sync.Mutex
	values []int
	steps  []string
}

func (l *progressLog) record(p int, step string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, p)
	l.steps = append(l.steps, step)
}

func newTestPipeline(t *testing.T, svc *fakeService, cache *MemoryCache, batch int) *Pipeline {
	t.Helper()
	logger := zaptest.NewLogger(t)
	exec := NewExecutor(svc, ExecutorConfig{Model: "test", MaxRetries: 1, BaseDelay: time.Millisecond}, logger)
	return NewPipeline(NewDispatcher(exec, cache, time.Hour, logger), PipelineConfig{DayBatchSize: batch}, logger)
}

func TestPipeline_Run(t *testing.T) {
	svc := &fakeService{respond: tripResponder(3)}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)
	progress := &progressLog{}

	it, err := p.Run(context.Background(), lisbonRequest(), progress.record)

	require.NoError(t, err)
	require.NotNil(t, it)
	assert.NotEmpty(t, it.ID)
	assert.Equal(t, "Lisbon", it.Destination)
	require.Len(t, it.Days, 3)
	for i, day := range it.Days {
		assert.Equal(t, i+1, day.DayNumber)
		assert.Equal(t, entity.NewDate(2025, 5, 1+i), day.Date)
		assert.NotEmpty(t, day.Activities)
	}

	assert.Equal(t, 1, svc.CallsMatching("List 9 attractions in Lisbon"))
	assert.Equal(t, 1, svc.CallsMatching("List 6 places to eat in Lisbon"))
	assert.Equal(t, 3, svc.CallsMatching(dayPrompt))
	assert.Equal(t, 1, svc.CallsMatching(balancePrompt))
	assert.Equal(t, 1, svc.CallsMatching(personalizePrompt))
	assert.Equal(t, 7, svc.Calls())

	assert.Equal(t, []int{5, 25, 60, 60, 75, 95}, progress.values)
}

func TestPipeline_ActivityIDsAreUnique(t *testing.T) {
	svc := &fakeService{respond: tripResponder(3)}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)

	it, err := p.Run(context.Background(), lisbonRequest(), nil)

	require.NoError(t, err)
	seen := map[string]bool{}
	for _, day := range it.Days {
		for _, a := range day.Activities {
			require.NotEmpty(t, a.ID)
			assert.False(t, seen[a.ID], "duplicate activity id %s", a.ID)
			seen[a.ID] = true
		}
	}
	assert.True(t, seen["same-id"], "first occurrence keeps its id")
}

func TestPipeline_ValidationMakesNoCalls(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entity.GenerationRequest)
	}{
		{"empty destination", func(r *entity.GenerationRequest) { r.Destination = "   " }},
		{"end before start", func(r *entity.GenerationRequest) { r.EndDate = entity.NewDate(2025, 4, 30) }},
		{"too long", func(r *entity.GenerationRequest) { r.EndDate = entity.NewDate(2025, 5, 15) }},
		{"unknown pace", func(r *entity.GenerationRequest) { r.Preferences.Pace = "frantic" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{respond: tripResponder(3)}
			p := newTestPipeline(t, svc, NewMemoryCache(), 5)
			req := lisbonRequest()
			tt.mutate(&req)

			_, err := p.Run(context.Background(), req, nil)

			assert.ErrorIs(t, err, entity.ErrValidation)
			assert.Equal(t, 0, svc.Calls())
		})
	}
}

func TestPipeline_CachedStagesAreSkippedOnRepeat(t *testing.T) {
	svc := &fakeService{respond: tripResponder(3)}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)

	_, err := p.Run(context.Background(), lisbonRequest(), nil)
	require.NoError(t, err)
	require.Equal(t, 7, svc.Calls())

	_, err = p.Run(context.Background(), lisbonRequest(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.CallsMatching(attractionsPrompt))
	assert.Equal(t, 1, svc.CallsMatching(diningPrompt))
	assert.Equal(t, 3, svc.CallsMatching(dayPrompt))
	assert.Equal(t, 1, svc.CallsMatching(balancePrompt))
	assert.Equal(t, 2, svc.CallsMatching(personalizePrompt))
}

func TestPipeline_ChangedPreferencesReuseCandidates(t *testing.T) {
	svc := &fakeService{respond: tripResponder(3)}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)

	_, err := p.Run(context.Background(), lisbonRequest(), nil)
	require.NoError(t, err)

	req := lisbonRequest()
	req.Preferences.Budget = "luxury"
	_, err = p.Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.CallsMatching(attractionsPrompt))
	assert.Equal(t, 2, svc.CallsMatching(personalizePrompt))
	assert.Equal(t, 1, svc.CallsMatching("Budget: luxury"))
}

func TestPipeline_DayChunks(t *testing.T) {
	svc := &fakeService{respond: tripResponder(7)}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)
	req := lisbonRequest()
	req.EndDate = entity.NewDate(2025, 5, 7)
	progress := &progressLog{}

	it, err := p.Run(context.Background(), req, progress.record)

	require.NoError(t, err)
	assert.Len(t, it.Days, 7)
	assert.Equal(t, 7, svc.CallsMatching(dayPrompt))
	assert.Equal(t, 1, svc.CallsMatching("List 15 attractions"))
	assert.Equal(t, 1, svc.CallsMatching("List 10 places to eat"))
	assert.Equal(t, []int{5, 25, 50, 60, 60, 75, 95}, progress.values)
}

func TestPipeline_ScarceCandidatesAreReused(t *testing.T) {
	base := tripResponder(3)
	svc := &fakeService{respond: func(ctx context.Context, req entity.SubmitRequest, call int) (string, error) {
		switch {
		case strings.Contains(req.Prompt, attractionsPrompt):
			return candidatesJSON("attractions", "Sight", 1), nil
		case strings.Contains(req.Prompt, diningPrompt):
			return candidatesJSON("restaurants", "Cafe", 0), nil
		}
		return base(ctx, req, call)
	}}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)

	it, err := p.Run(context.Background(), lisbonRequest(), nil)

	require.NoError(t, err)
	require.Len(t, it.Days, 3)
	assert.Equal(t, 3, svc.CallsMatching(dayPrompt))
	for _, prompt := range svc.Prompts() {
		if strings.Contains(prompt, dayPrompt) {
			assert.Contains(t, prompt, "Sight 1")
		}
	}
}

func TestPipeline_EmptyPersonalization(t *testing.T) {
	base := tripResponder(3)
	svc := &fakeService{respond: func(ctx context.Context, req entity.SubmitRequest, call int) (string, error) {
		if strings.Contains(req.Prompt, personalizePrompt) {
			return `{"days":[]}`, nil
		}
		return base(ctx, req, call)
	}}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)

	_, err := p.Run(context.Background(), lisbonRequest(), nil)

	assert.ErrorIs(t, err, entity.ErrEmptyResult)
}

func TestPipeline_MalformedDayResponse(t *testing.T) {
	base := tripResponder(3)
	svc := &fakeService{respond: func(ctx context.Context, req entity.SubmitRequest, call int) (string, error) {
		if strings.Contains(req.Prompt, dayPrompt) {
			return "Sorry, I can't plan that day.", nil
		}
		return base(ctx, req, call)
	}}
	cache := NewMemoryCache()
	p := newTestPipeline(t, svc, cache, 5)

	_, err := p.Run(context.Background(), lisbonRequest(), nil)

	assert.ErrorIs(t, err, entity.ErrParse)
	assert.Equal(t, 0, svc.CallsMatching(balancePrompt))
	assert.Equal(t, 2, cache.Len(), "only the candidate stage is cached")
}

func TestPipeline_PermanentFailureStopsRun(t *testing.T) {
	base := tripResponder(3)
	svc := &fakeService{respond: func(ctx context.Context, req entity.SubmitRequest, call int) (string, error) {
		if strings.Contains(req.Prompt, balancePrompt) {
			return "", &entity.ServiceError{StatusCode: 403, Err: errors.New("forbidden")}
		}
		return base(ctx, req, call)
	}}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)
	progress := &progressLog{}

	_, err := p.Run(context.Background(), lisbonRequest(), progress.record)

	assert.ErrorIs(t, err, entity.ErrPermanentService)
	assert.Equal(t, 0, svc.CallsMatching(personalizePrompt))
	assert.Equal(t, 60, progress.values[len(progress.values)-1])
}

func TestPipeline_Update(t *testing.T) {
	svc := &fakeService{respond: tripResponder(3)}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)
	original, err := p.Run(context.Background(), lisbonRequest(), nil)
	require.NoError(t, err)

	updated, err := p.Update(context.Background(), *original, "More museums please", nil)
	require.NoError(t, err)
	_, err = p.Update(context.Background(), *original, "More museums please", nil)
	require.NoError(t, err)

	assert.Equal(t, original.ID, updated.ID)
	assert.Len(t, updated.Days, 3)
	assert.Equal(t, 2, svc.CallsMatching(revisePrompt))
	assert.Equal(t, 2, svc.CallsMatching("More museums please"))
}

func TestPipeline_UpdateRejectsEmptyInstruction(t *testing.T) {
	svc := &fakeService{respond: tripResponder(3)}
	p := newTestPipeline(t, svc, NewMemoryCache(), 5)
	it := entity.Itinerary{
		Destination: "Lisbon",
		StartDate:   entity.NewDate(2025, 5, 1),
		EndDate:     entity.NewDate(2025, 5, 1),
		Days:        []entity.Day{{DayNumber: 1, Date: entity.NewDate(2025, 5, 1)}},
	}

	_, err := p.Update(context.Background(), it, "  ", nil)

	assert.ErrorIs(t, err, entity.ErrValidation)
	assert.Equal(t, 0, svc.Calls())
}
