package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestExecutor(t *testing.T, svc *fakeService, cfg ExecutorConfig) *Executor {
	t.Helper()
	if cfg.Model == "" {
		cfg.Model = "primary"
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	return NewExecutor(svc, cfg, zaptest.NewLogger(t))
}

func TestExecutor_TransientThenSuccess(t *testing.T) {
	svc := &fakeService{respond: func(_ context.Context, _ entity.SubmitRequest, call int) (string, error) {
		if call == 1 {
			return "", &entity.ServiceError{StatusCode: 503, Retryable: true, Err: errors.New("overloaded")}
		}
		return `{"ok":true}`, nil
	}}
	exec := newTestExecutor(t, svc, ExecutorConfig{MaxRetries: 2})

	out, err := exec.Execute(context.Background(), entity.PromptTask{Prompt: "p"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
	assert.Equal(t, 2, svc.Calls())
}

func TestExecutor_PermanentFailsWithoutRetry(t *testing.T) {
	svc := &fakeService{respond: func(context.Context, entity.SubmitRequest, int) (string, error) {
		return "", &entity.ServiceError{StatusCode: 401, Err: errors.New("bad key")}
	}}
	exec := newTestExecutor(t, svc, ExecutorConfig{MaxRetries: 3})

	_, err := exec.Execute(context.Background(), entity.PromptTask{Prompt: "p"})

	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrPermanentService)
	assert.Equal(t, 1, svc.Calls())
}

func TestExecutor_RetriesExhausted(t *testing.T) {
	svc := &fakeService{respond: func(context.Context, entity.SubmitRequest, int) (string, error) {
		return "", &entity.ServiceError{StatusCode: 500, Retryable: true, Err: errors.New("internal")}
	}}
	exec := newTestExecutor(t, svc, ExecutorConfig{MaxRetries: 2})

	_, err := exec.Execute(context.Background(), entity.PromptTask{Prompt: "p"})

	assert.ErrorIs(t, err, entity.ErrTransientService)
	assert.Equal(t, 3, svc.Calls())
}

func TestExecutor_FallbackModelAfterExhaustion(t *testing.T) {
	svc := &fakeService{respond: func(_ context.Context, req entity.SubmitRequest, _ int) (string, error) {
		if req.Model == "primary" {
			return "", &entity.ServiceError{StatusCode: 429, Retryable: true, Err: errors.New("rate limited")}
		}
		return `{"model":"` + req.Model + `"}`, nil
	}}
	exec := newTestExecutor(t, svc, ExecutorConfig{MaxRetries: 1, FallbackModel: "backup"})

	out, err := exec.Execute(context.Background(), entity.PromptTask{Prompt: "p"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"backup"}`, string(out))
	assert.Equal(t, 3, svc.Calls())
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	svc := &fakeService{}
	exec := newTestExecutor(t, svc, ExecutorConfig{MaxRetries: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, entity.PromptTask{Prompt: "p"})

	assert.ErrorIs(t, err, entity.ErrCancelled)
	assert.Equal(t, 0, svc.Calls())
}

func TestExecutor_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &fakeService{respond: func(context.Context, entity.SubmitRequest, int) (string, error) {
		cancel()
		return "", &entity.ServiceError{StatusCode: 503, Retryable: true, Err: errors.New("unavailable")}
	}}
	exec := newTestExecutor(t, svc, ExecutorConfig{MaxRetries: 5, BaseDelay: time.Second})

	_, err := exec.Execute(ctx, entity.PromptTask{Prompt: "p"})

	assert.ErrorIs(t, err, entity.ErrCancelled)
	assert.Equal(t, 1, svc.Calls())
}

func TestExecutor_AttemptTimeoutIsTransient(t *testing.T) {
	svc := &fakeService{respond: func(ctx context.Context, _ entity.SubmitRequest, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	exec := newTestExecutor(t, svc, ExecutorConfig{MaxRetries: 1, AttemptTimeout: 10 * time.Millisecond})

	_, err := exec.Execute(context.Background(), entity.PromptTask{Prompt: "p"})

	assert.ErrorIs(t, err, entity.ErrTransientService)
	assert.Equal(t, 2, svc.Calls())
}

func TestExecutor_RequestShape(t *testing.T) {
	svc := &fakeService{}
	exec := newTestExecutor(t, svc, ExecutorConfig{})

	_, err := exec.Execute(context.Background(), entity.PromptTask{Prompt: "hello", Model: "custom", Temperature: 0.3})

	require.NoError(t, err)
	require.Len(t, svc.calls, 1)
	assert.Equal(t, entity.SubmitRequest{
		Prompt:         "hello",
		Model:          "custom",
		Temperature:    0.3,
		ResponseFormat: entity.ResponseFormatJSON,
	}, svc.calls[0])
}

func TestExecutor_Parse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		parser   func(string) (json.RawMessage, error)
		want     string
		wantErr  error
	}{
		{name: "plain json", response: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced json", response: "```json\n{\"a\":2}\n```", want: `{"a":2}`},
		{name: "bare fence", response: "```\n[1,2]\n```", want: `[1,2]`},
		{name: "raw text fallback", response: "just words", want: `"just words"`},
		{
			name:     "custom parser",
			response: "a=3",
			parser:   func(string) (json.RawMessage, error) { return json.RawMessage(`{"a":3}`), nil },
			want:     `{"a":3}`,
		},
		{
			name:     "parser failure",
			response: "garbage",
			parser:   func(string) (json.RawMessage, error) { return nil, fmt.Errorf("no match") },
			wantErr:  entity.ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{respond: func(context.Context, entity.SubmitRequest, int) (string, error) {
				return tt.response, nil
			}}
			exec := newTestExecutor(t, svc, ExecutorConfig{})

			out, err := exec.Execute(context.Background(), entity.PromptTask{Prompt: "p", Parser: tt.parser})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestClassify(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		parent context.Context
		err    error
		want   errorClass
	}{
		{"retryable service error", live, &entity.ServiceError{StatusCode: 503, Retryable: true, Err: errors.New("x")}, errorClassTransient},
		{"non retryable service error", live, &entity.ServiceError{StatusCode: 400, Err: errors.New("x")}, errorClassPermanent},
		{"attempt deadline", live, context.DeadlineExceeded, errorClassTransient},
		{"parent cancelled", done, errors.New("anything"), errorClassCancelled},
		{"quota message", live, errors.New("429 quota exhausted"), errorClassPermanent},
		{"gateway message", live, errors.New("upstream returned 502"), errorClassTransient},
		{"unknown", live, errors.New("invalid argument"), errorClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.parent, tt.err))
		})
	}
}
