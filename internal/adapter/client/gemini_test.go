package client

import (
	"context"
	"errors"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestRetryableStatus(t *testing.T) {
	tests := []struct {
		code    int
		message string
		want    bool
	}{
		{429, "Resource has been exhausted, slow down", true},
		{429, "You exceeded your current quota", false},
		{500, "internal", true},
		{502, "bad gateway", true},
		{503, "model overloaded", true},
		{504, "deadline", true},
		{400, "invalid argument", false},
		{401, "unauthenticated", false},
		{403, "permission denied", false},
		{404, "model not found", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.code, tt.message), func(t *testing.T) {
			assert.Equal(t, tt.want, retryableStatus(tt.code, tt.message))
		})
	}
}

func TestMapError(t *testing.T) {
	t.Run("APIError", func(t *testing.T) {
		err := mapError(fmt.Errorf("generate: %w", genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "overloaded"}))

		var svcErr *entity.ServiceError
		require.True(t, errors.As(err, &svcErr))
		assert.Equal(t, 503, svcErr.StatusCode)
		assert.True(t, svcErr.Retryable)
	})

	t.Run("OtherErrorsPassThrough", func(t *testing.T) {
		err := mapError(context.DeadlineExceeded)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
