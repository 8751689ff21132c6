package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"transient wrapper", Transient(errors.New("timeout")), ClassTransient},
		{"fatal item wrapper", FatalItem(errors.New("bad payload")), ClassFatalItem},
		{"fatal batch wrapper", FatalBatch(errors.New("auth")), ClassFatalBatch},
		{"wrapped classified error", fmt.Errorf("outer: %w", FatalItem(errors.New("inner"))), ClassFatalItem},
		{"context canceled", context.Canceled, ClassFatalBatch},
		{"deadline exceeded", context.DeadlineExceeded, ClassFatalBatch},
		{"plain error defaults to transient", errors.New("connection reset"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := TransientAfter(errors.New("rate limited"), 7*time.Second)
	assert.Equal(t, 7*time.Second, RetryAfterOf(err))
	assert.Equal(t, 7*time.Second, RetryAfterOf(fmt.Errorf("wrapped: %w", err)))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		status int
		want   Class
	}{
		{http.StatusUnauthorized, ClassFatalBatch},
		{http.StatusForbidden, ClassFatalBatch},
		{http.StatusTooManyRequests, ClassTransient},
		{http.StatusInternalServerError, ClassTransient},
		{http.StatusBadGateway, ClassTransient},
		{http.StatusBadRequest, ClassFatalItem},
		{http.StatusNotFound, ClassFatalItem},
		{http.StatusConflict, ClassFatalItem},
	}

	for _, tt := range tests {
		err := FromStatusCode(tt.status, "", 0)
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.want, ClassOf(err), "status %d", tt.status)
	}

	assert.NoError(t, FromStatusCode(http.StatusOK, "", 0))
	assert.NoError(t, FromStatusCode(http.StatusCreated, "", 0))
}

func TestFromStatusCodeCarriesRetryAfter(t *testing.T) {
	err := FromStatusCode(http.StatusTooManyRequests, "", 12*time.Second)
	require.Error(t, err)
	assert.Equal(t, 12*time.Second, RetryAfterOf(err))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	assert.ErrorIs(t, FatalBatch(fmt.Errorf("context: %w", inner)), inner)
}
