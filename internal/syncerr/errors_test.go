package syncerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"classified", New(AuthFailed, "fetch", "bad token"), AuthFailed},
		{"wrapped", fmt.Errorf("fetch steps: %w", New(RateLimited, "", "")), RateLimited},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), NetworkError},
		{"plain", errors.New("boom"), UnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(NetworkError, "fetch", errors.New("reset")))

	assert.True(t, errors.Is(err, &Error{Kind: NetworkError}))
	assert.False(t, errors.Is(err, &Error{Kind: AuthFailed}))
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("fetch: %w", RateLimitedAfter("fetch", 3*time.Second))
	assert.Equal(t, 3*time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(errors.New("x")))
}

func TestClassification(t *testing.T) {
	assert.True(t, IsTransient(RateLimited))
	assert.True(t, IsTransient(NetworkError))
	assert.True(t, IsTransient(UnknownError))
	assert.False(t, IsTransient(AuthFailed))
	assert.True(t, RequiresReauth(AuthFailed))
	assert.True(t, RequiresReauth(PermissionDenied))
	assert.False(t, RequiresReauth(NetworkError))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(NetworkError, "fetch heart_rate", errors.New("connection reset"))
	assert.Equal(t, "fetch heart_rate: network_error: connection reset", err.Error())
}
