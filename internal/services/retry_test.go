package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/operator"
	"pvp-casino-backend/internal/services"
)

func fastPolicy(attempts int) services.RetryPolicy {
	return services.RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		succeedAt int
		wantCalls int
		wantErr   error
	}{
		{name: "succeeds first time", succeedAt: 1, wantCalls: 1},
		{name: "transient then success", err: errors.New("timeout"), succeedAt: 3, wantCalls: 3},
		{name: "transient exhausted", err: errors.New("timeout"), wantCalls: 4},
		{name: "business error not retried", err: fmt.Errorf("debit: %w", models.ErrInsufficientFunds), wantCalls: 1, wantErr: models.ErrInsufficientFunds},
		{name: "operator rejection not retried", err: operator.ErrRejected, wantCalls: 1, wantErr: operator.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := services.Retry(context.Background(), fastPolicy(4), func(context.Context) error {
				calls++
				if tt.succeedAt > 0 && calls >= tt.succeedAt {
					return nil
				}
				return tt.err
			})

			assert.Equal(t, tt.wantCalls, calls)
			switch {
			case tt.succeedAt > 0:
				assert.NoError(t, err)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.Error(t, err)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, services.Retryable(nil))
	assert.False(t, services.Retryable(context.Canceled))
	assert.False(t, services.Retryable(models.ErrGameNotOpen))
	assert.True(t, services.Retryable(&operator.TransientError{Err: errors.New("http 502")}))
}
