package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestRetryableDBOperationNoReturn_Success(t *testing.T) {
	ctx := context.Background()
	callCount := 0

	operation := func() error {
		callCount++
		return nil
	}

	err := retryableDBOperationNoReturn(ctx, operation, "test operation")
	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestRetryableDBOperationNoReturn_SuccessAfterRetries(t *testing.T) {
	ctx := context.Background()
	callCount := 0

	operation := func() error {
		callCount++
		if callCount < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	err := retryableDBOperationNoReturn(ctx, operation, "test operation")
	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestRetryableDBOperationNoReturn_NonRetryableError(t *testing.T) {
	ctx := context.Background()
	callCount := 0

	operation := func() error {
		callCount++
		return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}

	err := retryableDBOperationNoReturn(ctx, operation, "test operation")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "non-retryable")
	assert.Equal(t, 1, callCount)
}

func TestRetryableDBOperationNoReturn_MaxAttemptsReached(t *testing.T) {
	ctx := context.Background()
	callCount := 0

	operation := func() error {
		callCount++
		return &pq.Error{Code: "40001", Message: "could not serialize access"}
	}

	err := retryableDBOperationNoReturn(ctx, operation, "test operation")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, callCount)
}

func TestRetryableDBOperation_ReturnsValue(t *testing.T) {
	ctx := context.Background()

	result, err := retryableDBOperation(ctx, func() (int, error) {
		return 42, nil
	}, "test operation")
	assert.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRetryableDBOperation_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callCount := 0
	_, err := retryableDBOperation(ctx, func() (int, error) {
		callCount++
		return 0, errors.New("connection refused")
	}, "test operation")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, callCount)
}

func TestRetryableDBOperation_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	done := make(chan error, 1)
	go func() {
		_, err := retryableDBOperation(ctx, func() (int, error) {
			callCount++
			return 0, errors.New("connection reset by peer")
		}, "test operation")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.GreaterOrEqual(t, callCount, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock detected", &pq.Error{Code: "40P01"}, true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"cannot connect now", &pq.Error{Code: "57P03"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"foreign key violation", &pq.Error{Code: "23503"}, false},
		{"undefined table", &pq.Error{Code: "42P01"}, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"driver bad connection", errors.New("driver: bad connection"), true},
		{"server starting up", errors.New("pq: the database system is starting up"), true},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"wrapped retryable", fmt.Errorf("save failed: %w", &pq.Error{Code: "40P01"}), true},
		{"plain error", errors.New("something went wrong"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryableDBError(tt.err))
		})
	}
}
