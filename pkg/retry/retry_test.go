package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTemporary = errors.New("temporary")
	errPermanent = errors.New("permanent")
)

func fastConfig(attempts int) Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errTemporary
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(2), func() error {
		attempts++
		return errTemporary
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errTemporary)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableMatchesWrappedErrors(t *testing.T) {
	cfg := fastConfig(5)
	cfg.NonRetryableErrors = []error{errPermanent}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return fmt.Errorf("write: %w", errPermanent)
	})

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
}

func TestRetry_OtherErrorsStillRetry(t *testing.T) {
	cfg := fastConfig(2)
	cfg.NonRetryableErrors = []error{errPermanent}

	attempts := 0
	_ = Retry(context.Background(), cfg, func() error {
		attempts++
		return errTemporary
	})

	assert.Equal(t, 3, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, fastConfig(3), func() error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}

func TestRetry_Disabled(t *testing.T) {
	cfg := fastConfig(3)
	cfg.Enabled = false

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errTemporary
	})

	assert.ErrorIs(t, err, errTemporary)
	assert.Equal(t, 1, attempts)
}

func TestDo_ReturnsValue(t *testing.T) {
	attempts := 0
	value, err := Do(context.Background(), fastConfig(2), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errTemporary
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestDelay(t *testing.T) {
	cfg := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 10*time.Millisecond, delay(cfg, 0))
	assert.Equal(t, 20*time.Millisecond, delay(cfg, 1))
	assert.Equal(t, 50*time.Millisecond, delay(cfg, 5))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := delay(cfg, 1)
		assert.GreaterOrEqual(t, d, 15*time.Millisecond)
		assert.LessOrEqual(t, d, 25*time.Millisecond)
	}
}
