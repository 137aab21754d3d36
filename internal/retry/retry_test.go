package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func TestDo_RetriesClassifiedErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 8, Is(errBusy), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 4 {
			return errBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestDo_StopsOnUnclassifiedError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), 8, Is(errBusy), func(context.Context, int) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, Is(errBusy), func(context.Context, int) error {
		calls++
		return errBusy
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, Is(errBusy), func(context.Context, int) error {
		calls++
		cancel()
		return errBusy
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_RejectsZeroAttempts(t *testing.T) {
	assert.Error(t, Do(context.Background(), 0, nil, func(context.Context, int) error { return nil }))
}
