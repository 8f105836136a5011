package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func TestOnConflictRetriesUntilSuccess(t *testing.T) {
	calls := 0
	v, err := OnConflict(context.Background(), Policy{Attempts: 3}, errConflict, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errConflict
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestOnConflictGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	_, err := OnConflict(context.Background(), Policy{Attempts: 3}, errConflict, func(context.Context) (int, error) {
		calls++
		return 0, errConflict
	})
	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 3, calls)
}

func TestOnConflictStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	_, err := OnConflict(context.Background(), Policy{Attempts: 3}, errConflict, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestOnConflictHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := OnConflict(ctx, DefaultPolicy, errConflict, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errConflict
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
