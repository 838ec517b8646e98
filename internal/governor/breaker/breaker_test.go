package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/nubera-hq/nubera/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBreaker(t *testing.T) (*Breaker, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	return New(NewMemoryStore(), clk, zap.NewNop()), clk
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(t)
	key := Key(42, "reports")

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		state, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
		assert.False(t, state.Open)
	}

	state, err := b.RecordFailure(ctx, key)
	require.NoError(t, err)
	assert.True(t, state.Open)

	allowed, _, err := b.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestBreaker_WindowDiscardsStaleFailures(t *testing.T) {
	ctx := context.Background()
	b, clk := newTestBreaker(t)
	key := Key(42, "reports")

	_, err := b.RecordFailure(ctx, key)
	require.NoError(t, err)
	_, err = b.RecordFailure(ctx, key)
	require.NoError(t, err)

	clk.Advance(DefaultFailureWindow + time.Second)

	state, err := b.RecordFailure(ctx, key)
	require.NoError(t, err)
	assert.False(t, state.Open)
	assert.Equal(t, 1, state.Failures)
}

func TestBreaker_SlowFailureDripStillTrips(t *testing.T) {
	ctx := context.Background()
	b, clk := newTestBreaker(t)
	key := Key(42, "reports")

	// Each failure lands inside the window of the previous one, so the
	// count keeps growing even though the run spans more than one window.
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		state, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
		assert.False(t, state.Open)
		clk.Advance(DefaultFailureWindow - time.Minute)
	}

	state, err := b.RecordFailure(ctx, key)
	require.NoError(t, err)
	assert.True(t, state.Open)
}

func TestBreaker_RecoversAfterCooldown(t *testing.T) {
	ctx := context.Background()
	b, clk := newTestBreaker(t)
	key := Key(42, "reports")

	_, err := b.Trip(ctx, key)
	require.NoError(t, err)

	allowed, state, err := b.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.False(t, state.RecoverAt.IsZero())

	clk.Advance(DefaultCooldown - time.Second)
	allowed, _, err = b.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Recovery is unconditional once the cooldown elapses.
	clk.Advance(2 * time.Second)
	allowed, _, err = b.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, allowed)

	// The recovered key starts with a clean slate.
	state, err = b.Peek(ctx, key)
	require.NoError(t, err)
	assert.False(t, state.Open)
	assert.Zero(t, state.Failures)
}

func TestBreaker_PeekDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	b, clk := newTestBreaker(t)
	key := Key(42, "reports")

	_, err := b.Trip(ctx, key)
	require.NoError(t, err)

	clk.Advance(DefaultCooldown + time.Second)

	state, err := b.Peek(ctx, key)
	require.NoError(t, err)
	assert.False(t, state.Open)

	// The stored entry is still there until Allow closes it.
	stored, ok, err := b.store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, stored.Open)
}

func TestBreaker_ResetClearsFailures(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(t)
	key := Key(42, "reports")

	_, err := b.RecordFailure(ctx, key)
	require.NoError(t, err)
	require.NoError(t, b.Reset(ctx, key))

	state, err := b.Peek(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, state.Failures)
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(t)

	_, err := b.Trip(ctx, Key(42, "reports"))
	require.NoError(t, err)

	allowed, _, err := b.Allow(ctx, Key(42, "exports"))
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = b.Allow(ctx, Key(7, "reports"))
	require.NoError(t, err)
	assert.True(t, allowed)

	snapshot, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot, 1)
}
