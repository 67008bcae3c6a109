package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Threshold: 5, Duration: 15 * time.Minute}

// clock advances a tracker's notion of time.
type clock func(d time.Duration)

func newMemory(t *testing.T) (Tracker, clock) {
	t.Helper()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tracker := NewMemoryTracker(testConfig).WithClock(func() time.Time { return now })
	return tracker, func(d time.Duration) { now = now.Add(d) }
}

func newRedis(t *testing.T) (Tracker, clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTracker(client, testConfig), mr.FastForward
}

func forEachTracker(t *testing.T, fn func(t *testing.T, tracker Tracker, advance clock)) {
	for name, build := range map[string]func(*testing.T) (Tracker, clock){
		"memory": newMemory,
		"redis":  newRedis,
	} {
		t.Run(name, func(t *testing.T) {
			tracker, advance := build(t)
			fn(t, tracker, advance)
		})
	}
}

func TestTracker_LocksAtThreshold(t *testing.T) {
	forEachTracker(t, func(t *testing.T, tracker Tracker, advance clock) {
		ctx := context.Background()

		for i := 1; i < testConfig.Threshold; i++ {
			st, err := tracker.RecordFailure(ctx, "alice@example.com", "10.0.0.1")
			require.NoError(t, err)
			assert.Equal(t, i, st.Failures)
			assert.False(t, st.Locked)
			assert.False(t, st.Tripped)
		}

		st, err := tracker.RecordFailure(ctx, "alice@example.com", "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, st.Locked)
		assert.True(t, st.Tripped)
		assert.InDelta(t, testConfig.Duration.Seconds(), st.RetryAfter.Seconds(), 1)

		st, err = tracker.Check(ctx, "alice@example.com", "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, st.Locked)
	})
}

func TestTracker_KeyedByIdentityAndOrigin(t *testing.T) {
	forEachTracker(t, func(t *testing.T, tracker Tracker, advance clock) {
		ctx := context.Background()
		for i := 0; i < testConfig.Threshold; i++ {
			_, err := tracker.RecordFailure(ctx, "alice@example.com", "10.0.0.1")
			require.NoError(t, err)
		}

		st, err := tracker.Check(ctx, "alice@example.com", "10.0.0.2")
		require.NoError(t, err)
		assert.False(t, st.Locked)
		assert.Zero(t, st.Failures)

		st, err = tracker.Check(ctx, "bob@example.com", "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, st.Locked)
	})
}

func TestTracker_WindowMeasuredFromLatestFailure(t *testing.T) {
	forEachTracker(t, func(t *testing.T, tracker Tracker, advance clock) {
		ctx := context.Background()
		for i := 0; i < testConfig.Threshold; i++ {
			_, err := tracker.RecordFailure(ctx, "alice@example.com", "ip")
			require.NoError(t, err)
		}

		advance(10 * time.Minute)
		_, err := tracker.RecordFailure(ctx, "alice@example.com", "ip")
		require.NoError(t, err)

		// 15 minutes after the first failures but only 5 after the latest one.
		advance(5 * time.Minute)
		st, err := tracker.Check(ctx, "alice@example.com", "ip")
		require.NoError(t, err)
		assert.True(t, st.Locked)

		advance(10*time.Minute + time.Second)
		st, err = tracker.Check(ctx, "alice@example.com", "ip")
		require.NoError(t, err)
		assert.False(t, st.Locked)
		assert.Zero(t, st.Failures)
	})
}

func TestTracker_Reset(t *testing.T) {
	forEachTracker(t, func(t *testing.T, tracker Tracker, advance clock) {
		ctx := context.Background()
		for i := 0; i < testConfig.Threshold-1; i++ {
			_, err := tracker.RecordFailure(ctx, "alice@example.com", "ip")
			require.NoError(t, err)
		}
		require.NoError(t, tracker.Reset(ctx, "alice@example.com", "ip"))

		st, err := tracker.RecordFailure(ctx, "alice@example.com", "ip")
		require.NoError(t, err)
		assert.Equal(t, 1, st.Failures)
		assert.False(t, st.Locked)
	})
}

func TestRedisTracker_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tracker := NewRedisTracker(client, testConfig)
	mr.Close()

	_, err := tracker.RecordFailure(context.Background(), "alice@example.com", "ip")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = tracker.Check(context.Background(), "alice@example.com", "ip")
	assert.ErrorIs(t, err, ErrUnavailable)
}
