package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	lease, err := l.Acquire(ctx, "import", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "import", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.Acquire(ctx, "fetch", time.Minute)
	require.NoError(t, err, "leases are per name")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, "import", time.Minute)
	require.NoError(t, err)

	// an expired lease is taken over and the old holder cannot release it
	now = now.Add(2 * time.Minute)
	taken, err := l.Acquire(ctx, "import", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
	_, err = l.Acquire(ctx, "import", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, taken.Release(ctx))
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLockerWithClient(client, "test:"), mr
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLocker(t)

	lease, err := l.Acquire(ctx, "import", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:import"))
	assert.Equal(t, time.Minute, mr.TTL("test:import"))

	_, err = l.Acquire(ctx, "import", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("test:import"))

	_, err = l.Acquire(ctx, "import", time.Minute)
	require.NoError(t, err)
}

func TestRedisLocker_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLocker(t)

	stale, err := l.Acquire(ctx, "push", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := l.Acquire(ctx, "push", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("test:push"), "the new holder keeps its lease")

	require.NoError(t, current.Release(ctx))
	assert.False(t, mr.Exists("test:push"))
}

func TestNewRedisLocker_InvalidURL(t *testing.T) {
	_, err := NewRedisLocker("not-a-url")
	assert.Error(t, err)
}

func TestMemoryLocker_Extend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	lease, err := l.Acquire(ctx, "fetch", time.Minute)
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	require.NoError(t, lease.Extend(ctx, time.Minute))
	now = now.Add(50 * time.Second)
	_, err = l.Acquire(ctx, "fetch", time.Minute)
	assert.ErrorIs(t, err, ErrLocked, "the renewed lease still holds")

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrLeaseLost)
}

func TestRedisLocker_Extend(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLocker(t)

	lease, err := l.Acquire(ctx, "fetch", time.Minute)
	require.NoError(t, err)
	mr.FastForward(50 * time.Second)
	require.NoError(t, lease.Extend(ctx, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("test:fetch"))

	// another holder owns the key after expiry
	mr.FastForward(2 * time.Minute)
	_, err = l.Acquire(ctx, "fetch", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrLeaseLost)
}
