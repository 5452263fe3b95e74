package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDistributedLock_TryLockIsExclusive(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	first := NewDistributedLock(client, "k", "owner-1", time.Minute)
	second := NewDistributedLock(client, "k", "owner-2", time.Minute)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not get the lock")

	assert.Equal(t, time.Minute, mr.TTL("k"))
}

func TestDistributedLock_UnlockOnlyOwnLock(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	owner := NewDistributedLock(client, "k", "owner", time.Minute)
	stranger := NewDistributedLock(client, "k", "stranger", time.Minute)

	ok, err := owner.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stranger.Unlock(ctx))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "owner", got, "a stranger must not release the lock")

	require.NoError(t, owner.Unlock(ctx))
	assert.False(t, mr.Exists("k"))
}

func TestDistributedLock_LockGivesUp(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "k", "holder", time.Minute)
	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	waiter := NewDistributedLock(client, "k", "waiter", time.Minute)
	err = waiter.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestDistributedLock_LockHonoursContext(t *testing.T) {
	_, client := newRedis(t)

	holder := NewDistributedLock(client, "k", "holder", time.Minute)
	ok, err := holder.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	waiter := NewDistributedLock(client, "k", "waiter", time.Minute)
	err = waiter.Lock(ctx, 5*time.Millisecond, 1000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisAccountLocker_LockAndRelease(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisAccountLocker(client, time.Minute, time.Millisecond, 5)
	ctx := context.Background()

	release, err := locker.LockAccounts(ctx, "req-1", 7, 3, 7)
	require.NoError(t, err)

	assert.True(t, mr.Exists(AccountLockKey(3)))
	assert.True(t, mr.Exists(AccountLockKey(7)))

	_, err = locker.LockAccounts(ctx, "req-2", 3)
	assert.ErrorIs(t, err, ErrLockFailed)

	release()
	assert.False(t, mr.Exists(AccountLockKey(3)))
	assert.False(t, mr.Exists(AccountLockKey(7)))

	release2, err := locker.LockAccounts(ctx, "req-2", 3)
	require.NoError(t, err)
	release2()
}

func TestRedisAccountLocker_PartialFailureReleasesHeldLocks(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisAccountLocker(client, time.Minute, time.Millisecond, 2)
	ctx := context.Background()

	require.NoError(t, mr.Set(AccountLockKey(9), "someone-else"))

	_, err := locker.LockAccounts(ctx, "req-1", 1, 9)
	require.Error(t, err)

	assert.False(t, mr.Exists(AccountLockKey(1)), "lock on 1 must be released after failing on 9")
	got, _ := mr.Get(AccountLockKey(9))
	assert.Equal(t, "someone-else", got)
}

func TestUniqueSorted(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 5}, uniqueSorted([]int64{5, 1, 2, 5, 1}))
	assert.Empty(t, uniqueSorted(nil))
}

func TestNoopLocker(t *testing.T) {
	release, err := NoopLocker{}.LockAccounts(context.Background(), "t", 1, 2)
	require.NoError(t, err)
	release()
}
