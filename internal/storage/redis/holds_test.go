package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/receptionist/internal/holds"
	"github.com/teemow/receptionist/internal/holds/holdstest"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.PoolSize = 32
	client, err := NewClient(ctx, cfg)
	if err != nil {
		t.Skipf("skipping Redis integration tests: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestHoldBackend(t *testing.T) {
	client := newTestClient(t)
	holdstest.Run(t, func(t *testing.T) holds.Backend {
		prefix := "receptionist-test:" + uuid.NewString() + ":"
		t.Cleanup(func() {
			ctx := context.Background()
			iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
			for iter.Next(ctx) {
				_ = client.Del(ctx, iter.Val()).Err()
			}
		})
		return NewHoldBackend(client, prefix, 5*time.Second)
	})
}

func TestLockReleasedAfterUpdate(t *testing.T) {
	client := newTestClient(t)
	b := NewHoldBackend(client, "receptionist-test:"+uuid.NewString()+":", time.Second)
	ctx := context.Background()

	h := holdstest.NewHold(holds.DefaultTTL)
	require.NoError(t, b.Insert(ctx, h, h.CreatedAt))

	_, err := b.Update(ctx, h.ID, func(cur holds.Hold) (*holds.Hold, error) {
		return nil, nil
	})
	require.NoError(t, err)

	n, err := client.Exists(ctx, b.lockKey(h.ID)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLockRenewedDuringSlowUpdate(t *testing.T) {
	client := newTestClient(t)
	lockTTL := 300 * time.Millisecond
	b := NewHoldBackend(client, "receptionist-test:"+uuid.NewString()+":", lockTTL)
	ctx := context.Background()

	h := holdstest.NewHold(holds.DefaultTTL)
	require.NoError(t, b.Insert(ctx, h, h.CreatedAt))

	got, err := b.Update(ctx, h.ID, func(cur holds.Hold) (*holds.Hold, error) {
		time.Sleep(3 * lockTTL)
		_, err := b.lock(ctx, h.ID, false)
		assert.ErrorIs(t, err, errLocked)
		cur.State = holds.StateConfirmed
		cur.AppointmentID = "appt-" + cur.ID
		return &cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, holds.StateConfirmed, got.State)
}

func TestWriteRejectedAfterLockLost(t *testing.T) {
	client := newTestClient(t)
	b := NewHoldBackend(client, "receptionist-test:"+uuid.NewString()+":", time.Second)
	ctx := context.Background()

	h := holdstest.NewHold(holds.DefaultTTL)
	require.NoError(t, b.Insert(ctx, h, h.CreatedAt))

	_, err := b.Update(ctx, h.ID, func(cur holds.Hold) (*holds.Hold, error) {
		// Another instance takes the lock after ours lapsed.
		require.NoError(t, client.Set(ctx, b.lockKey(h.ID), "other", time.Second).Err())
		cur.State = holds.StateConfirmed
		cur.AppointmentID = "appt-" + cur.ID
		return &cur, nil
	})
	assert.ErrorIs(t, err, errLockLost)

	stored, err := b.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, holds.StatePending, stored.State)

	owner, err := client.Get(ctx, b.lockKey(h.ID)).Result()
	require.NoError(t, err)
	assert.Equal(t, "other", owner)
}

func TestRetiredHoldsExpire(t *testing.T) {
	client := newTestClient(t)
	b := NewHoldBackend(client, "receptionist-test:"+uuid.NewString()+":", time.Second)
	ctx := context.Background()

	released := holdstest.NewHold(holds.DefaultTTL)
	confirmed := holdstest.NewHold(holds.DefaultTTL)
	for _, h := range []holds.Hold{released, confirmed} {
		require.NoError(t, b.Insert(ctx, h, h.CreatedAt))
	}

	set := func(id string, state holds.State) {
		t.Helper()
		_, err := b.Update(ctx, id, func(cur holds.Hold) (*holds.Hold, error) {
			cur.State = state
			cur.AppointmentID = "appt-" + cur.ID
			return &cur, nil
		})
		require.NoError(t, err)
	}
	set(released.ID, holds.StateReleased)
	set(confirmed.ID, holds.StateConfirmed)

	for _, key := range []string{b.holdKey(released.ID), b.slotKey(released.SlotID), b.groupKey(released.GroupID)} {
		ttl, err := client.PTTL(ctx, key).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0), key)
		assert.LessOrEqual(t, ttl, holds.TerminalRetention, key)
	}

	ttl, err := client.PTTL(ctx, b.holdKey(confirmed.ID)).Result()
	require.NoError(t, err)
	assert.Less(t, ttl, time.Duration(0))

	set(confirmed.ID, holds.StateCancelled)
	ttl, err = client.PTTL(ctx, b.apptKey("appt-"+confirmed.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestConfigTimeouts(t *testing.T) {
	var cfg Config
	assert.Equal(t, 5*time.Second, cfg.DialTimeout())
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout())
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout())

	cfg.ReadTimeoutSeconds = 7
	assert.Equal(t, 7*time.Second, cfg.ReadTimeout())
}

func TestNewClientRequiresAddr(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}
