package idempotency

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestStoreWithoutRedisAlwaysAcquires(t *testing.T) {
	s := NewStore(nil)

	r, err := s.Reserve(context.Background(), "veh", ClassImport, "k")
	require.NoError(t, err)
	assert.Equal(t, Acquired, r)
	assert.NoError(t, s.Complete(context.Background(), "veh", ClassImport, "k"))
	assert.NoError(t, s.Release(context.Background(), "veh", ClassImport, "k"))
}

func TestStoreReservationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestRedis(t))
	agg := uuid.NewString()

	r, err := s.Reserve(ctx, agg, ClassCreditRequest, "k1")
	require.NoError(t, err)
	assert.Equal(t, Acquired, r)

	r, err = s.Reserve(ctx, agg, ClassCreditRequest, "k1")
	require.NoError(t, err)
	assert.Equal(t, InFlight, r)

	// other class, same key
	r, err = s.Reserve(ctx, agg, ClassImport, "k1")
	require.NoError(t, err)
	assert.Equal(t, Acquired, r)

	require.NoError(t, s.Complete(ctx, agg, ClassCreditRequest, "k1"))
	r, err = s.Reserve(ctx, agg, ClassCreditRequest, "k1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyDone, r)

	require.NoError(t, s.Release(ctx, agg, ClassImport, "k1"))
	r, err = s.Reserve(ctx, agg, ClassImport, "k1")
	require.NoError(t, err)
	assert.Equal(t, Acquired, r)

	s.Release(ctx, agg, ClassImport, "k1")
	s.Release(ctx, agg, ClassCreditRequest, "k1")
}
