package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Reservation is the outcome of Reserve.
type Reservation int

const (
	// Acquired means the caller owns the key and must Complete or Release it.
	Acquired Reservation = iota
	// AlreadyDone means an earlier call with the key finished.
	AlreadyDone
	// InFlight means another call holds the key right now.
	InFlight
)

func (r Reservation) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case AlreadyDone:
		return "already_done"
	case InFlight:
		return "in_flight"
	}
	return "unknown"
}

const (
	valuePending = "pending"
	valueDone    = "done"

	// pendingTTL frees a reservation whose owner crashed before finishing.
	pendingTTL = 2 * time.Minute
)

// Store is a Redis reservation table keyed by (aggregate, class, key).
// A Store without a Redis client acquires every key, leaving deduplication to
// the aggregate's embedded lists.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	if rdb == nil {
		log.Warn().Msg("Idempotency store running without Redis, relying on embedded key lists")
	}
	return &Store{rdb: rdb}
}

func redisKey(aggregateID string, class Class, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", class, aggregateID, key)
}

// Reserve claims key for aggregateID. An empty key is always Acquired.
func (s *Store) Reserve(ctx context.Context, aggregateID string, class Class, key string) (Reservation, error) {
	if s == nil || s.rdb == nil || key == "" {
		return Acquired, nil
	}
	k := redisKey(aggregateID, class, key)

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, k, valuePending, pendingTTL).Result()
		if err != nil {
			return 0, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return Acquired, nil
		}

		val, err := s.rdb.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read idempotency key: %w", err)
		}
		if val == valueDone {
			return AlreadyDone, nil
		}
		return InFlight, nil
	}
	return InFlight, nil
}

// Complete marks key done for the full TTL.
func (s *Store) Complete(ctx context.Context, aggregateID string, class Class, key string) error {
	if s == nil || s.rdb == nil || key == "" {
		return nil
	}
	return s.rdb.Set(ctx, redisKey(aggregateID, class, key), valueDone, TTL).Err()
}

// Release drops a pending reservation so the caller can retry.
func (s *Store) Release(ctx context.Context, aggregateID string, class Class, key string) error {
	if s == nil || s.rdb == nil || key == "" {
		return nil
	}
	return s.rdb.Del(ctx, redisKey(aggregateID, class, key)).Err()
}
