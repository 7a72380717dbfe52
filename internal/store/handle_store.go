package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/down/down-service/internal/domain"
)

// HandleStore keeps the opaque confirmation handles issued by the identity
// provider, keyed by flow id, with a TTL matching the code's lifetime.
// Handles are single-use: Consume removes the handle as it reads it, so a
// second verify attempt against the same handle fails and the flow must
// restart from the phone step. Put overwrites, which is what makes a second
// "send code" invalidate the first handle locally.
type HandleStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewHandleStore creates a handle store on the given Redis client.
func NewHandleStore(rdb redis.UniversalClient, ttl time.Duration) *HandleStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HandleStore{rdb: rdb, ttl: ttl}
}

func handleKey(flowID string) string {
	return fmt.Sprintf("down:otp_handle:%s", flowID)
}

// Put stores the handle for a flow, replacing any previous one.
func (s *HandleStore) Put(ctx context.Context, flowID, handle string) error {
	if err := s.rdb.Set(ctx, handleKey(flowID), handle, s.ttl).Err(); err != nil {
		return fmt.Errorf("store confirmation handle: %w", err)
	}
	return nil
}

// Consume returns the handle for a flow and deletes it in the same call.
// A missing or already-consumed handle is domain.ErrHandleConsumed.
func (s *HandleStore) Consume(ctx context.Context, flowID string) (string, error) {
	val, err := s.rdb.GetDel(ctx, handleKey(flowID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrHandleConsumed
		}
		return "", fmt.Errorf("retrieve confirmation handle: %w", err)
	}
	return val, nil
}
