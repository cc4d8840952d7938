package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// GrantStore keeps password-verification grants in Redis. A grant is
// a key scoped to a single client and short code, expiring after the
// grant TTL. The password itself is never stored.
type GrantStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGrantStore(client *redis.Client, ttl time.Duration) *GrantStore {
	return &GrantStore{
		client: client,
		ttl:    ttl,
	}
}

func grantKey(clientID, shortCode string) string {
	return fmt.Sprintf("grant:%s:%s", clientID, shortCode)
}

// Grant records that clientID has verified the password for shortCode.
func (s *GrantStore) Grant(ctx context.Context, clientID, shortCode string) error {
	const op = "database.redis.GrantStore.Grant"

	grantedAt := time.Now().UTC().Format(time.RFC3339)
	if err := s.client.Set(ctx, grantKey(clientID, shortCode), grantedAt, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: failed to store grant: %w", op, err)
	}

	return nil
}

// Valid reports whether clientID holds an unexpired grant for shortCode.
// Expiry is enforced by the key TTL.
func (s *GrantStore) Valid(ctx context.Context, clientID, shortCode string) (bool, error) {
	const op = "database.redis.GrantStore.Valid"

	err := s.client.Get(ctx, grantKey(clientID, shortCode)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}

		return false, fmt.Errorf("%s: failed to check grant: %w", op, err)
	}

	return true, nil
}
