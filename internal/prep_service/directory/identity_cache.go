package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commshub/communicator/internal/campaign_service/domain"
)

// IdentityCache records which directory identities have been seen before.
// The resolver uses it to decide whether an identity is "new" (never seen ⇒
// needs app install; never seen and guest ⇒ skipped).
type IdentityCache interface {
	// Get returns the cached identity, or nil when the id was never seen.
	Get(ctx context.Context, aadID string) (*domain.RecipientIdentity, error)

	// Remember stores the identity so later campaigns treat it as known.
	Remember(ctx context.Context, ident domain.RecipientIdentity) error
}

const identityKeyPrefix = "communicator:identity:"

type redisIdentityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdentityCache creates an IdentityCache on top of Redis. Entries
// carry a TTL so users who leave the tenant eventually age out and get the
// full install treatment again.
func NewRedisIdentityCache(client *redis.Client, ttl time.Duration) IdentityCache {
	return &redisIdentityCache{client: client, ttl: ttl}
}

func (c *redisIdentityCache) Get(ctx context.Context, aadID string) (*domain.RecipientIdentity, error) {
	data, err := c.client.Get(ctx, identityKeyPrefix+aadID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("identity cache get: %w", err)
	}
	var ident domain.RecipientIdentity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, fmt.Errorf("identity cache decode: %w", err)
	}
	return &ident, nil
}

func (c *redisIdentityCache) Remember(ctx context.Context, ident domain.RecipientIdentity) error {
	ident.IsNew = false
	data, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("identity cache encode: %w", err)
	}
	if err := c.client.Set(ctx, identityKeyPrefix+ident.AadID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("identity cache set: %w", err)
	}
	return nil
}
