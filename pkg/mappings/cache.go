package mappings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// CacheConfig configures the two cache tiers
type CacheConfig struct {
	TTL    time.Duration
	L1Size int
}

// DefaultCacheConfig returns sensible cache defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:    5 * time.Minute,
		L1Size: 1024,
	}
}

// CachedStore layers an in-process LRU (L1) and Redis (L2) in front of a
// Store. Not-found results are never cached: the bounded-retry resolver must
// observe a row the moment the racing webhook commits it. Writes go through to
// the backing store and refresh both tiers; deletes invalidate both.
type CachedStore struct {
	store   Store
	redis   *redis.Client
	orgL1   *lru.Cache[string, *OrgMapping]
	userL1  *lru.Cache[string, *UserMapping]
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCachedStore creates a cache layer over store. redisClient may be nil to
// run with the L1 tier only. metrics may be nil.
func NewCachedStore(store Store, redisClient *redis.Client, cfg CacheConfig, metrics *observability.Metrics) (*CachedStore, error) {
	if cfg.L1Size <= 0 {
		cfg.L1Size = DefaultCacheConfig().L1Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}

	orgL1, err := lru.New[string, *OrgMapping](cfg.L1Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create org L1 cache: %w", err)
	}
	userL1, err := lru.New[string, *UserMapping](cfg.L1Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create user L1 cache: %w", err)
	}

	return &CachedStore{
		store:   store,
		redis:   redisClient,
		orgL1:   orgL1,
		userL1:  userL1,
		ttl:     cfg.TTL,
		metrics: metrics,
	}, nil
}

func orgKey(externalOrgID string) string   { return "deskbridge:org:" + externalOrgID }
func userKey(externalUserID string) string { return "deskbridge:user:" + externalUserID }

func (c *CachedStore) hit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *CachedStore) miss(tier string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

// GetOrgByExternalID checks L1, then Redis, then the backing store
func (c *CachedStore) GetOrgByExternalID(ctx context.Context, externalOrgID string) (*OrgMapping, error) {
	if mapping, ok := c.orgL1.Get(externalOrgID); ok {
		c.hit("l1")
		return mapping, nil
	}
	c.miss("l1")

	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, orgKey(externalOrgID)).Result(); err == nil {
			mapping := &OrgMapping{}
			if err := json.Unmarshal([]byte(cached), mapping); err == nil {
				c.hit("l2")
				c.orgL1.Add(externalOrgID, mapping)
				return mapping, nil
			}
		}
		c.miss("l2")
	}

	mapping, err := c.store.GetOrgByExternalID(ctx, externalOrgID)
	if err != nil {
		return nil, err
	}
	c.cacheOrg(ctx, mapping)
	return mapping, nil
}

// CreateOrg writes through to the store and refreshes both tiers
func (c *CachedStore) CreateOrg(ctx context.Context, mapping *OrgMapping) error {
	if err := c.store.CreateOrg(ctx, mapping); err != nil {
		return err
	}
	c.cacheOrg(ctx, mapping)
	return nil
}

// DeleteOrg removes the row and invalidates both tiers
func (c *CachedStore) DeleteOrg(ctx context.Context, externalOrgID string) error {
	if err := c.store.DeleteOrg(ctx, externalOrgID); err != nil {
		return err
	}
	c.orgL1.Remove(externalOrgID)
	if c.redis != nil {
		c.redis.Del(ctx, orgKey(externalOrgID))
	}
	return nil
}

// ListOrgs bypasses the cache
func (c *CachedStore) ListOrgs(ctx context.Context) ([]*OrgMapping, error) {
	return c.store.ListOrgs(ctx)
}

// GetUserByExternalID checks L1, then Redis, then the backing store
func (c *CachedStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*UserMapping, error) {
	if mapping, ok := c.userL1.Get(externalUserID); ok {
		c.hit("l1")
		return mapping, nil
	}
	c.miss("l1")

	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, userKey(externalUserID)).Result(); err == nil {
			mapping := &UserMapping{}
			if err := json.Unmarshal([]byte(cached), mapping); err == nil {
				c.hit("l2")
				c.userL1.Add(externalUserID, mapping)
				return mapping, nil
			}
		}
		c.miss("l2")
	}

	mapping, err := c.store.GetUserByExternalID(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	c.cacheUser(ctx, mapping)
	return mapping, nil
}

// CreateUser writes through to the store and refreshes both tiers
func (c *CachedStore) CreateUser(ctx context.Context, mapping *UserMapping) error {
	if err := c.store.CreateUser(ctx, mapping); err != nil {
		return err
	}
	c.cacheUser(ctx, mapping)
	return nil
}

// DeleteUser removes the row and invalidates both tiers
func (c *CachedStore) DeleteUser(ctx context.Context, externalUserID string) error {
	if err := c.store.DeleteUser(ctx, externalUserID); err != nil {
		return err
	}
	c.userL1.Remove(externalUserID)
	if c.redis != nil {
		c.redis.Del(ctx, userKey(externalUserID))
	}
	return nil
}

// ListUsers bypasses the cache
func (c *CachedStore) ListUsers(ctx context.Context) ([]*UserMapping, error) {
	return c.store.ListUsers(ctx)
}

func (c *CachedStore) cacheOrg(ctx context.Context, mapping *OrgMapping) {
	c.orgL1.Add(mapping.ExternalOrgID, mapping)
	if c.redis != nil {
		if data, err := json.Marshal(mapping); err == nil {
			c.redis.Set(ctx, orgKey(mapping.ExternalOrgID), data, c.ttl)
		}
	}
}

func (c *CachedStore) cacheUser(ctx context.Context, mapping *UserMapping) {
	c.userL1.Add(mapping.ExternalUserID, mapping)
	if c.redis != nil {
		if data, err := json.Marshal(mapping); err == nil {
			c.redis.Set(ctx, userKey(mapping.ExternalUserID), data, c.ttl)
		}
	}
}
