package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/garagebook/billing-api/pkg/observability"
)

const customerIDKeyPrefix = "billing:customer:"

// RedisOptions configures the redis client
type RedisOptions struct {
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, redisURL string, opts RedisOptions) (*redis.Client, error) {
	clientOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if opts.Password != "" {
		clientOpts.Password = opts.Password
	}
	if opts.DB > 0 {
		clientOpts.DB = opts.DB
	}
	if opts.MaxRetries > 0 {
		clientOpts.MaxRetries = opts.MaxRetries
	}
	if opts.PoolSize > 0 {
		clientOpts.PoolSize = opts.PoolSize
	}
	clientOpts.DialTimeout = 5 * time.Second
	clientOpts.ReadTimeout = 3 * time.Second
	clientOpts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(clientOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// CachedStore decorates a Store with an in-process LRU in front of redis.
// Only filled customer ids are cached: the fill-once write guarantees a
// filled id never changes, so cached values cannot go stale. Empty results
// and misses are never cached.
type CachedStore struct {
	store   Store
	redis   *redis.Client
	l1      *lru.Cache[string, string]
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCachedStore wraps a store with the two-level customer-id cache.
// The redis client and metrics may be nil.
func NewCachedStore(store Store, redisClient *redis.Client, l1Size int, ttl time.Duration, metrics *observability.Metrics) (*CachedStore, error) {
	if l1Size <= 0 {
		l1Size = 1024
	}
	l1, err := lru.New[string, string](l1Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 cache: %w", err)
	}

	return &CachedStore{
		store:   store,
		redis:   redisClient,
		l1:      l1,
		ttl:     ttl,
		metrics: metrics,
	}, nil
}

func (c *CachedStore) recordHit(cache string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(cache).Inc()
	}
}

func (c *CachedStore) recordMiss(cache string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// recordOp tracks calls that reached the backing store
func (c *CachedStore) recordOp(op string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.ProfileOperationsTotal.WithLabelValues(op, status).Inc()
	c.metrics.ProfileOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// GetBillingCustomerID checks L1, then redis, then the backing store
func (c *CachedStore) GetBillingCustomerID(ctx context.Context, userID string) (string, error) {
	key := customerIDKeyPrefix + userID

	if customerID, ok := c.l1.Get(key); ok {
		c.recordHit("l1")
		return customerID, nil
	}
	c.recordMiss("l1")

	if c.redis != nil {
		customerID, err := c.redis.Get(ctx, key).Result()
		if err == nil && customerID != "" {
			c.recordHit("redis")
			c.l1.Add(key, customerID)
			return customerID, nil
		}
		// Redis errors fall through to the backing store.
		c.recordMiss("redis")
	}

	start := time.Now()
	customerID, err := c.store.GetBillingCustomerID(ctx, userID)
	c.recordOp("get_customer_id", start, err)
	if err != nil {
		return "", err
	}

	if customerID != "" {
		c.populate(ctx, key, customerID)
	}
	return customerID, nil
}

// SetBillingCustomerID delegates the fill-once write and caches the winner's id
func (c *CachedStore) SetBillingCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	start := time.Now()
	won, err := c.store.SetBillingCustomerID(ctx, userID, customerID)
	c.recordOp("set_customer_id", start, err)
	if err != nil {
		return false, err
	}
	if won {
		c.populate(ctx, customerIDKeyPrefix+userID, customerID)
	}
	return won, nil
}

func (c *CachedStore) populate(ctx context.Context, key, customerID string) {
	c.l1.Add(key, customerID)
	if c.redis != nil {
		// Best effort; a failed cache write is not an error.
		c.redis.Set(ctx, key, customerID, c.ttl)
	}
}

// GetProfile passes through; full profiles carry mutable subscription state
// and are not cached
func (c *CachedStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	start := time.Now()
	p, err := c.store.GetProfile(ctx, userID)
	c.recordOp("get_profile", start, err)
	return p, err
}

// UpdateSubscriptionByCustomer passes through to the backing store
func (c *CachedStore) UpdateSubscriptionByCustomer(ctx context.Context, customerID string, update SubscriptionUpdate) error {
	start := time.Now()
	err := c.store.UpdateSubscriptionByCustomer(ctx, customerID, update)
	c.recordOp("update_subscription", start, err)
	return err
}

// Close closes the backing store and the redis client
func (c *CachedStore) Close() error {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.store.Close()
			return fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	return c.store.Close()
}
