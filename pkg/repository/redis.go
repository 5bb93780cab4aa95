package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/kioskshop/pkg/config"
	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned by the typed getters when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// ErrStaleCatalog is returned when a listing was read before the latest
// invalidation and was therefore not cached.
var ErrStaleCatalog = errors.New("catalog changed since read")

type RedisRepository struct {
	client *redis.Client
	config *config.RedisConfig
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return NewRedisRepositoryWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}), cfg)
}

func NewRedisRepositoryWithClient(client *redis.Client, cfg *config.RedisConfig) *RedisRepository {
	return &RedisRepository{client: client, config: cfg}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisRepository) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisRepository) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) ttl() time.Duration {
	if r.config != nil && r.config.CacheTTL > 0 {
		return r.config.CacheTTL
	}
	return 30 * time.Minute
}

// IdentityCache holds the immutable identity fields of a user. Money fields
// are never cached.
type IdentityCache struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Country string `json:"country"`
	Role    string `json:"role"`
}

func identityKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

func (r *RedisRepository) CacheIdentity(ctx context.Context, identity *IdentityCache) error {
	return r.SetJSON(ctx, identityKey(identity.ID), identity, r.ttl())
}

func (r *RedisRepository) GetIdentity(ctx context.Context, userID string) (*IdentityCache, error) {
	var identity IdentityCache
	if err := r.GetJSON(ctx, identityKey(userID), &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *RedisRepository) DropIdentity(ctx context.Context, userID string) error {
	return r.Del(ctx, identityKey(userID))
}

// Catalog listings are cached per country; "all" holds the unfiltered list.

func catalogKey(country string) string {
	if country == "" {
		country = "all"
	}
	return fmt.Sprintf("catalog:%s", country)
}

const catalogVersionKey = "catalog:version"

// CatalogVersion is bumped by every invalidation. Read it before querying
// the database and hand it back to CacheCatalog.
func (r *RedisRepository) CatalogVersion(ctx context.Context) (int64, error) {
	v, err := r.client.Get(ctx, catalogVersionKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// CacheCatalog stores a listing read at version. It returns ErrStaleCatalog
// without writing if an invalidation happened in between.
func (r *RedisRepository) CacheCatalog(ctx context.Context, country string, version int64, products interface{}) error {
	data, err := json.Marshal(products)
	if err != nil {
		return err
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, catalogVersionKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != version {
			return ErrStaleCatalog
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, catalogKey(country), data, r.ttl())
			return nil
		})
		return err
	}, catalogVersionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleCatalog
	}
	return err
}

func (r *RedisRepository) GetCatalog(ctx context.Context, country string, dest interface{}) error {
	return r.GetJSON(ctx, catalogKey(country), dest)
}

// InvalidateCatalog drops the unfiltered listing and the given countries,
// and bumps the version so in-flight reads do not repopulate them.
func (r *RedisRepository) InvalidateCatalog(ctx context.Context, countries ...string) error {
	keys := []string{catalogKey("")}
	for _, c := range countries {
		keys = append(keys, catalogKey(c))
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, catalogVersionKey)
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

// Idempotency keys: TryLock reserves a key, Remember maps it to the result.

func (r *RedisRepository) TryLock(ctx context.Context, scope, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, "idemp:"+scope+":"+key, "1", ttl).Result()
}

func (r *RedisRepository) Release(ctx context.Context, scope, key string) error {
	return r.client.Del(ctx, "idemp:"+scope+":"+key).Err()
}

func (r *RedisRepository) Remember(ctx context.Context, scope, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, "idemp:map:"+scope+":"+key, value, ttl).Err()
}

func (r *RedisRepository) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, "idemp:map:"+scope+":"+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return val, err == nil, err
}
