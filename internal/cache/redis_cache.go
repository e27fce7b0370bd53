package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tillbook/backend/internal/domain"
)

// DefaultNamespace prefixes keys written on behalf of a durable repository.
const DefaultNamespace = "tillbook"

// RedisCache stores every key under namespace. Report ids are only unique
// within one repository, so repositories that restart their id sequence
// must use a namespace of their own.
type RedisCache struct {
	client    *redis.Client
	namespace string
}

func NewRedisCache(addr string, password string, db int, namespace string) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &RedisCache{client: client, namespace: namespace}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, bool, error) {
	var methods []domain.PaymentMethod
	found, err := c.getJSON(ctx, c.paymentMethodsKey(), &methods)
	if err != nil || !found {
		return nil, false, err
	}
	return methods, true, nil
}

func (c *RedisCache) SetPaymentMethods(ctx context.Context, methods []domain.PaymentMethod, ttl time.Duration) error {
	if methods == nil {
		return nil
	}
	return c.setJSON(ctx, c.paymentMethodsKey(), methods, ttl)
}

func (c *RedisCache) GetReport(ctx context.Context, id int64) (*domain.Report, bool, error) {
	var r domain.Report
	found, err := c.getJSON(ctx, c.reportKey(id), &r)
	if err != nil || !found {
		return nil, false, err
	}
	return &r, true, nil
}

func (c *RedisCache) SetReport(ctx context.Context, r *domain.Report, ttl time.Duration) error {
	if r == nil || r.ID == 0 {
		return nil
	}
	return c.setJSON(ctx, c.reportKey(r.ID), r, ttl)
}

func (c *RedisCache) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCache) paymentMethodsKey() string {
	return c.namespace + ":payment-methods"
}

func (c *RedisCache) reportKey(id int64) string {
	return c.namespace + ":z-report:" + strconv.FormatInt(id, 10)
}
