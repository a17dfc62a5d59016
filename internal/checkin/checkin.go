// Package checkin resolves scannable check-in codes to the queue they join.
package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"qme/internal/store"

	"github.com/redis/go-redis/v9"
)

var ErrCheckInNotFound = errors.New("check-in code not found")

type CheckIn struct {
	BranchID string `json:"branch_id"`
	QueueID  string `json:"queue_id"`
}

type Resolver interface {
	Resolve(ctx context.Context, code string) (CheckIn, error)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RedisResolver struct {
	client *redis.Client
}

func NewRedisResolver(cfg RedisConfig) *RedisResolver {
	return &RedisResolver{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
	}
}

func (r *RedisResolver) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisResolver) Close() error {
	return r.client.Close()
}

func (r *RedisResolver) Resolve(ctx context.Context, code string) (CheckIn, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CheckIn{}, ErrCheckInNotFound
	}
	data, err := r.client.Get(ctx, checkInKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CheckIn{}, ErrCheckInNotFound
		}
		return CheckIn{}, store.Wrap(err, "resolve check-in")
	}
	var checkIn CheckIn
	if err := json.Unmarshal(data, &checkIn); err != nil {
		return CheckIn{}, fmt.Errorf("decode check-in %s: %w", code, err)
	}
	return checkIn, nil
}

// Bind points code at a queue. A zero ttl keeps the binding until it is
// removed.
func (r *RedisResolver) Bind(ctx context.Context, code string, checkIn CheckIn, ttl time.Duration) error {
	payload, err := json.Marshal(checkIn)
	if err != nil {
		return err
	}
	return store.Wrap(r.client.Set(ctx, checkInKey(code), payload, ttl).Err(), "bind check-in")
}

func (r *RedisResolver) Unbind(ctx context.Context, code string) error {
	return store.Wrap(r.client.Del(ctx, checkInKey(code)).Err(), "unbind check-in")
}

func checkInKey(code string) string {
	return "checkin:" + code
}
