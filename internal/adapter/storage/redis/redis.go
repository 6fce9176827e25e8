package redis

import (
	"context"
	"fmt"

	"stk-push-gateway/config"
	"stk-push-gateway/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// keyPrefix namespaces every key this service writes.
const keyPrefix = "stk:"

const clientName = "stk-push-gateway"

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:       cfg.Addr(),
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: clientName,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr(), err)
	}

	log.Info().Str("addr", cfg.Addr()).Int("db", cfg.DB).Msg("Redis connection established")
	return client, nil
}

type pinger interface {
	Ping(ctx context.Context) *goredis.StatusCmd
}

// HealthCheck reports Redis reachability on /health. Redis backs idempotency
// and rate limiting only, so a failure degrades the gateway without stopping pushes.
type HealthCheck struct {
	client pinger
}

var _ ports.HealthChecker = (*HealthCheck)(nil)

func NewHealthCheck(client pinger) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *HealthCheck) Name() string {
	return "redis"
}
