package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nubera-hq/nubera/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyUsageRequestOrg = "usage:request:org:%s"

// UsageRequestLimiter throttles the usage-request endpoint per tenant.
// A nil limiter allows everything.
type UsageRequestLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewUsageRequestLimiter(cfg config.Config) (*UsageRequestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.UsageRequestRate <= 0 || limitCfg.UsageRequestBurst <= 0 {
		return nil, errors.New("usage request rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &UsageRequestLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.UsageRequestRate,
		burst:   limitCfg.UsageRequestBurst,
	}, nil
}

func (l *UsageRequestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *UsageRequestLimiter) AllowOrg(ctx context.Context, orgID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageRequestOrg, strings.TrimSpace(orgID)), l.rate, l.burst)
}
