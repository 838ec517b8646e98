package governor

import (
	"github.com/nubera-hq/nubera/internal/clock"
	"github.com/nubera-hq/nubera/internal/config"
	"github.com/nubera-hq/nubera/internal/governor/breaker"
	"github.com/nubera-hq/nubera/internal/governor/repository"
	"github.com/nubera-hq/nubera/internal/governor/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newBreakerStore(cfg config.Config, log *zap.Logger) (breaker.Store, error) {
	if cfg.Governor.RedisAddr == "" {
		return breaker.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Governor.RedisAddr,
		Password: cfg.Governor.RedisPassword,
		DB:       cfg.Governor.RedisDB,
	})
	cooldown := cfg.Governor.Cooldown
	if cooldown <= 0 {
		cooldown = breaker.DefaultCooldown
	}
	log.Info("sharing breaker state through redis", zap.String("addr", cfg.Governor.RedisAddr))
	return breaker.NewRedisStore(client, cooldown)
}

func newBreaker(cfg config.Config, store breaker.Store, clk clock.Clock, log *zap.Logger) *breaker.Breaker {
	opts := []breaker.Option{}
	if cfg.Governor.FailureThreshold > 0 {
		opts = append(opts, breaker.WithFailureThreshold(cfg.Governor.FailureThreshold))
	}
	if cfg.Governor.FailureWindow > 0 {
		opts = append(opts, breaker.WithFailureWindow(cfg.Governor.FailureWindow))
	}
	if cfg.Governor.Cooldown > 0 {
		opts = append(opts, breaker.WithCooldown(cfg.Governor.Cooldown))
	}
	return breaker.New(store, clk, log, opts...)
}

var Module = fx.Module("governor.service",
	fx.Provide(newBreakerStore),
	fx.Provide(newBreaker),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
