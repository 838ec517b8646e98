// Package breaker holds the per-(org, module) circuit state for the usage
// governor. Breaker state is a cost-control layer on top of the governor's
// transactional budget check, never the safety mechanism itself; losing it
// (process restart, redis flush) silently closes all breakers.
package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nubera-hq/nubera/internal/clock"
	"go.uber.org/zap"
)

const (
	DefaultFailureThreshold = 3
	DefaultFailureWindow    = 5 * time.Minute
	DefaultCooldown         = 5 * time.Minute
)

// State is the circuit state for one (org, module) key.
type State struct {
	Open        bool      `json:"open"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	RecoverAt   time.Time `json:"recover_at,omitzero"`
}

// Store persists breaker state. The memory store is process-local; the
// redis store shares state across instances.
type Store interface {
	Get(ctx context.Context, key string) (State, bool, error)
	Set(ctx context.Context, key string, state State) error
	Delete(ctx context.Context, key string) error
	Snapshot(ctx context.Context) (map[string]State, error)
}

// Key builds the breaker key for an (org, module) pair.
func Key(orgID snowflake.ID, moduleKey string) string {
	return fmt.Sprintf("%s:%s", orgID, moduleKey)
}

type Breaker struct {
	store     Store
	clock     clock.Clock
	log       *zap.Logger
	threshold int
	window    time.Duration
	cooldown  time.Duration
}

// Option tunes a Breaker.
type Option func(*Breaker)

func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

func WithFailureWindow(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.window = d
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

func New(store Store, clk clock.Clock, log *zap.Logger, opts ...Option) *Breaker {
	b := &Breaker{
		store:     store,
		clock:     clk,
		log:       log.Named("governor.breaker"),
		threshold: DefaultFailureThreshold,
		window:    DefaultFailureWindow,
		cooldown:  DefaultCooldown,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether requests for key may proceed. An open breaker
// whose cooldown has elapsed is closed here; recovery is unconditional,
// there is no half-open probe.
func (b *Breaker) Allow(ctx context.Context, key string) (bool, State, error) {
	state, ok, err := b.store.Get(ctx, key)
	if err != nil {
		return false, State{}, err
	}
	if !ok {
		return true, State{}, nil
	}
	if !state.Open {
		return true, state, nil
	}
	if !b.clock.Now().Before(state.RecoverAt) {
		if err := b.store.Delete(ctx, key); err != nil {
			return false, state, err
		}
		b.log.Info("breaker recovered", zap.String("key", key))
		return true, State{}, nil
	}
	return false, state, nil
}

// Trip opens the breaker for key until the cooldown elapses.
func (b *Breaker) Trip(ctx context.Context, key string) (State, error) {
	now := b.clock.Now()
	state, _, err := b.store.Get(ctx, key)
	if err != nil {
		return State{}, err
	}
	state.Open = true
	state.LastFailure = now
	state.RecoverAt = now.Add(b.cooldown)
	if err := b.store.Set(ctx, key, state); err != nil {
		return State{}, err
	}
	b.log.Warn("breaker tripped",
		zap.String("key", key),
		zap.Time("recover_at", state.RecoverAt),
	)
	return state, nil
}

// RecordFailure counts a failure against key. The trailing window is
// approximated by the gap since the previous failure: a run of failures
// each landing within the window of the one before keeps accumulating
// even after the earliest has aged out, so a slow drip can still reach
// the threshold. The approximation only ever trips earlier, never later.
// Reaching the threshold trips the breaker.
func (b *Breaker) RecordFailure(ctx context.Context, key string) (State, error) {
	now := b.clock.Now()
	state, ok, err := b.store.Get(ctx, key)
	if err != nil {
		return State{}, err
	}
	if !ok || now.Sub(state.LastFailure) > b.window {
		state = State{}
	}
	state.Failures++
	state.LastFailure = now
	if state.Failures >= b.threshold {
		state.Open = true
		state.RecoverAt = now.Add(b.cooldown)
		b.log.Warn("breaker tripped by repeated failures",
			zap.String("key", key),
			zap.Int("failures", state.Failures),
		)
	}
	if err := b.store.Set(ctx, key, state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Reset clears failure history for key after a successful grant.
func (b *Breaker) Reset(ctx context.Context, key string) error {
	state, ok, err := b.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if !state.Open && state.Failures == 0 {
		return nil
	}
	return b.store.Delete(ctx, key)
}

// Peek reports the effective state for key without mutating anything. An
// open breaker past its recovery time reads as closed.
func (b *Breaker) Peek(ctx context.Context, key string) (State, error) {
	state, ok, err := b.store.Get(ctx, key)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return State{}, nil
	}
	if state.Open && !b.clock.Now().Before(state.RecoverAt) {
		return State{}, nil
	}
	return state, nil
}

// Snapshot returns all tracked breaker states for introspection.
func (b *Breaker) Snapshot(ctx context.Context) (map[string]State, error) {
	return b.store.Snapshot(ctx)
}
