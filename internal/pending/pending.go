// Package pending remembers issued decisions until their feedback arrives.
//
// The bandit core keeps no per-decision memory, so the host stores each
// returned Action under an opaque decision ID and consumes it exactly once
// when the caller reports a reward.
package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
)

var ErrUnknownBackend = errors.New("unknown pending store backend")

// Decision is an issued action awaiting its reward
type Decision struct {
	ID       string      `json:"id"`
	Context  api.Context `json:"context"`
	Action   api.Action  `json:"action"`
	IssuedAt time.Time   `json:"issued_at"`
}

// Feedback pairs the stored decision with an observed reward
func (d *Decision) Feedback(reward float64) api.Feedback {
	return api.NewFeedback(d.Context, d.Action, reward)
}

// Store holds decisions keyed by ID
type Store interface {
	// Put stores a decision with TTL. First write wins.
	Put(ctx context.Context, d *Decision, ttl time.Duration) error

	// Take returns and removes a decision. Returns nil if not found,
	// expired or already taken.
	Take(ctx context.Context, id string) (*Decision, error)

	// Close releases resources
	Close() error
}

// Config selects and configures a Store backend
type Config struct {
	Backend  string        `koanf:"backend" validate:"oneof=memory redis postgres bolt"`
	TTL      time.Duration `koanf:"ttl"`
	Capacity int           `koanf:"capacity"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	PostgresConn string `koanf:"postgres_conn"`

	BoltPath string `koanf:"bolt_path"`
}

// DefaultConfig returns an in-memory ledger holding decisions for an hour
func DefaultConfig() Config {
	return Config{
		Backend:  "memory",
		TTL:      time.Hour,
		Capacity: 100_000,
		BoltPath: "data/pending.db",
	}
}

// Open builds the Store named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.Capacity)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresConn)
	case "bolt":
		return NewBoltStore(cfg.BoltPath)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}
