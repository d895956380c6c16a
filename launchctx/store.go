// Package launchctx persists launch context across refresh-token lifetimes.
// A refresh grant carries no launch context of its own: the token hook can
// only see the original grant's refresh token id, so the token proxy records
// the selected patient against that id at issuance time and the hook reads
// it back on every refresh. This is the only durable state in the system.
package launchctx

import (
	"context"
	"errors"
	"time"
)

// Entry maps a refresh token id (JTI) to the patient selected at
// authorization time.
type Entry struct {
	TokenID   string    `json:"token_id"`
	PatientID string    `json:"patient_id"`
	Expires   time.Time `json:"expires"`
}

// Store is a point read/write key-value view of the refresh-context cache.
// Concurrent writes for the same token id are last-writer-wins.
type Store interface {
	// Put records launch context for a refresh token id, replacing any
	// previous entry.
	Put(ctx context.Context, entry Entry) error
	// Get returns the entry for a refresh token id, or nil when absent.
	Get(ctx context.Context, tokenID string) (*Entry, error)
}

// Config selects and parameterizes the cache backend.
type Config struct {
	// Backend is either "memory" or "redis".
	Backend string `koanf:"backend"`
	// TTL bounds how long launch context outlives the issuing grant.
	TTL   time.Duration `koanf:"ttl"`
	Redis RedisConfig   `koanf:"redis"`
}

type RedisConfig struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

func DefaultConfig() Config {
	return Config{
		Backend: "memory",
		TTL:     90 * 24 * time.Hour,
	}
}

func (c Config) Validate() error {
	switch c.Backend {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("cache.redis.address is required for the redis backend")
		}
	default:
		return errors.New("cache.backend must be either memory or redis")
	}
	if c.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	return nil
}

// New creates the store selected by the configuration.
func New(config Config) (Store, error) {
	switch config.Backend {
	case "redis":
		return NewRedisStore(config)
	default:
		return NewMemoryStore(config.TTL), nil
	}
}
