package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rivelle/assetcache/internal/preload"
)

// Config holds every daemon-level option.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Cache     CacheConfig     `koanf:"cache"`
	Preload   PreloadConfig   `koanf:"preload"`
	Resolve   ResolveConfig   `koanf:"resolve"`
	Mirror    MirrorConfig    `koanf:"mirror"`
	Content   ContentConfig   `koanf:"content"`
	Admission AdmissionConfig `koanf:"admission"`
}

// ServerConfig collects the admin listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the admin HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig bounds the in-memory store.
type CacheConfig struct {
	MaxSizeBytes          int64   `koanf:"maxSizeBytes"`
	DefaultTTLSeconds     int     `koanf:"defaultTtlSeconds"`
	EvictionBatchFraction float64 `koanf:"evictionBatchFraction"`
}

// DefaultTTL returns the configured entry lifetime.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// PreloadConfig tunes the speculative load scheduler.
type PreloadConfig struct {
	TierDelaysMs TierDelaysConfig `koanf:"tierDelaysMs"`
}

// TierDelaysConfig sets per-priority start offsets in milliseconds.
type TierDelaysConfig struct {
	High   int `koanf:"high"`
	Medium int `koanf:"medium"`
	Low    int `koanf:"low"`
}

// Delays converts the configured offsets for the scheduler.
func (c PreloadConfig) Delays() preload.TierDelays {
	return preload.TierDelays{
		High:   time.Duration(c.TierDelaysMs.High) * time.Millisecond,
		Medium: time.Duration(c.TierDelaysMs.Medium) * time.Millisecond,
		Low:    time.Duration(c.TierDelaysMs.Low) * time.Millisecond,
	}
}

// ResolveConfig bounds resolve calls.
type ResolveConfig struct {
	LoadingTimeoutMs int `koanf:"loadingTimeoutMs"`
}

// LoadingTimeout returns the configured resolve bound.
func (c ResolveConfig) LoadingTimeout() time.Duration {
	return time.Duration(c.LoadingTimeoutMs) * time.Millisecond
}

// MirrorConfig selects the durable mirror backend.
type MirrorConfig struct {
	Backend string            `koanf:"backend"`
	Redis   RedisMirrorConfig `koanf:"redis"`
}

type RedisMirrorConfig struct {
	Address  string               `koanf:"address"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	DB       int                  `koanf:"db"`
	TLS      RedisMirrorTLSConfig `koanf:"tls"`
}

type RedisMirrorTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// ContentConfig points the daemon's file loader at its asset folder.
type ContentConfig struct {
	Folder       string `koanf:"folder"`
	PathTemplate string `koanf:"pathTemplate"`
	Watch        bool   `koanf:"watch"`
}

// AdmissionConfig carries the optional CEL cache-admission expression.
type AdmissionConfig struct {
	Expression string `koanf:"expression"`
}

// DefaultConfig returns the shipped defaults: a 50 MiB cache with fifteen
// minute TTLs, 20% eviction batches, a ten second loading timeout and
// 0/100/500ms preload tiers.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:  ListenConfig{Address: "0.0.0.0", Port: 8980},
			Logging: LoggingConfig{Level: "info", Format: "json"},
		},
		Cache: CacheConfig{
			MaxSizeBytes:          50 << 20,
			DefaultTTLSeconds:     900,
			EvictionBatchFraction: 0.2,
		},
		Preload: PreloadConfig{
			TierDelaysMs: TierDelaysConfig{High: 0, Medium: 100, Low: 500},
		},
		Resolve: ResolveConfig{LoadingTimeoutMs: 10_000},
		Mirror:  MirrorConfig{Backend: "memory"},
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Server.Listen.Port)
	}
	if c.Cache.MaxSizeBytes <= 0 {
		return errors.New("config: cache maxSizeBytes must be positive")
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		return errors.New("config: cache defaultTtlSeconds must be positive")
	}
	if c.Cache.EvictionBatchFraction <= 0 || c.Cache.EvictionBatchFraction > 1 {
		return fmt.Errorf("config: evictionBatchFraction %v must be in (0,1]", c.Cache.EvictionBatchFraction)
	}
	if c.Resolve.LoadingTimeoutMs <= 0 {
		return errors.New("config: loadingTimeoutMs must be positive")
	}
	if c.Preload.TierDelaysMs.High < 0 || c.Preload.TierDelaysMs.Medium < 0 || c.Preload.TierDelaysMs.Low < 0 {
		return errors.New("config: preload tier delays must not be negative")
	}
	switch strings.ToLower(c.Mirror.Backend) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Mirror.Redis.Address) == "" {
			return errors.New("config: redis mirror requires an address")
		}
	default:
		return fmt.Errorf("config: unsupported mirror backend %q", c.Mirror.Backend)
	}
	return nil
}
