package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the daemon configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
// File format follows the extension: .json and .toml are recognized, anything
// else parses as YAML.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"cache.maxsizebytes":          "cache.maxSizeBytes",
			"cache.defaultttlseconds":     "cache.defaultTtlSeconds",
			"cache.evictionbatchfraction": "cache.evictionBatchFraction",
			"preload.tierdelaysms.high":   "preload.tierDelaysMs.high",
			"preload.tierdelaysms.medium": "preload.tierDelaysMs.medium",
			"preload.tierdelaysms.low":    "preload.tierDelaysMs.low",
			"resolve.loadingtimeoutms":    "resolve.loadingTimeoutMs",
			"mirror.redis.tls.cafile":     "mirror.redis.tls.caFile",
			"content.pathtemplate":        "content.pathTemplate",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (CACHE__MAXSIZEBYTES ->
			// cache.maxsizebytes).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into
			// listenport when callers choose not to use double underscores
			// for object nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser()
	case ".toml":
		return ktoml.Parser()
	default:
		return kyaml.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"cache": map[string]any{
			"maxSizeBytes":          cfg.Cache.MaxSizeBytes,
			"defaultTtlSeconds":     cfg.Cache.DefaultTTLSeconds,
			"evictionBatchFraction": cfg.Cache.EvictionBatchFraction,
		},
		"preload": map[string]any{
			"tierDelaysMs": map[string]any{
				"high":   cfg.Preload.TierDelaysMs.High,
				"medium": cfg.Preload.TierDelaysMs.Medium,
				"low":    cfg.Preload.TierDelaysMs.Low,
			},
		},
		"resolve": map[string]any{
			"loadingTimeoutMs": cfg.Resolve.LoadingTimeoutMs,
		},
		"mirror": map[string]any{
			"backend": cfg.Mirror.Backend,
			"redis": map[string]any{
				"address":  cfg.Mirror.Redis.Address,
				"username": cfg.Mirror.Redis.Username,
				"password": cfg.Mirror.Redis.Password,
				"db":       cfg.Mirror.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Mirror.Redis.TLS.Enabled,
					"caFile":  cfg.Mirror.Redis.TLS.CAFile,
				},
			},
		},
		"content": map[string]any{
			"folder":       cfg.Content.Folder,
			"pathTemplate": cfg.Content.PathTemplate,
			"watch":        cfg.Content.Watch,
		},
		"admission": map[string]any{
			"expression": cfg.Admission.Expression,
		},
	}
}
