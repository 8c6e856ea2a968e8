// Package config loads the sitecache binary's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrNoPath = errors.New("config: path is required")

type Config struct {
	Version  string   `yaml:"version" validate:"required"`
	Origin   string   `yaml:"origin" validate:"required,url"`
	Listen   string   `yaml:"listen" validate:"required,hostname_port"`
	Manifest []string `yaml:"manifest" validate:"dive,required,startswith=/"`

	Storage  Storage  `yaml:"storage"`
	GenStore GenStore `yaml:"genstore"`
	Codec    Codec    `yaml:"codec"`
	Redis    Redis    `yaml:"redis"`
	Fetch    Fetch    `yaml:"fetch"`
	Log      Log      `yaml:"log"`
	Install  Install  `yaml:"install"`
	Hooks    Hooks    `yaml:"hooks"`
}

type Storage struct {
	Backend string `yaml:"backend" validate:"oneof=memory ristretto bigcache redis"`

	// memory
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
	// ristretto
	MaxCost     int64 `yaml:"max_cost" validate:"gte=0"`
	NumCounters int64 `yaml:"num_counters" validate:"gte=0"`
	// bigcache; LifeWindow 0 keeps entries until deleted
	LifeWindow   time.Duration `yaml:"life_window" validate:"gte=0"`
	Shards       int           `yaml:"shards" validate:"gte=0"`
	MaxEntries   int           `yaml:"max_entries" validate:"gte=0"`
	HardMaxMB    int           `yaml:"hard_max_mb" validate:"gte=0"`
	MaxEntrySize int           `yaml:"max_entry_size" validate:"gte=0"`
}

type GenStore struct {
	Backend string `yaml:"backend" validate:"oneof=local redis"`
}

type Codec struct {
	Name      string `yaml:"name" validate:"oneof=json msgpack cbor protobuf"`
	MaxDecode int    `yaml:"max_decode" validate:"gte=0"`
}

// Redis is shared by the redis storage backend and the redis genstore.
type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	Namespace string `yaml:"namespace"`
}

type Fetch struct {
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" validate:"gte=0"`
	UserAgent    string        `yaml:"user_agent"`
}

type Log struct {
	Backend string `yaml:"backend" validate:"oneof=zap logrus slog"`
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

type Install struct {
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=256"`
}

type Hooks struct {
	Metrics bool `yaml:"metrics"`
	// Log events through the log backend; FallbackEvery/SelfHealEvery sample 1 in N.
	Log           bool `yaml:"log"`
	FallbackEvery int  `yaml:"fallback_every" validate:"gte=0"`
	SelfHealEvery int  `yaml:"self_heal_every" validate:"gte=0"`
	LogServed     bool `yaml:"log_served"`
	// AsyncQueue > 0 delivers hook events off the request path.
	AsyncQueue int `yaml:"async_queue" validate:"gte=0"`
}

func Defaults() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Storage:  Storage{Backend: "memory", CleanupInterval: time.Minute, MaxCost: 256 << 20, NumCounters: 1e6, Shards: 64, MaxEntries: 10000},
		GenStore: GenStore{Backend: "local"},
		Codec:    Codec{Name: "json"},
		Redis:    Redis{Addr: "localhost:6379", Namespace: "sitecache"},
		Fetch:    Fetch{Timeout: 30 * time.Second, MaxBodyBytes: 32 << 20, UserAgent: "sitecache"},
		Log:      Log{Backend: "zap", Level: "info"},
		Install:  Install{Concurrency: 4},
		Hooks:    Hooks{Metrics: true, Log: true, FallbackEvery: 1, SelfHealEvery: 1},
	}
}

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{validator: validator.New(validator.WithRequiredStructEnabled())}
}

// LoadFile reads path over Defaults and validates the result.
func (l *Loader) LoadFile(path string) (*Config, error) {
	if path == "" {
		return nil, ErrNoPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return l.Load(data)
}

func (l *Loader) Load(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := l.validator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	if cfg.UsesRedis() && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("config: validate: redis.addr is required for the redis backends")
	}
	// a local registry forgets redis generations on restart, leaking their entries
	if cfg.Storage.Backend == "redis" && cfg.GenStore.Backend != "redis" {
		return nil, fmt.Errorf("config: validate: storage.backend redis requires genstore.backend redis")
	}
	return cfg, nil
}

func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == "redis" || c.GenStore.Backend == "redis"
}
