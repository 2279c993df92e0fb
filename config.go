package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"retro-sync/api"
	"retro-sync/board"
)

// Config is read from the environment, optionally seeded from a .env file.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" env-default:":8080"`
	Debug      bool   `env:"DEBUG" env-default:"false"`

	RedisConnectionString string `env:"REDIS_CONNECTION_STRING"`
	LocalStoreDir         string `env:"LOCAL_STORE_DIR" env-default:"data"`

	StorageConnectionString string        `env:"STORAGE_CONNECTION_STRING"`
	BoardsTable             string        `env:"BOARDS_TABLE" env-default:"boards"`
	ExportQueue             string        `env:"EXPORT_QUEUE" env-default:"board-exports"`
	DirectoryCacheTTL       time.Duration `env:"DIRECTORY_CACHE_TTL" env-default:"10m"`
	ProvisionStorage        bool          `env:"PROVISION_STORAGE" env-default:"false"`

	DeduperTTL    time.Duration `env:"DEDUPER_TTL" env-default:"24h"`
	HistoryTTL    time.Duration `env:"HISTORY_TTL" env-default:"720h"`
	PresenceLease time.Duration `env:"PRESENCE_LEASE" env-default:"30s"`
	SessionDrain  time.Duration `env:"SESSION_DRAIN" env-default:"5s"`

	KeepActivePolls bool `env:"KEEP_ACTIVE_POLLS" env-default:"false"`

	PropagateBuffer         int           `env:"PROPAGATE_BUFFER" env-default:"256"`
	PropagateTimeout        time.Duration `env:"PROPAGATE_TIMEOUT" env-default:"10s"`
	PropagateHandoffTimeout time.Duration `env:"PROPAGATE_HANDOFF_TIMEOUT" env-default:"15ms"`

	Auth0Domain     string        `env:"AUTH0_DOMAIN"`
	Auth0Audience   string        `env:"AUTH0_AUDIENCE"`
	LocalAuthMode   string        `env:"LOCAL_AUTH_MODE"`
	LocalAuthSecret string        `env:"LOCAL_AUTH_SHARED_SECRET"`
	JWKSCacheTTL    time.Duration `env:"JWKS_CACHE_TTL" env-default:"15m"`
}

func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch strings.ToLower(c.LocalAuthMode) {
	case "":
		if c.Auth0Domain == "" || c.Auth0Audience == "" {
			return errors.New("missing Auth0 config")
		}
	case "hs256":
		if c.LocalAuthSecret == "" {
			return errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	default:
		return fmt.Errorf("unsupported LOCAL_AUTH_MODE value %q", c.LocalAuthMode)
	}
	if c.PresenceLease <= 0 {
		return errors.New("invalid PRESENCE_LEASE: must be greater than zero")
	}
	if c.DeduperTTL <= 0 {
		return errors.New("invalid DEDUPER_TTL: must be greater than zero")
	}
	if c.PropagateBuffer < 0 || c.PropagateTimeout < 0 || c.PropagateHandoffTimeout < 0 {
		return errors.New("invalid propagation config: values must not be negative")
	}
	return nil
}

func (c Config) authConfig() api.AuthConfig {
	if c.LocalAuthMode != "" {
		return api.AuthConfig{LocalSecret: c.LocalAuthSecret, KeyCacheTTL: c.JWKSCacheTTL}
	}
	return api.AuthConfig{
		Audience:    c.Auth0Audience,
		Issuer:      "https://" + c.Auth0Domain + "/",
		KeyCacheTTL: c.JWKSCacheTTL,
	}
}

func (c Config) sessionConfig() api.SessionConfig {
	return api.SessionConfig{
		Lease: c.PresenceLease,
		Drain: c.SessionDrain,
		Propagation: board.PropagationConfig{
			Buffer:         c.PropagateBuffer,
			Timeout:        c.PropagateTimeout,
			HandoffTimeout: c.PropagateHandoffTimeout,
		},
		KeepActivePolls: c.KeepActivePolls,
	}
}

// redisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
