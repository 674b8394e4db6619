package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	LockLocal       = "local"
	LockRedis       = "redis"
)

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"`
	DatabaseURL   string `env:"DATABASE_URL"`

	LockDriver    string `env:"LOCK_DRIVER" envDefault:"local"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"ledger_account_events"`

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"derived-accounts-ledger"`

	// SignatureMaxSkew bounds the age of a signed request. Nonces are kept
	// for twice this long.
	SignatureMaxSkew time.Duration `env:"SIGNATURE_MAX_SKEW" envDefault:"5m"`

	ProgramID      string `env:"PROGRAM_ID" envDefault:"GdWFYaqLPJUuFoHMztLQQKqbyq1tWxXnRot2ckfavHTT"`
	AccountLabel   string `env:"ACCOUNT_LABEL" envDefault:"my_account"`
	AirdropEnabled bool   `env:"AIRDROP_ENABLED" envDefault:"false"`
}

// Load reads .env (when present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.LockDriver {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("unknown LOCK_DRIVER %q", c.LockDriver)
	}

	if c.SignatureMaxSkew <= 0 {
		return errors.New("SIGNATURE_MAX_SKEW must be positive")
	}
	return nil
}
