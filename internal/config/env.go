package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerEnv holds the runtime settings of `qp serve` read from the process
// environment. Flags override them.
type ServerEnv struct {
	Addr              string        `env:"QP_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath          string        `env:"QP_BASE_PATH" envDefault:"/v1"`
	Workspace         string        `env:"QP_WORKSPACE" envDefault:"."`
	JWTSecret         string        `env:"QP_JWT_SECRET"`
	AllowLegacyActor  bool          `env:"QP_ALLOW_LEGACY_ACTOR_HEADER" envDefault:"false"`
	LogLevel          string        `env:"QP_LOG_LEVEL" envDefault:"INFO"`
	LogFormat         string        `env:"QP_LOG_FORMAT" envDefault:"json"`
	ReadHeaderTimeout time.Duration `env:"QP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `env:"QP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	WebhookInterval   time.Duration `env:"QP_WEBHOOK_INTERVAL" envDefault:"2s"`
	OTelEnabled       bool          `env:"QP_OTEL_ENABLED" envDefault:"false"`
	OTelStdout        bool          `env:"QP_OTEL_STDOUT" envDefault:"false"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServerEnv parses ServerEnv from the environment.
func LoadServerEnv() (ServerEnv, error) {
	var cfg ServerEnv
	if err := ParseEnv(&cfg); err != nil {
		return ServerEnv{}, err
	}
	if cfg.WebhookInterval <= 0 {
		return ServerEnv{}, fmt.Errorf("QP_WEBHOOK_INTERVAL must be positive")
	}
	return cfg, nil
}
