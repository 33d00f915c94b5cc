// Package config содержит логику чтения конфигурации сервиса доставки воды.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса доставки воды.
type Config struct {
	RunAddress           string   `env:"RUN_ADDRESS"`
	DatabaseURI          string   `env:"DATABASE_URI"`
	BotToken             string   `env:"BOT_TOKEN"`
	JWTSecretKey         string   `env:"JWT_SECRET_KEY"`
	JWTAlgorithm         string   `env:"JWT_ALGORITHM" envDefault:"HS256"`
	TokenLifetimeMinutes int      `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"43200"`
	BootstrapSecret      string   `env:"OPERATOR_BOOTSTRAP_SECRET"`
	PricePerBottle       int64    `env:"PRICE_PER_BOTTLE" envDefault:"120"`
	AllowedOrigins       []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Parse считывает конфигурацию из переменных окружения и флагов командной строки.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if c.BootstrapSecret == "" {
		return fmt.Errorf("OPERATOR_BOOTSTRAP_SECRET is required")
	}
	if c.JWTAlgorithm != "HS256" {
		return fmt.Errorf("unsupported JWT algorithm: %s", c.JWTAlgorithm)
	}
	if c.TokenLifetimeMinutes <= 0 {
		return fmt.Errorf("token lifetime must be positive, got %d", c.TokenLifetimeMinutes)
	}
	if c.PricePerBottle < 0 {
		return fmt.Errorf("price per bottle must be non-negative, got %d", c.PricePerBottle)
	}
	return nil
}
