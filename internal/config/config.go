// Package config содержит логику чтения конфигурации сервиса доски вакансий.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса доски вакансий.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	PaymentSystemAddress string `env:"PAYMENT_SYSTEM_ADDRESS"`
	ExpireSweepSpec      string `env:"EXPIRE_SWEEP_SPEC"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPaymentAddress := cfg.PaymentSystemAddress
	envSweepSpec := cfg.ExpireSweepSpec

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentSystemAddress, "p", "", "payment system address")
	flag.StringVar(&cfg.ExpireSweepSpec, "s", "@every 1m", "cron spec for expiration sweep")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaymentAddress != "" {
		cfg.PaymentSystemAddress = envPaymentAddress
	}
	if envSweepSpec != "" {
		cfg.ExpireSweepSpec = envSweepSpec
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.ExpireSweepSpec == "" {
		cfg.ExpireSweepSpec = "@every 1m"
	}

	return cfg, nil
}
