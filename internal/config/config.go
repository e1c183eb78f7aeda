// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config содержит параметры конфигурации сервиса заказов.
type Config struct {
	RunAddress       string          `env:"RUN_ADDRESS"`
	DatabaseURI      string          `env:"DATABASE_URI"`
	ProcessorAddress string          `env:"PROCESSOR_ADDRESS"`
	JWTSecret        string          `env:"JWT_SECRET"`
	Currency         string          `env:"CURRENCY"`
	TaxRate          decimal.Decimal `env:"TAX_RATE"`
	PlatformFeeRate  decimal.Decimal `env:"PLATFORM_FEE_RATE"`
	ProcessorFeeRate decimal.Decimal `env:"PROCESSOR_FEE_RATE"`
}

var (
	defaultTaxRate          = decimal.RequireFromString("0.19")
	defaultPlatformFeeRate  = decimal.RequireFromString("0.10")
	defaultProcessorFeeRate = decimal.RequireFromString("0.029")
)

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ProcessorAddress, "p", "", "payment processor address")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for bearer token signatures")
	flag.StringVar(&cfg.Currency, "currency", "EUR", "order currency")
	flag.TextVar(&cfg.TaxRate, "tax", defaultTaxRate, "order tax rate")
	flag.TextVar(&cfg.PlatformFeeRate, "platform-fee", defaultPlatformFeeRate, "platform fee rate")
	flag.TextVar(&cfg.ProcessorFeeRate, "processor-fee", defaultProcessorFeeRate, "simulated payment processor fee rate")

	flag.Parse()

	// Незаданные переменные окружения не трогают значения из флагов.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}

	return cfg, nil
}

// Validate проверяет обязательные параметры и допустимость ставок.
func (c *Config) Validate() error {
	if c.DatabaseURI == "" {
		return errors.New("database URI is required")
	}

	rates := []struct {
		name string
		v    decimal.Decimal
	}{
		{"tax rate", c.TaxRate},
		{"platform fee rate", c.PlatformFeeRate},
		{"processor fee rate", c.ProcessorFeeRate},
	}
	for _, r := range rates {
		if r.v.IsNegative() || r.v.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("%s must be in [0, 1), got %s", r.name, r.v)
		}
	}

	if c.PlatformFeeRate.Add(c.ProcessorFeeRate).GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("fee rates leave nothing for vendor payout")
	}

	return nil
}
