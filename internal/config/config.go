// Package config содержит логику чтения конфигурации сервиса seomarket.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса seomarket.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	TrackingPrefix string `env:"TRACKING_PREFIX"`
	Currency       string `env:"CURRENCY"`
	UploadDir      string `env:"UPLOAD_DIR"`

	StaffLogin    string `env:"STAFF_LOGIN"`
	StaffPassword string `env:"STAFF_PASSWORD"`
	StaffSecret   string `env:"STAFF_AUTH_SECRET"`

	PayPalBaseURL   string `env:"PAYPAL_BASE_URL"`
	PayPalClientID  string `env:"PAYPAL_CLIENT_ID"`
	PayPalSecret    string `env:"PAYPAL_SECRET"`
	PayPalWebhookID string `env:"PAYPAL_WEBHOOK_ID"`

	StripeBaseURL       string `env:"STRIPE_BASE_URL"`
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envTrackingPrefix := cfg.TrackingPrefix
	envUploadDir := cfg.UploadDir

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.TrackingPrefix, "p", "SEO", "tracking code prefix")
	flag.StringVar(&cfg.UploadDir, "u", "uploads", "directory for deliverable uploads")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envTrackingPrefix != "" {
		cfg.TrackingPrefix = envTrackingPrefix
	}
	if envUploadDir != "" {
		cfg.UploadDir = envUploadDir
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.TrackingPrefix == "" {
		cfg.TrackingPrefix = "SEO"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.StaffSecret == "" {
		cfg.StaffSecret = "seomarket-secret"
	}

	return cfg, nil
}
