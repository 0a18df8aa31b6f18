package main

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is what the kiosk needs to sign a member in and take payment.
type Config struct {
	PortalURL            string `mapstructure:"KIOSK_PORTAL_URL"`
	Email                string `mapstructure:"KIOSK_EMAIL"`
	Password             string `mapstructure:"KIOSK_PASSWORD"`
	PaymentMethod        string `mapstructure:"KIOSK_PAYMENT_METHOD"`
	StripePublishableKey string `mapstructure:"STRIPE_PUBLISHABLE_KEY"`
	StripeURL            string `mapstructure:"STRIPE_API_URL"`
	LogLevel             string `mapstructure:"LOG_LEVEL"`
	LogDev               bool   `mapstructure:"LOG_DEV"`
}

var keys = []string{
	"KIOSK_PORTAL_URL", "KIOSK_EMAIL", "KIOSK_PASSWORD", "KIOSK_PAYMENT_METHOD",
	"STRIPE_PUBLISHABLE_KEY", "STRIPE_API_URL", "LOG_LEVEL", "LOG_DEV",
}

func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file. Using environment variables directly.")
	}

	v := viper.New()
	v.SetDefault("KIOSK_PORTAL_URL", "http://localhost:8000")
	v.SetDefault("KIOSK_PAYMENT_METHOD", "pm_card_visa")
	v.SetDefault("STRIPE_API_URL", defaultStripeURL)
	v.SetDefault("LOG_LEVEL", "warn")
	v.SetDefault("LOG_DEV", true)
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.PortalURL = strings.TrimRight(cfg.PortalURL, "/")
	return cfg, cfg.Validate()
}

// Validate reports the first missing setting.
func (c Config) Validate() error {
	switch {
	case c.Email == "" || c.Password == "":
		return errors.New("config: KIOSK_EMAIL and KIOSK_PASSWORD are required")
	case c.StripePublishableKey == "":
		return errors.New("config: STRIPE_PUBLISHABLE_KEY is required")
	}
	return nil
}
