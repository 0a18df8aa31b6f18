package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the portal server.
type Config struct {
	Port        string `mapstructure:"PORT"`
	AppURL      string `mapstructure:"APP_URL"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`

	SMTPHost  string `mapstructure:"SMTP_HOST"`
	SMTPPort  int    `mapstructure:"SMTP_PORT"`
	EmailUser string `mapstructure:"EMAIL_USER"`
	EmailPass string `mapstructure:"EMAIL_PASS"`

	CloudinaryCloudName    string `mapstructure:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey       string `mapstructure:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret    string `mapstructure:"CLOUDINARY_API_SECRET"`
	CloudinaryUploadPreset string `mapstructure:"CLOUDINARY_UPLOAD_PRESET"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripePriceBronze   string `mapstructure:"STRIPE_PRICE_BRONZE"`
	StripePriceSilver   string `mapstructure:"STRIPE_PRICE_SILVER"`
	StripePriceGold     string `mapstructure:"STRIPE_PRICE_GOLD"`

	AcuityUserID string `mapstructure:"ACUITY_USER_ID"`
	AcuityAPIKey string `mapstructure:"ACUITY_API_KEY"`

	ShopTimezone string `mapstructure:"SHOP_TIMEZONE"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	LogDev       bool   `mapstructure:"LOG_DEV"`
}

var keys = []string{
	"PORT", "APP_URL", "CORS_ORIGINS", "DATABASE_URL", "REDIS_ADDR", "JWT_SECRET",
	"SMTP_HOST", "SMTP_PORT", "EMAIL_USER", "EMAIL_PASS",
	"CLOUDINARY_CLOUD_NAME", "CLOUDINARY_API_KEY", "CLOUDINARY_API_SECRET", "CLOUDINARY_UPLOAD_PRESET",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "STRIPE_PRICE_BRONZE", "STRIPE_PRICE_SILVER", "STRIPE_PRICE_GOLD",
	"ACUITY_USER_ID", "ACUITY_API_KEY",
	"SHOP_TIMEZONE", "LOG_LEVEL", "LOG_DEV",
}

// Load reads configuration from a .env file (when present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file. Using environment variables directly.")
	}

	v := viper.New()
	v.SetDefault("PORT", "8000")
	v.SetDefault("APP_URL", "http://localhost:5173")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SHOP_TIMEZONE", "America/Chicago")
	v.SetDefault("LOG_LEVEL", "info")
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return cfg, cfg.Validate()
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// StripePrices maps paid tier names to their Stripe Price IDs.
func (c Config) StripePrices() map[string]string {
	return map[string]string{
		"Bronze": c.StripePriceBronze,
		"Silver": c.StripePriceSilver,
		"Gold":   c.StripePriceGold,
	}
}
