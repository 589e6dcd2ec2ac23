package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the process needs from the environment.
type Config struct {
	DatabaseURL string
	JWTSecret   string
	OTPTTL      time.Duration
	OTPLength   int
	SessionTTL  time.Duration
}

// Load reads configuration from the environment, honoring a local .env file
// when present. Only DATABASE_URL and JWT_SECRET are mandatory.
func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		OTPTTL:      5 * time.Minute,
		OTPLength:   6,
		SessionTTL:  24 * time.Hour,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}

	if v := os.Getenv("OTP_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse OTP_TTL: %w", err)
		}
		cfg.OTPTTL = d
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}
	if v := os.Getenv("OTP_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 4 || n > 10 {
			return Config{}, fmt.Errorf("config: OTP_LENGTH must be an integer between 4 and 10")
		}
		cfg.OTPLength = n
	}

	return cfg, nil
}
