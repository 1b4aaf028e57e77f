package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver      string
	DBDSN         string
	ServerPort    string
	SessionSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	SMTPAddr      string
	SMTPFrom      string
	SMTPUser      string
	SMTPPassword  string
	OpsEmail      string
	NotifyRate    float64
	NotifyBurst   int
	NotifyTimeout time.Duration

	LogLevel         slog.Level
	ProtocolSeedFile string

	AdminUsername string
	AdminPassword string
	AdminEmail    string
}

// Load reads .env (if any) and the environment; missing required settings are fatal.
func Load() *Config {
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DBDriver:      strings.ToLower(envOr("DB_DRIVER", "postgres")),
		DBDSN:         os.Getenv("DB_DSN"),
		ServerPort:    envOr("SERVER_PORT", "8080"),
		SessionSecret: os.Getenv("SESSION_SECRET"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		SMTPAddr:     os.Getenv("SMTP_ADDR"),
		SMTPFrom:     envOr("SMTP_FROM", "alerts@facility.local"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		OpsEmail:     os.Getenv("NOTIFY_OPS_EMAIL"),

		ProtocolSeedFile: os.Getenv("PROTOCOL_SEED_FILE"),

		AdminUsername: envOr("ADMIN_USERNAME", "admin@facility.local"),
		AdminPassword: envOr("ADMIN_PASSWORD", "Admin123!"),
		AdminEmail:    envOr("ADMIN_EMAIL", "admin@facility.local"),
	}

	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN is not set")
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("SESSION_SECRET is not set")
	}
	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("DB_DRIVER %q is not supported", cfg.DBDriver)
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.NotifyBurst, err = envInt("NOTIFY_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.NotifyBurst < 1 {
		return nil, fmt.Errorf("NOTIFY_BURST %d must be at least 1", cfg.NotifyBurst)
	}
	if cfg.LockTTL, err = envDuration("LOCK_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.NotifyTimeout, err = envDuration("NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.NotifyRate = 5
	if v := os.Getenv("NOTIFY_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("NOTIFY_RATE %q is not a positive number", v)
		}
		cfg.NotifyRate = f
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envOr("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer", key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a duration", key, v)
	}
	return d, nil
}
