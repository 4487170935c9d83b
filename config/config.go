package config

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"storyboard/pkg/logger"
)

// Config is read from the process environment, optionally seeded by a .env file.
// The database keys keep the bare names Supabase hands out.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBUser     string `env:"user"`
	DBPassword string `env:"password"`
	DBHost     string `env:"host"`
	DBPort     string `env:"port" envDefault:"5432"`
	DBName     string `env:"dbname"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"require"`

	JWTSecret string `env:"SUPABASE_JWT_SECRET"`

	// DemoBaseURL switches demo loading from the embedded bundle to an HTTP fetch.
	DemoBaseURL  string `env:"DEMO_BASE_URL"`
	DemoBasePath string `env:"DEMO_BASE_PATH"`

	MigrateOnStart bool `env:"MIGRATE_ON_START" envDefault:"false"`
}

// Load reads .env (if present), parses the environment into a Config and
// initialises the logger at the configured level.
func Load() (*Config, error) {
	dotenvErr := godotenv.Load()
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)
	if dotenvErr != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}
	return cfg, nil
}

// Parse reads the current environment without touching .env files.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// DatabaseConfigured reports whether enough is set to attempt a connection.
func (c *Config) DatabaseConfigured() bool {
	return c.DBHost != "" && c.DBName != ""
}

// DSN builds the lib/pq connection URL.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}
