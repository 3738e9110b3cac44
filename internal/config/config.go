// Package config loads process settings from WARROOM_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Server configures cmd/warroom.
type Server struct {
	DBPath        string   `env:"WARROOM_DB_PATH" envDefault:"data/warroom.db"`
	HTTPAddr      string   `env:"WARROOM_HTTP_ADDR" envDefault:":8080"`
	CORSOrigins   []string `env:"WARROOM_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimit     float64  `env:"WARROOM_RATE_LIMIT" envDefault:"10"`
	RateBurst     int      `env:"WARROOM_RATE_BURST" envDefault:"20"`
	ReadinessRule string   `env:"WARROOM_READINESS_RULE" envDefault:"ALL_REGISTERED"`
	ScenarioDir   string   `env:"WARROOM_SCENARIO_DIR"`
	SkirmishSeed  int64    `env:"WARROOM_SKIRMISH_SEED" envDefault:"42"`
	LogLevel      string   `env:"WARROOM_LOG_LEVEL" envDefault:"info"`
	Metrics       bool     `env:"WARROOM_METRICS" envDefault:"true"`
}

// Client configures cmd/warctl.
type Client struct {
	APIURL   string `env:"WARROOM_API_URL" envDefault:"http://localhost:8080"`
	PlayerID string `env:"WARROOM_PLAYER_ID"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServer parses the server settings.
func LoadServer() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.RateLimit <= 0 || cfg.RateBurst <= 0 {
		return cfg, fmt.Errorf("rate limit %.2f/s burst %d must be positive", cfg.RateLimit, cfg.RateBurst)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel to a slog level. Unknown names mean info.
func (s Server) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(s.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
