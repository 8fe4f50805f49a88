package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"dogfight/internal/input"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	TickRate       int           `env:"TICK_RATE" envDefault:"60"`
	RoomCapacity   int           `env:"ROOM_CAPACITY" envDefault:"2"`
	MatchTimeLimit time.Duration `env:"MATCH_TIME_LIMIT" envDefault:"15m"`
	WaitingTTL     time.Duration `env:"WAITING_TTL" envDefault:"10m"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	PingInterval     time.Duration `env:"PING_INTERVAL" envDefault:"10s"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	SendBuffer       int           `env:"SEND_BUFFER" envDefault:"256"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Empty lists fall back to the default flight controls.
	InputLevelFields []string `env:"INPUT_LEVEL_FIELDS" envSeparator:","`
	InputEdgeFields  []string `env:"INPUT_EDGE_FIELDS" envSeparator:","`
}

// Load reads the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

// LoadFrom reads an explicit environment, for tests and tooling.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	cfg.InputLevelFields = cleanList(cfg.InputLevelFields)
	cfg.InputEdgeFields = cleanList(cfg.InputEdgeFields)
	cfg.AllowedOrigins = cleanList(cfg.AllowedOrigins)
	if len(cfg.InputLevelFields) == 0 {
		cfg.InputLevelFields = append([]string(nil), input.DefaultLevelFields...)
	}
	if len(cfg.InputEdgeFields) == 0 {
		cfg.InputEdgeFields = append([]string(nil), input.DefaultEdgeFields...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("TICK_RATE must be positive, got %d", c.TickRate))
	}
	if c.RoomCapacity < 1 {
		errs = append(errs, fmt.Errorf("ROOM_CAPACITY must be at least 1, got %d", c.RoomCapacity))
	}
	if c.MatchTimeLimit < 0 {
		errs = append(errs, errors.New("MATCH_TIME_LIMIT must not be negative"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("HANDSHAKE_TIMEOUT must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("SEND_BUFFER must be positive, got %d", c.SendBuffer))
	}
	if len(c.InputLevelFields) == 0 || len(c.InputEdgeFields) == 0 {
		errs = append(errs, errors.New("input field lists must not be empty"))
	} else if _, err := c.Schema(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) Schema() (input.Schema, error) {
	return input.NewSchema(c.InputLevelFields, c.InputEdgeFields)
}

// MaxTicks converts the match time limit into a tick ceiling. Zero means no
// ceiling.
func (c Config) MaxTicks() int64 {
	return int64(c.MatchTimeLimit) * int64(c.TickRate) / int64(time.Second)
}
