package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"melina-canvas-sync/internal/board"
	"melina-canvas-sync/internal/repo"
)

type Config struct {
	Port             string
	BackendURL       string
	BackendWSURL     string
	UserID           string
	Debounce         time.Duration
	RefreshInterval  time.Duration
	MatchStrategy    string
	BackendTimeout   time.Duration
	PasteConcurrency int
}

// Load reads the environment, after merging a .env file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:          getenv("PORT", "3000"),
		BackendURL:    os.Getenv("BACKEND_URL"),
		BackendWSURL:  os.Getenv("BACKEND_WS_URL"),
		UserID:        os.Getenv("USER_ID"),
		MatchStrategy: getenv("MATCH_STRATEGY", "id"),
	}
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	if cfg.MatchStrategy != "heuristic" && cfg.MatchStrategy != "id" {
		return nil, fmt.Errorf("MATCH_STRATEGY must be heuristic or id, got %q", cfg.MatchStrategy)
	}

	var err error
	if cfg.Debounce, err = millis("RECONCILE_DEBOUNCE_MS", 150); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = millis("REFRESH_INTERVAL_MS", 10000); err != nil {
		return nil, err
	}
	if cfg.BackendTimeout, err = millis("BACKEND_TIMEOUT_MS", 0); err != nil {
		return nil, err
	}
	if cfg.PasteConcurrency, err = integer("PASTE_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.PasteConcurrency < 1 {
		return nil, fmt.Errorf("PASTE_CONCURRENCY must be at least 1, got %d", cfg.PasteConcurrency)
	}
	return cfg, nil
}

// Board builds the board configuration.
func (c *Config) Board() board.Config {
	return board.Config{
		UserID:           c.UserID,
		Matcher:          repo.MatcherByName(c.MatchStrategy),
		Debounce:         c.Debounce,
		RefreshInterval:  c.RefreshInterval,
		PasteConcurrency: c.PasteConcurrency,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func integer(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func millis(key string, fallback int) (time.Duration, error) {
	v, err := integer(key, fallback)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, v)
	}
	return time.Duration(v) * time.Millisecond, nil
}
