package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Addr       string
	HistoryCap int
	HistoryDB  string
	LogLevel   string
}

func Load() (*Config, error) {
	historyCap, err := strconv.Atoi(getEnv("PALAVER_HISTORY_CAP", "100"))
	if err != nil {
		return nil, fmt.Errorf("PALAVER_HISTORY_CAP must be an integer: %w", err)
	}

	cfg := &Config{
		Addr:       getEnv("PALAVER_ADDR", ":8080"),
		HistoryCap: historyCap,
		HistoryDB:  getEnv("PALAVER_HISTORY_DB", ""),
		LogLevel:   getEnv("PALAVER_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HistoryCap <= 0 {
		return fmt.Errorf("PALAVER_HISTORY_CAP must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
