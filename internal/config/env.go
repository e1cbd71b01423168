package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv overlays QUAKERISK_* environment variables on the file config.
func applyEnv(cfg *AppConfig) error {
	str := map[string]*string{
		"QUAKERISK_ADDR":           &cfg.Server.Addr,
		"QUAKERISK_FEED_TYPE":      &cfg.Feed.Type,
		"QUAKERISK_FEED_URL":       &cfg.Feed.URL,
		"QUAKERISK_MARKET_SOURCE":  &cfg.Market.Source,
		"QUAKERISK_MARKET_URL":     &cfg.Market.BaseURL,
		"QUAKERISK_REDIS_ADDR":     &cfg.Notify.RedisAddr,
		"QUAKERISK_REDIS_PASSWORD": &cfg.Notify.RedisPassword,
		"QUAKERISK_REDIS_CHANNEL":  &cfg.Notify.RedisChannel,
		"QUAKERISK_LOG_LEVEL":      &cfg.Log.Level,
		"QUAKERISK_LOG_FORMAT":     &cfg.Log.Format,
		"QUAKERISK_LOG_FILE":       &cfg.Log.File,
		"QUAKERISK_ADMIN_TOKEN":    &cfg.Access.AdminToken,
	}
	for k, dst := range str {
		if v, ok := os.LookupEnv(k); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"QUAKERISK_INTERVAL":      &cfg.Engine.Interval,
		"QUAKERISK_FETCH_TIMEOUT": &cfg.Engine.FetchTimeout,
		"QUAKERISK_WINDOW":        &cfg.Store.Window,
	}
	for k, dst := range durations {
		if v, ok := os.LookupEnv(k); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("env %s: %w", k, err)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv("QUAKERISK_VERIFY_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("env QUAKERISK_VERIFY_THRESHOLD: %w", err)
		}
		cfg.Engine.VerifyThreshold = f
	}
	if v, ok := os.LookupEnv("QUAKERISK_RISK_SEED"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("env QUAKERISK_RISK_SEED: %w", err)
		}
		cfg.Risk.Seed = n
	}
	return nil
}
