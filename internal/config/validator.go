package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/quakerisk/internal/logging"
	"github.com/gyaneshwarpardhi/quakerisk/internal/risk"
)

// MinAdminTokenLen is the shortest accepted operator token.
const MinAdminTokenLen = 16

// Validate checks the config after defaults are applied:
//   - required fields and positive durations
//   - known feed, market source and log settings
//   - the risk center and region tables
func Validate(cfg *AppConfig) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if cfg.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if cfg.Engine.Interval <= 0 {
		errs = append(errs, fmt.Sprintf("engine.interval must be positive, got %s", cfg.Engine.Interval))
	}
	if cfg.Engine.FetchTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("engine.fetch_timeout must be positive, got %s", cfg.Engine.FetchTimeout))
	}
	if cfg.Engine.VerifyThreshold < 0 {
		errs = append(errs, fmt.Sprintf("engine.verify_threshold must not be negative, got %v", cfg.Engine.VerifyThreshold))
	}
	if cfg.Engine.Workers <= 0 || cfg.Engine.QueueDepth <= 0 {
		errs = append(errs, "engine.workers and engine.queue_depth must be positive")
	}
	if cfg.Store.Window <= 0 {
		errs = append(errs, fmt.Sprintf("store.window must be positive, got %s", cfg.Store.Window))
	}

	switch cfg.Feed.Type {
	case "usgs", "static":
	default:
		errs = append(errs, fmt.Sprintf("feed.type %q is not one of usgs, static", cfg.Feed.Type))
	}
	switch cfg.Market.Source {
	case "synthetic":
	case "http":
		if cfg.Market.BaseURL == "" {
			errs = append(errs, "market.base_url is required for the http source")
		}
	default:
		errs = append(errs, fmt.Sprintf("market.source %q is not one of synthetic, http", cfg.Market.Source))
	}
	if cfg.Market.MaxDays <= 0 {
		errs = append(errs, "market.max_days must be positive")
	}

	if cfg.Access.RatePerSecond < 0 || cfg.Access.Burst < 0 {
		errs = append(errs, "access.rate_per_second and access.burst must not be negative")
	}
	if t := cfg.Access.AdminToken; t != "" && len(t) < MinAdminTokenLen {
		errs = append(errs, fmt.Sprintf("access.admin_token must be at least %d characters", MinAdminTokenLen))
	}
	if cfg.Notify.ReplaySize < 0 {
		errs = append(errs, "notify.replay_size must not be negative")
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, "log.level: "+err.Error())
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of text, json", cfg.Log.Format))
	}

	if err := risk.ValidateTables(cfg.Risk.Tables); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
