package config

import (
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/risk"
)

// AppConfig is the top-level YAML structure.
type AppConfig struct {
	Version string     `yaml:"version"`
	Server  ServerConf `yaml:"server"`
	Engine  EngineConf `yaml:"engine"`
	Store   StoreConf  `yaml:"store"`
	Feed    FeedConf   `yaml:"feed"`
	Risk    RiskConf   `yaml:"risk"`
	Market  MarketConf `yaml:"market"`
	Access  AccessConf `yaml:"access"`
	Notify  NotifyConf `yaml:"notify"`
	Log     LogConf    `yaml:"log"`
}

// ServerConf holds HTTP listener settings.
type ServerConf struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConf holds ingestion cycle and background worker settings.
type EngineConf struct {
	Interval        time.Duration `yaml:"interval"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	VerifyThreshold float64       `yaml:"verify_threshold"`
	Workers         int           `yaml:"workers"`
	QueueDepth      int           `yaml:"queue_depth"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
}

// StoreConf sizes the dedup window.
type StoreConf struct {
	Window time.Duration `yaml:"window"`
}

// FeedConf selects the candidate record source.
type FeedConf struct {
	Type     string        `yaml:"type"` // usgs, or static (url names a local GeoJSON file)
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	Attempts int           `yaml:"attempts"`
}

// RiskConf carries the curated tables and the noise seed. A zero seed uses
// the current time.
type RiskConf struct {
	Seed   int64       `yaml:"seed"`
	Tables risk.Tables `yaml:",inline"`
}

// MarketConf selects the exchange-rate source.
type MarketConf struct {
	Source  string             `yaml:"source"` // synthetic | http
	BaseURL string             `yaml:"base_url"`
	Timeout time.Duration      `yaml:"timeout"`
	Seed    int64              `yaml:"seed"`
	MaxDays int                `yaml:"max_days"`
	Rates   map[string]float64 `yaml:"rates"`
}

// AccessConf tunes per-key request smoothing ahead of quota accounting.
// AdminToken guards key issuance, renewal and revocation; when empty those
// routes are disabled.
type AccessConf struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	AdminToken    string  `yaml:"admin_token"`
}

// NotifyConf configures alert fan-out. Redis is enabled when RedisAddr is set.
type NotifyConf struct {
	ReplaySize    int    `yaml:"replay_size"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisChannel  string `yaml:"redis_channel"`
}

// LogConf selects log level, format and optional rotating file output.
type LogConf struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}
