package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./feedcore.db" description:"Path to the SQLite database file"`

	// Application configuration
	Port           string  `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount    int     `long:"worker-count" env:"WORKER_COUNT" default:"1" description:"Number of concurrent feed update workers"`
	UpdateInterval int     `long:"update-interval" env:"UPDATE_INTERVAL" default:"60" description:"Default feed update interval in minutes"`
	UpdateJitter   float64 `long:"update-jitter" env:"UPDATE_JITTER" default:"0" description:"Fraction of the interval to randomize update times by (0..1)"`
	DefaultsFile   string  `long:"defaults-file" env:"DEFAULTS_FILE" description:"Path to a YAML file with per-feed scheduling defaults (optional)"`
	SearchEnabled  bool    `long:"search" env:"SEARCH_ENABLED" description:"Enable the full-text search index on startup"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"feedcore/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:         raw.DBPath,
		Port:           raw.Port,
		WorkerCount:    raw.WorkerCount,
		UpdateInterval: raw.UpdateInterval,
		UpdateJitter:   raw.UpdateJitter,
		DefaultsFile:   raw.DefaultsFile,
		SearchEnabled:  raw.SearchEnabled,
		UserAgent:      raw.UserAgent,
		Timezone:       raw.Timezone,
		Debug:          raw.Debug,
		Version:        GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
