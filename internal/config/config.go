// Package config loads process settings from flags/environment and the sync
// policy from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// Config holds process-level settings.
type Config struct {
	Addr         string
	DataDir      string
	StaticDir    string
	LogLevel     string
	PrettyLog    bool
	SyncSchedule string
	PolicyFile   string
	UserAgent    string
	HealthCheck  bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Policy *Policy
}

type rawCfg struct {
	Addr      string `long:"addr" env:"ADDR" default:":8099" description:"HTTP server address"`
	DataDir   string `long:"data" env:"DATA_DIR" default:"/data" description:"Data directory for the SQLite database"`
	StaticDir string `long:"static" env:"STATIC_DIR" default:"./static" description:"Directory for static frontend files"`

	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Log level (debug, info, warn, error)"`
	PrettyLog bool   `long:"pretty-log" env:"PRETTY_LOG" description:"Human readable console logs"`

	SyncSchedule string `long:"sync-schedule" env:"SYNC_SCHEDULE" default:"@every 1m" description:"Cron spec for unattended feed synchronization"`
	PolicyFile   string `long:"policy" env:"SYNC_POLICY_FILE" description:"Optional YAML file overriding the sync policy"`
	UserAgent    string `long:"user-agent" env:"USER_AGENT" default:"BookingManager-CalendarSync/1.0" description:"User agent sent to remote calendars"`

	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for shared feed leases (in-memory leases when empty)"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`

	HealthCheck bool `long:"health-check" description:"Run health check against a running server and exit"`
}

// ErrHelp is returned when the user asked for usage output.
var ErrHelp = errors.New("help requested")

// Load parses args (normally os.Args[1:]) and environment variables, then
// reads the sync policy file if one is configured.
func Load(args []string) (*Config, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	policy, err := LoadPolicy(raw.PolicyFile)
	if err != nil {
		return nil, err
	}

	return &Config{
		Addr:          raw.Addr,
		DataDir:       raw.DataDir,
		StaticDir:     raw.StaticDir,
		LogLevel:      raw.LogLevel,
		PrettyLog:     raw.PrettyLog,
		SyncSchedule:  raw.SyncSchedule,
		PolicyFile:    raw.PolicyFile,
		UserAgent:     raw.UserAgent,
		HealthCheck:   raw.HealthCheck,
		RedisAddr:     raw.RedisAddr,
		RedisPassword: raw.RedisPassword,
		RedisDB:       raw.RedisDB,
		Policy:        policy,
	}, nil
}

// DBPath returns the SQLite file location inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "booking-manager.db")
}
