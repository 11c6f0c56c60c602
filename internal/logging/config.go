package logging

import "time"

// Config mirrors the original bot's logging defaults: async batching,
// daily rotation by bucket, and an emergency stash path for persistent
// write failures.
type Config struct {
	BasePath      string
	BatchSize     int
	FlushInterval time.Duration
	FsyncOnFlush  bool
	ConsoleColor  bool
	StashPath     string
}

// DefaultConfig matches addons/logging.py's _DEFAULTS.
func DefaultConfig() Config {
	return Config{
		BasePath:      "logs",
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
		FsyncOnFlush:  false,
		ConsoleColor:  true,
		StashPath:     "logs/emergency_stash.ndjson",
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.BasePath == "" {
		c.BasePath = def.BasePath
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.StashPath == "" {
		c.StashPath = def.StashPath
	}
}
