package config

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultLanguages is the known set of Hitchwiki language editions.
var DefaultLanguages = []string{
	"en", "de", "es", "fi", "fr", "he", "hr", "it", "lt", "nl", "pl", "pt", "ro", "ru", "tr", "zh",
}

const (
	DefaultHitchwikiBaseURL = "https://hitchwiki.org"
	DefaultHitchmapDumpURL  = "https://hitchmap.com/dump.sqlite"

	DefaultSeedLimit = 1000
)

// WithDefaults returns a copy of cfg with zero-value fields filled in.
// Validation is separate; defaults never mask invalid input.
func (c Config) WithDefaults() Config {
	if c.Sources.Hitchwiki.Interval == "" {
		c.Sources.Hitchwiki.Interval = "5m"
	}
	if c.Sources.Hitchwiki.BaseURL == "" {
		c.Sources.Hitchwiki.BaseURL = DefaultHitchwikiBaseURL
	}
	if len(c.Sources.Hitchwiki.Languages) == 0 {
		c.Sources.Hitchwiki.Languages = append([]string(nil), DefaultLanguages...)
	}
	if c.Sources.Hitchwiki.LanguageDelay == "" {
		c.Sources.Hitchwiki.LanguageDelay = "10s"
	}

	if c.Sources.Hitchmap.Interval == "" {
		c.Sources.Hitchmap.Interval = "24h"
	}
	if c.Sources.Hitchmap.DumpURL == "" {
		c.Sources.Hitchmap.DumpURL = DefaultHitchmapDumpURL
	}
	if c.Sources.Hitchmap.DumpDir == "" {
		c.Sources.Hitchmap.DumpDir = "./hitchmap-dumps"
	}
	if c.Sources.Hitchmap.WindowDays <= 0 {
		c.Sources.Hitchmap.WindowDays = 12
	}

	if c.Fetch.Timeout == "" {
		c.Fetch.Timeout = "30s"
	}
	if c.Fetch.CacheTTL == "" {
		c.Fetch.CacheTTL = "1m"
	}
	if c.Fetch.RetryMax <= 0 {
		c.Fetch.RetryMax = 3
	}
	if c.Fetch.RatePerSec <= 0 {
		c.Fetch.RatePerSec = 1
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Debug.Addr == "" {
		c.Debug.Addr = "127.0.0.1:6060"
	}

	if c.SeedLimit <= 0 {
		c.SeedLimit = DefaultSeedLimit
	}
	return c
}

// Validate checks the fields the daemon cannot start (or safely hot-reload)
// without. Called both at startup and before committing a reload.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.Nsec) == "" {
		return errors.New("identity.nsec is required")
	}
	if !strings.HasPrefix(strings.TrimSpace(c.Identity.Nsec), "nsec1") {
		return errors.New("identity.nsec must be a NIP-19 nsec1... key")
	}
	if len(c.Relays) == 0 {
		return errors.New("relays must list at least one relay URL")
	}
	for _, r := range c.Relays {
		r = strings.TrimSpace(r)
		if !strings.HasPrefix(r, "wss://") && !strings.HasPrefix(r, "ws://") {
			return fmt.Errorf("relays: %q is not a websocket URL", r)
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"sources.hitchwiki.language_delay", c.Sources.Hitchwiki.LanguageDelay},
		{"fetch.timeout", c.Fetch.Timeout},
		{"fetch.cache_ttl", c.Fetch.CacheTTL},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if c.Sources.Hitchmap.WindowDays < 0 {
		return errors.New("sources.hitchmap.window_days must be >= 0")
	}
	if c.Fetch.RetryMax < 0 {
		return errors.New("fetch.retry_max must be >= 0")
	}
	if c.SeedLimit < 0 {
		return errors.New("seed_limit must be >= 0")
	}
	return nil
}

// SourceEnabled interprets the tri-state enabled pointer (nil means on).
func SourceEnabled(p *bool) bool { return p == nil || *p }
