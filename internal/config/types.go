package config

// Config is the full daemon configuration.
//
// The file may be JSON or YAML (YAML is coerced to JSON before the strict
// decode, so unknown keys are rejected in both formats).
//
// All duration fields are Go duration strings (e.g. "30s", "5m", "24h").
type Config struct {
	Identity IdentityConfig `json:"identity"`

	// Relays lists the Nostr relay websocket URLs. At least one is required.
	Relays []string `json:"relays"`

	Sources SourcesConfig `json:"sources"`
	Fetch   FetchConfig   `json:"fetch,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
	Debug   DebugConfig   `json:"debug,omitempty"`

	// DryRun simulates publishing: items are marked as posted for the
	// session but no event ever leaves the process.
	DryRun bool `json:"dry_run,omitempty"`

	// SeedLimit caps the relay-side history query used to pre-populate the
	// duplicate guards. 0 means the default (1000).
	SeedLimit int `json:"seed_limit,omitempty"`
}

type IdentityConfig struct {
	// Nsec is the bot's private key in NIP-19 bech32 form (nsec1...).
	Nsec string `json:"nsec"`
}

type SourcesConfig struct {
	Hitchwiki HitchwikiConfig `json:"hitchwiki"`
	Hitchmap  HitchmapConfig  `json:"hitchmap"`
}

// HitchwikiConfig controls the recent-changes watcher.
//
// Enabled is a pointer so "omitted" defaults to true while an explicit
// false still disables the source.
type HitchwikiConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// Interval between polls. Accepts a duration ("5m") or a cron spec.
	Interval string `json:"interval,omitempty"`

	// BaseURL of the wiki. Default "https://hitchwiki.org".
	BaseURL string `json:"base_url,omitempty"`

	// Languages to poll, in order. Default is the full known set.
	Languages []string `json:"languages,omitempty"`

	// LanguageDelay is the pause between per-language feed fetches so the
	// wiki isn't hammered. Default "10s".
	LanguageDelay string `json:"language_delay,omitempty"`
}

// HitchmapConfig controls the map-dump ingester.
type HitchmapConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// Interval between dump refreshes. Default "24h".
	Interval string `json:"interval,omitempty"`

	// DumpURL of the sqlite dump. Default "https://hitchmap.com/dump.sqlite".
	DumpURL string `json:"dump_url,omitempty"`

	// DumpDir is where downloaded dumps are kept. Default "./hitchmap-dumps".
	DumpDir string `json:"dump_dir,omitempty"`

	// WindowDays selects points newer than now-WindowDays. Default 12.
	WindowDays int `json:"window_days,omitempty"`
}

// FetchConfig controls the shared outbound HTTP client.
type FetchConfig struct {
	Timeout    string `json:"timeout,omitempty"`      // default "30s"
	CacheTTL   string `json:"cache_ttl,omitempty"`    // default "1m"
	RetryMax   int    `json:"retry_max,omitempty"`    // default 3
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default 1 request/s
	UserAgent  string `json:"user_agent,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof + metrics).
//
// Prefer binding to localhost; the server has no auth.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:6060"
}
