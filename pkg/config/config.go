// Package config loads the daemon's configuration: environment
// variables resolved from the data directory, the optional user
// config.json, and the queue tunables. Validation is strict; every
// offending path is reported in one error.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Environment variable names.
const (
	EnvDataDir = "TELEGRAM_SYNC_CLI_DATA_DIR"
	EnvAPIID   = "TELEGRAM_API_ID"
	EnvAPIHash = "TELEGRAM_API_HASH"
	EnvVerbose = "VERBOSE"
)

// DefaultDataDirName is the default data directory under $HOME.
const DefaultDataDirName = ".telegram-sync-cli"

// UserConfigFile is the user config file name inside the data dir.
const UserConfigFile = "config.json"

// Config is the fully resolved daemon configuration.
type Config struct {
	DataDir string
	APIID   string
	APIHash string
	Verbose bool

	User  *UserConfig
	Queue *QueueConfig
}

// UserConfig mirrors config.json. All duration fields are strings in
// the narrow <integer><unit> grammar; they are parsed and validated
// on load.
type UserConfig struct {
	ActiveAccount int64       `json:"activeAccount,omitempty"`
	Cache         CacheConfig `json:"cache"`
}

// CacheConfig groups the cache staleness and maintenance settings.
type CacheConfig struct {
	Staleness         StalenessConfig `json:"staleness"`
	BackgroundRefresh bool            `json:"backgroundRefresh"`
	MaxCacheAge       string          `json:"maxCacheAge,omitempty"`
}

// StalenessConfig holds per-category TTLs as duration strings.
type StalenessConfig struct {
	Peers    string `json:"peers,omitempty"`
	Dialogs  string `json:"dialogs,omitempty"`
	FullInfo string `json:"fullInfo,omitempty"`
}

// Parsed durations, filled in by Validate.
type ResolvedDurations struct {
	PeersTTL    Duration
	DialogsTTL  Duration
	FullInfoTTL Duration
	MaxCacheAge Duration
}

// Built-in staleness defaults.
const (
	defaultPeersTTL    = Duration(24 * 3_600_000) // 1d
	defaultDialogsTTL  = Duration(5 * 60_000)     // 5m
	defaultFullInfoTTL = Duration(3_600_000)      // 1h
	defaultMaxCacheAge = Duration(30 * 86_400_000)
)

// DataDir resolves the data directory: env override first, then
// $HOME/.telegram-sync-cli.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDataDirName), nil
}

// Load resolves the complete configuration from the environment and
// the data directory. A missing config.json is not an error; an
// invalid one is.
func Load() (*Config, error) {
	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir: dataDir,
		APIID:   os.Getenv(EnvAPIID),
		APIHash: os.Getenv(EnvAPIHash),
		Verbose: os.Getenv(EnvVerbose) == "1",
		Queue:   DefaultQueueConfig(),
	}

	user, err := loadUserConfig(filepath.Join(dataDir, UserConfigFile))
	if err != nil {
		return nil, err
	}
	cfg.User = user

	if _, err := user.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("Configuration loaded", "data_dir", dataDir, "verbose", cfg.Verbose)
	return cfg, nil
}

func loadUserConfig(path string) (*UserConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &UserConfig{}, nil
		}
		return nil, &LoadError{File: path, Err: err}
	}

	var user UserConfig
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidJSON, err)}
	}
	return &user, nil
}

// Validate checks every config.json value and parses the duration
// fields, applying defaults for unset ones. Invalid values are
// collected into a single ValidationError listing every offending
// path.
func (u *UserConfig) Validate() (*ResolvedDurations, error) {
	resolved := &ResolvedDurations{
		PeersTTL:    defaultPeersTTL,
		DialogsTTL:  defaultDialogsTTL,
		FullInfoTTL: defaultFullInfoTTL,
		MaxCacheAge: defaultMaxCacheAge,
	}

	var bad []string

	if u.ActiveAccount < 0 {
		bad = append(bad, "activeAccount")
	}

	parse := func(value, path string, dst *Duration) {
		if value == "" {
			return
		}
		d, err := ParseDuration(value)
		if err != nil {
			bad = append(bad, path)
			return
		}
		*dst = d
	}
	parse(u.Cache.Staleness.Peers, "cache.staleness.peers", &resolved.PeersTTL)
	parse(u.Cache.Staleness.Dialogs, "cache.staleness.dialogs", &resolved.DialogsTTL)
	parse(u.Cache.Staleness.FullInfo, "cache.staleness.fullInfo", &resolved.FullInfoTTL)
	parse(u.Cache.MaxCacheAge, "cache.maxCacheAge", &resolved.MaxCacheAge)

	if len(bad) > 0 {
		return nil, &ValidationError{Paths: bad}
	}
	return resolved, nil
}
