// Package config manages application configuration.
//
// Values are layered, lowest to highest: defaults, a photosync.{yaml,json,toml}
// config file, a .env file, the process environment, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Collision policies for items that share a filename.
const (
	CollisionSuffix    = "suffix"
	CollisionOverwrite = "overwrite"
)

// Log output formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

var (
	// ErrInvalidConfig is wrapped by every Validate failure.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMissingCredentials indicates the OAuth client secrets file is absent.
	ErrMissingCredentials = errors.New("credentials file not found")
)

// Config holds all application configuration for a sync run.
type Config struct {
	// CredentialsFile is the OAuth client secrets JSON downloaded from the
	// cloud console.
	CredentialsFile string `mapstructure:"credentials_file"`
	// TokenFile caches the authorized user token between runs.
	TokenFile string `mapstructure:"token_file"`
	// DownloadDir is the flat directory media files are written to.
	DownloadDir string `mapstructure:"download_dir"`
	// StateFile is the progress ledger.
	StateFile string `mapstructure:"state_file"`

	// PageSize is the number of items requested per listing page (1..100).
	PageSize int `mapstructure:"page_size"`
	// MaxRetries is the number of download attempts per item.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the pause between failed download attempts and the
	// first listing backoff.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// DownloadTimeout bounds connecting, waiting for headers and each
	// body read during a download.
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	// ListingMaxRetries bounds consecutive transient retries of one listing
	// page. Zero retries forever.
	ListingMaxRetries int `mapstructure:"listing_max_retries"`
	// ListingMaxBackoff caps the listing retry delay.
	ListingMaxBackoff time.Duration `mapstructure:"listing_max_backoff"`
	// ListingRPS paces Library API requests. Zero disables pacing.
	ListingRPS float64 `mapstructure:"listing_rps"`

	// CheckpointEvery persists the ledger after this many successes.
	CheckpointEvery int `mapstructure:"checkpoint_every"`
	// Workers is the number of concurrent downloads.
	Workers int `mapstructure:"workers"`
	// CollisionPolicy decides how items sharing a filename are stored.
	CollisionPolicy string `mapstructure:"collision_policy"`
	// VerifyExisting re-downloads existing files that are empty.
	VerifyExisting bool `mapstructure:"verify_existing"`

	LogLevel  string `mapstructure:"log_level"`
	LogFile   string `mapstructure:"log_file"`
	LogFormat string `mapstructure:"log_format"`

	// Source is the config file that was read, if any.
	Source string `mapstructure:"-"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		CredentialsFile:   "credentials.json",
		TokenFile:         "token.json",
		DownloadDir:       "./downloads",
		StateFile:         "sync_state.json",
		PageSize:          100,
		MaxRetries:        3,
		RetryDelay:        5 * time.Second,
		DownloadTimeout:   30 * time.Second,
		ListingMaxRetries: 10,
		ListingMaxBackoff: 5 * time.Minute,
		ListingRPS:        5,
		CheckpointEvery:   10,
		Workers:           1,
		CollisionPolicy:   CollisionSuffix,
		VerifyExisting:    false,
		LogLevel:          "info",
		LogFormat:         LogFormatConsole,
	}
}

// legacyEnv maps keys to the unprefixed variable names older deployments
// use in their .env files.
var legacyEnv = map[string]string{
	"credentials_file": "CREDENTIALS_FILE",
	"token_file":       "TOKEN_FILE",
	"download_dir":     "DOWNLOAD_PATH",
	"state_file":       "STATE_FILE",
	"page_size":        "PAGE_SIZE",
	"max_retries":      "MAX_RETRIES",
	"retry_delay":      "RETRY_DELAY",
}

// Load builds the configuration. path names an explicit config file; when
// empty, photosync.* is searched in the working directory and
// $HOME/.config/photosync. flags, when non-nil, override every other
// source for the flags the user actually set.
// Priority: flags > env vars > .env > config file > defaults
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := gotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	for _, key := range v.AllKeys() {
		names := []string{"PHOTOSYNC_" + strings.ToUpper(key)}
		if alias, ok := legacyEnv[key]; ok {
			names = append(names, alias)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
		if flags != nil {
			if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("photosync")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "photosync"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg := &Config{}
	hook := mapstructure.ComposeDecodeHookFunc(durationHook, mapstructure.StringToSliceHookFunc(","))
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("credentials_file", d.CredentialsFile)
	v.SetDefault("token_file", d.TokenFile)
	v.SetDefault("download_dir", d.DownloadDir)
	v.SetDefault("state_file", d.StateFile)
	v.SetDefault("page_size", d.PageSize)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_delay", d.RetryDelay)
	v.SetDefault("download_timeout", d.DownloadTimeout)
	v.SetDefault("listing_max_retries", d.ListingMaxRetries)
	v.SetDefault("listing_max_backoff", d.ListingMaxBackoff)
	v.SetDefault("listing_rps", d.ListingRPS)
	v.SetDefault("checkpoint_every", d.CheckpointEvery)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("collision_policy", d.CollisionPolicy)
	v.SetDefault("verify_existing", d.VerifyExisting)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_format", d.LogFormat)
}

// durationHook decodes durations from Go duration strings ("30s") and from
// bare numbers, which are read as seconds (RETRY_DELAY=5).
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(n * float64(time.Second)), nil
		}
		return time.ParseDuration(s)
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// Validate checks that configuration values are valid and consistent.
// It returns an error wrapping ErrInvalidConfig if any value is invalid.
func (c *Config) Validate() error {
	switch {
	case c.CredentialsFile == "":
		return invalid("credentials_file must be set")
	case c.TokenFile == "":
		return invalid("token_file must be set")
	case c.DownloadDir == "":
		return invalid("download_dir must be set")
	case c.StateFile == "":
		return invalid("state_file must be set")
	case c.PageSize < 1 || c.PageSize > 100:
		return invalid("page_size must be between 1 and 100")
	case c.MaxRetries < 1:
		return invalid("max_retries must be at least 1")
	case c.RetryDelay < 0:
		return invalid("retry_delay must be non-negative")
	case c.DownloadTimeout <= 0:
		return invalid("download_timeout must be positive")
	case c.ListingMaxRetries < 0:
		return invalid("listing_max_retries must be non-negative")
	case c.ListingMaxBackoff < c.RetryDelay:
		return invalid("listing_max_backoff must be >= retry_delay")
	case c.ListingRPS < 0:
		return invalid("listing_rps must be non-negative")
	case c.CheckpointEvery < 1:
		return invalid("checkpoint_every must be at least 1")
	case c.Workers < 1 || c.Workers > 16:
		return invalid("workers must be between 1 and 16")
	}

	switch c.CollisionPolicy {
	case CollisionSuffix, CollisionOverwrite:
	default:
		return invalid("collision_policy must be %q or %q", CollisionSuffix, CollisionOverwrite)
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return invalid("log_format must be %q or %q", LogFormatConsole, LogFormatJSON)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level %q is not a known level", c.LogLevel)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Prepare checks the filesystem preconditions of a run: the credentials
// file must exist and the download directory is created if missing.
func (c *Config) Prepare() error {
	if _, err := os.Stat(c.CredentialsFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingCredentials, c.CredentialsFile)
		}
		return fmt.Errorf("stat credentials file: %w", err)
	}
	if err := os.MkdirAll(c.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	return nil
}
