package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

// isolate runs the test from an empty directory with an empty HOME so no
// stray photosync.* or .env file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.PageSize != 100 || cfg.MaxRetries != 3 || cfg.RetryDelay != 5*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.CheckpointEvery != 10 || cfg.Workers != 1 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "photosync.yaml"), `
download_dir: /srv/photos
page_size: 50
retry_delay: 2s
workers: 4
collision_policy: overwrite
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DownloadDir != "/srv/photos" {
		t.Errorf("DownloadDir = %q", cfg.DownloadDir)
	}
	if cfg.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50", cfg.PageSize)
	}
	if cfg.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %v, want 2s", cfg.RetryDelay)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.CollisionPolicy != CollisionOverwrite {
		t.Errorf("CollisionPolicy = %q", cfg.CollisionPolicy)
	}
	if !strings.HasSuffix(cfg.Source, "photosync.yaml") {
		t.Errorf("Source = %q", cfg.Source)
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "nope.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "photosync.json"), `{"page_size": 50}`)
	t.Setenv("PHOTOSYNC_PAGE_SIZE", "25")
	t.Setenv("PHOTOSYNC_DOWNLOAD_TIMEOUT", "1m")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PageSize != 25 {
		t.Errorf("PageSize = %d, want 25", cfg.PageSize)
	}
	if cfg.DownloadTimeout != time.Minute {
		t.Errorf("DownloadTimeout = %v, want 1m", cfg.DownloadTimeout)
	}
}

func TestLoadLegacyEnvNames(t *testing.T) {
	isolate(t)
	t.Setenv("DOWNLOAD_PATH", "/legacy/photos")
	t.Setenv("STATE_FILE", "legacy_state.json")
	t.Setenv("RETRY_DELAY", "7")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DownloadDir != "/legacy/photos" {
		t.Errorf("DownloadDir = %q", cfg.DownloadDir)
	}
	if cfg.StateFile != "legacy_state.json" {
		t.Errorf("StateFile = %q", cfg.StateFile)
	}
	if cfg.RetryDelay != 7*time.Second {
		t.Errorf("RetryDelay = %v, want 7s", cfg.RetryDelay)
	}
}

func TestLoadPrefixedEnvWinsOverLegacy(t *testing.T) {
	isolate(t)
	t.Setenv("DOWNLOAD_PATH", "/legacy")
	t.Setenv("PHOTOSYNC_DOWNLOAD_DIR", "/current")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DownloadDir != "/current" {
		t.Errorf("DownloadDir = %q, want /current", cfg.DownloadDir)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "PAGE_SIZE=42\n")
	t.Setenv("PAGE_SIZE", "")
	os.Unsetenv("PAGE_SIZE")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PageSize != 42 {
		t.Errorf("PageSize = %d, want 42", cfg.PageSize)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	isolate(t)
	t.Setenv("PHOTOSYNC_WORKERS", "2")

	flags := pflag.NewFlagSet("sync", pflag.ContinueOnError)
	flags.Int("workers", 1, "")
	flags.String("download-dir", "./downloads", "")
	if err := flags.Parse([]string{"--workers=8"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.DownloadDir != "./downloads" {
		t.Errorf("unset flag changed DownloadDir to %q", cfg.DownloadDir)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	isolate(t)
	t.Setenv("PHOTOSYNC_PAGE_SIZE", "500")

	_, err := Load("", nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty credentials", func(c *Config) { c.CredentialsFile = "" }},
		{"empty state file", func(c *Config) { c.StateFile = "" }},
		{"page size zero", func(c *Config) { c.PageSize = 0 }},
		{"page size too large", func(c *Config) { c.PageSize = 101 }},
		{"no download attempts", func(c *Config) { c.MaxRetries = 0 }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }},
		{"zero download timeout", func(c *Config) { c.DownloadTimeout = 0 }},
		{"negative listing retries", func(c *Config) { c.ListingMaxRetries = -1 }},
		{"backoff below delay", func(c *Config) { c.ListingMaxBackoff = time.Second }},
		{"zero checkpoint", func(c *Config) { c.CheckpointEvery = 0 }},
		{"too many workers", func(c *Config) { c.Workers = 17 }},
		{"unknown collision policy", func(c *Config) { c.CollisionPolicy = "rename" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestPrepareMissingCredentials(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CredentialsFile = filepath.Join(dir, "credentials.json")
	cfg.DownloadDir = filepath.Join(dir, "downloads")

	err := cfg.Prepare()
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Prepare() = %v, want ErrMissingCredentials", err)
	}
	if _, err := os.Stat(cfg.DownloadDir); !os.IsNotExist(err) {
		t.Error("download directory should not be created when credentials are missing")
	}
}

func TestPrepareCreatesDownloadDir(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CredentialsFile = filepath.Join(dir, "credentials.json")
	cfg.DownloadDir = filepath.Join(dir, "a", "b", "downloads")
	writeFile(t, cfg.CredentialsFile, `{"installed":{}}`)

	if err := cfg.Prepare(); err != nil {
		t.Fatalf("Prepare() = %v", err)
	}
	info, err := os.Stat(cfg.DownloadDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("download directory not created: %v", err)
	}
}
