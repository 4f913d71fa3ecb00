package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"photosync/config"
	"photosync/internal/logging"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitError   = 1
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "photosync",
	Short: "Incremental Google Photos backup",
	Long: `photosync downloads every photo and video of a Google Photos library into a
local directory. Progress is recorded in a state file so that later runs only
fetch new items, and an interrupted run resumes where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return ExecuteContext(context.Background())
}

// ExecuteContext is Execute with a parent context for every subcommand.
// An interrupted sync is a success: its progress is saved.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		w := rootCmd.ErrOrStderr()
		fmt.Fprintf(w, "Error: %v\n", err)
		if isConfigError(err) {
			fmt.Fprintln(w, "See 'photosync --help' for configuration options.")
		}
		return ExitError
	}
	return ExitSuccess
}

func init() {
	d := config.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default: photosync.{yaml,json,toml} in . or ~/.config/photosync)")
	flags.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	flags.String("log-file", d.LogFile, "also write JSON logs to this file, rotated")
	flags.String("log-format", d.LogFormat, "stderr log format: console or json")
}

// env is the configuration and logger shared by every subcommand.
type env struct {
	cfg    *config.Config
	log    zerolog.Logger
	closer io.Closer
}

func (e *env) Close() error { return e.closer.Close() }

// setup loads the layered configuration, letting the command's flags
// override it, and builds the logger.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: logging: %v", config.ErrInvalidConfig, err)
	}
	if cfg.Source != "" {
		logger.Debug().Str("file", cfg.Source).Msg("configuration loaded")
	}
	return &env{cfg: cfg, log: logger, closer: closer}, nil
}

// isConfigError reports whether err stems from configuration rather than
// the run itself.
func isConfigError(err error) bool {
	return errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, config.ErrMissingCredentials)
}
