package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"six2five/internal/platform/config"
	"six2five/internal/platform/logger"
)

// exitCodeConversion is returned when a regions file could not be converted.
const exitCodeConversion = 2

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	d := config.Default()

	cmd := &cobra.Command{
		Use:   "six2five [flags] regions_file.yml",
		Short: "Convert WorldGuard region owners and members from UUIDs back to names",
		Long: `six2five rewrites a WorldGuard regions file so that every owner and member
listed by UUID is listed by current player name instead. Names come from the
Mojang session server, queried no faster than its published rate limit.

The original file is kept next to the converted one as
<name>-<unix millis>.<ext>.backup. Ids that cannot be resolved stay listed
under unique-ids.

Every flag can also be set through the environment, e.g. SIX2FIVE_RATE=0.5.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format, stderr)

			if err := run(cmd.Context(), cfg, args[0], stdout, log); err != nil {
				return &exitError{code: exitCodeConversion, err: err}
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.String(config.KeyEndpoint, d.Resolver.Endpoint, "profile-by-id endpoint of the identity service")
	flags.Float64(config.KeyRate, d.Resolver.RatePerSecond, "maximum requests per second (0 disables limiting)")
	flags.Int(config.KeyAttempts, d.Resolver.MaxAttempts, "attempts per id before giving up")
	flags.Duration(config.KeyInitialDelay, d.Resolver.InitialDelay, "delay before the first retry")
	flags.Float64(config.KeyMultiplier, d.Resolver.Multiplier, "backoff growth factor between retries")
	flags.Duration(config.KeyTimeout, d.Resolver.RequestTimeout, "timeout of a single HTTP request")
	flags.Int(config.KeyConcurrency, d.Transform.Concurrency, "distinct ids resolved in parallel")
	flags.Duration(config.KeyLockTimeout, d.Transform.LockTimeout, "how long to wait for the regions file lock")
	flags.Bool(config.KeyDryRun, d.Transform.DryRun, "print the converted file instead of replacing it")
	flags.String(config.KeyMetricsAddr, d.Metrics.Addr, "serve /metrics and /healthz on this address while running")
	flags.String(config.KeyLogLevel, d.Log.Level, "log level (debug|info|warn|error)")
	flags.String(config.KeyLogFormat, d.Log.Format, "log format (text|json)")

	return cmd
}
