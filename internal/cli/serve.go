package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/measure/internal/config"
	"github.com/roach88/measure/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept data layer commands over HTTP",
		Long: `Load a host configuration and serve POST /commands, GET /model and
GET /healthz until interrupted.

Environment overrides:
  MEASURE_ADDRESS    listen address
  MEASURE_DB         use the sqlite storage at this path
  MEASURE_LOG_LEVEL  debug | info | warn | error

Examples:
  measure serve --config measure.cue
  MEASURE_DB=./measure.db measure serve --config measure.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "measure.cue", "path to the CUE host configuration")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		code := ErrCodeInvalidConfig
		if errors.Is(err, fs.ErrNotExist) {
			code = ErrCodeNotFound
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	reg := NewRegistry()
	if err := checkComponents(reg, cfg); err != nil {
		_ = formatter.Error(ErrCodeUnknownComponent, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, opts.Verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Startup configuration completes even if a signal arrives mid-way.
	host := NewHost(context.WithoutCancel(ctx), cfg, reg, logger)
	defer host.Close()

	if host.Dispatcher.Generation() == 0 {
		_ = formatter.Error(ErrCodeInvalidConfig, "configured processor or storage could not be built", nil)
		return NewExitError(ExitCommandError, "configuration failed")
	}

	formatter.VerboseLog("serving %s with storage %s on %s", cfg.Processor.Name, cfg.Storage.Name, cfg.Server.Address)
	if err := server.New(host.DataLayer, cfg.Server.Address, server.WithLogger(logger)).Run(ctx); err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}
