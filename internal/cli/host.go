package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/measure/internal/config"
	"github.com/roach88/measure/internal/datalayer"
	"github.com/roach88/measure/internal/dispatcher"
	"github.com/roach88/measure/internal/factory"
	"github.com/roach88/measure/internal/registry"
	"github.com/roach88/measure/internal/storage"
)

// NewRegistry returns the registry a host resolves names against: the
// default processors plus the built-in storages.
func NewRegistry() *registry.Registry {
	reg := registry.Default.Clone()
	storage.RegisterBuiltins(reg)
	return reg
}

// Host is one running data layer with its dispatcher.
type Host struct {
	DataLayer  *datalayer.DataLayer
	Dispatcher *dispatcher.Dispatcher
}

// NewHost pushes the configuration command and installs the dispatcher.
// A configuration that fails to build is logged and leaves Generation at 0.
func NewHost(ctx context.Context, cfg *config.Config, reg *registry.Registry, logger *slog.Logger) *Host {
	dl := datalayer.New(datalayer.WithLogger(logger))
	d := dispatcher.New(dl,
		dispatcher.WithFactory(factory.New(factory.WithRegistry(reg), factory.WithLogger(logger))),
		dispatcher.WithLogger(logger))

	dl.Push(ctx, cfg.ConfigCommand())
	d.Install(ctx)
	return &Host{DataLayer: dl, Dispatcher: d}
}

// Close releases the active storage and stops the data layer.
func (h *Host) Close() error {
	err := h.Dispatcher.Close()
	h.DataLayer.Close()
	return err
}

// checkComponents reports names in cfg that reg cannot resolve.
func checkComponents(reg *registry.Registry, cfg *config.Config) error {
	if _, ok := reg.Resolve(registry.KindProcessor, cfg.Processor.Name); !ok {
		return fmt.Errorf("unknown processor %q (registered: %v)", cfg.Processor.Name, reg.Names(registry.KindProcessor))
	}
	if _, ok := reg.Resolve(registry.KindStorage, cfg.Storage.Name); !ok {
		return fmt.Errorf("unknown storage %q (registered: %v)", cfg.Storage.Name, reg.Names(registry.KindStorage))
	}
	return nil
}

// newLogger builds the CLI text logger. --verbose forces DEBUG.
func newLogger(w io.Writer, level slog.Level, verbose bool) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
