package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/measure/internal/config"
)

// ValidationResult is the validate command output.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Processor string `json:"processor,omitempty"`
	Storage   string `json:"storage,omitempty"`
	Address   string `json:"address,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate a host configuration",
		Long: `Check a CUE host configuration against the schema, apply environment
overrides and confirm the processor and storage names are registered.

Exit codes:
  0 - Configuration valid
  1 - Configuration invalid
  2 - Command error (file not found)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "config not found", err)
		}

		result := ValidationResult{Valid: false}
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) && cfgErr.Pos.IsValid() {
			result.Line = cfgErr.Pos.Line()
		}
		return outputValidationFailure(formatter, ErrCodeInvalidConfig, err.Error(), result)
	}

	formatter.VerboseLog("processor %q, storage %q", cfg.Processor.Name, cfg.Storage.Name)
	if err := checkComponents(NewRegistry(), cfg); err != nil {
		return outputValidationFailure(formatter, ErrCodeUnknownComponent, err.Error(), ValidationResult{Valid: false})
	}

	result := ValidationResult{
		Valid:     true,
		Processor: cfg.Processor.Name,
		Storage:   cfg.Storage.Name,
		Address:   cfg.Server.Address,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid (processor %s, storage %s, address %s)\n",
		path, result.Processor, result.Storage, result.Address)
	return nil
}

func outputValidationFailure(formatter *OutputFormatter, code, message string, result ValidationResult) error {
	if formatter.Format == "json" {
		if err := formatter.Failure(code, message, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", code, message)
	}
	return NewExitError(ExitFailure, "validation failed")
}
