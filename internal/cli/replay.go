package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/measure/internal/harness"
)

// Replay orders accepted by --order.
const (
	OrderBoth         = "both"
	OrderSnippetFirst = "snippet-first"
	OrderSetupFirst   = "setup-first"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Order string
}

// ReplayResult is the replay command output.
type ReplayResult struct {
	Scenario         string           `json:"scenario"`
	Order            string           `json:"order"`
	Pass             bool             `json:"pass"`
	OrderIndependent bool             `json:"order_independent"`
	Errors           []string         `json:"errors,omitempty"`
	Trace            []map[string]any `json:"trace"`
	Model            map[string]any   `json:"model"`
	LoggedErrors     int              `json:"logged_errors"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a command scenario and check order independence",
		Long: `Run a scenario against recording processors and storages, print the
resulting call trace and evaluate the scenario assertions.

With --order both (the default) the scenario runs once with the commands
pushed before the library loads and once after, and the two traces must
match.

Exit codes:
  0 - Assertions passed and both orders agree
  1 - Assertions failed or the outcome depends on load order
  2 - Command error (scenario not found or invalid)

Examples:
  measure replay testdata/scenarios/replay_order.yaml
  measure replay scenario.yaml --order setup-first --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Order, "order", OrderBoth, "load order: both | snippet-first | setup-first")
	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		code := ErrCodeInvalidScenario
		if errors.Is(err, fs.ErrNotExist) {
			code = ErrCodeNotFound
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	var (
		result      *harness.Result
		independent = true
	)
	switch opts.Order {
	case OrderBoth:
		result, err = harness.RunBoth(ctx, scenario)
		if errors.Is(err, harness.ErrOrderDependent) {
			independent = false
			formatter.VerboseLog("%v", err)
			err = nil
		}
	case OrderSnippetFirst:
		result, err = harness.Run(ctx, scenario, harness.OrderSnippetFirst)
	case OrderSetupFirst:
		result, err = harness.Run(ctx, scenario, harness.OrderSetupFirst)
	default:
		msg := fmt.Sprintf("invalid order %q: must be one of %s, %s, %s", opts.Order, OrderBoth, OrderSnippetFirst, OrderSetupFirst)
		_ = formatter.Error(ErrCodeGeneric, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	out := ReplayResult{
		Scenario:         scenario.Name,
		Order:            opts.Order,
		Pass:             result.Pass,
		OrderIndependent: independent,
		Errors:           result.Errors,
		Trace:            make([]map[string]any, len(result.Trace)),
		Model:            result.Model,
		LoggedErrors:     result.LoggedErrors,
	}
	for i, e := range result.Trace {
		out.Trace[i] = e.Fields()
	}

	exitErr := replayExitError(out)
	if formatter.Format == "json" {
		if exitErr != nil {
			code := ErrCodeAssertionFailed
			if !independent {
				code = ErrCodeOrderDependent
			}
			if err := formatter.Failure(code, exitErr.Message, out); err != nil {
				return err
			}
			return exitErr
		}
		return formatter.Success(out)
	}

	outputReplayText(formatter, out, result)
	if exitErr != nil {
		return exitErr
	}
	return nil
}

func replayExitError(r ReplayResult) *ExitError {
	switch {
	case !r.OrderIndependent:
		return NewExitError(ExitFailure, "outcome depends on load order")
	case !r.Pass:
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(r.Errors)))
	default:
		return nil
	}
}

func outputReplayText(formatter *OutputFormatter, r ReplayResult, result *harness.Result) {
	w := formatter.Writer
	fmt.Fprintf(w, "Scenario %s (order: %s)\n", r.Scenario, r.Order)
	fmt.Fprintf(w, "Trace: %d call(s), %d logged error(s)\n", len(r.Trace), r.LoggedErrors)
	fmt.Fprint(w, result.Summary())
	fmt.Fprintln(w)

	if !r.OrderIndependent {
		fmt.Fprintln(w, "✗ Outcome depends on load order")
	}
	if r.Pass {
		fmt.Fprintln(w, "✓ All assertions passed")
		return
	}
	fmt.Fprintf(w, "✗ %d assertion(s) failed\n", len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
