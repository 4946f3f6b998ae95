package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/measure/internal/canonical"
	"github.com/roach88/measure/internal/datalayer"
	"github.com/roach88/measure/internal/dispatcher"
	"github.com/roach88/measure/internal/factory"
	"github.com/roach88/measure/internal/processor/googleanalytics"
	"github.com/roach88/measure/internal/registry"
	"github.com/roach88/measure/internal/storage"
	"github.com/roach88/measure/internal/testutil"
)

// Order decides whether the dispatcher is installed before or after the
// scenario commands are pushed.
type Order int

const (
	// OrderSnippetFirst pushes every command, then installs the dispatcher.
	OrderSnippetFirst Order = iota
	// OrderSetupFirst installs the dispatcher, then pushes every command.
	OrderSetupFirst
)

func (o Order) String() string {
	switch o {
	case OrderSnippetFirst:
		return "snippet_first"
	case OrderSetupFirst:
		return "setup_first"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ErrOrderDependent is returned by RunBoth when the two load orders
// produce different traces or models.
var ErrOrderDependent = errors.New("outcome depends on load order")

// Run executes a scenario in the given order against a fresh data layer,
// dispatcher and registry, then evaluates its assertions.
//
// An error means the scenario could not run; failed assertions are reported
// on the Result.
func Run(ctx context.Context, scenario *Scenario, order Order) (*Result, error) {
	cmds, err := scenario.DataLayerCommands()
	if err != nil {
		return nil, err
	}

	result := NewResult()
	rec := newRecording(result)
	logger, logs := testutil.NewLogger()

	reg := registry.Default.Clone()
	storage.RegisterBuiltins(reg)
	reg.RegisterProcessor(RecorderName, rec.newProcessor)
	reg.RegisterStorage(RecorderName, rec.newStorage)
	reg.RegisterProcessor(googleanalytics.Name, rec.newAnalytics)

	dl := datalayer.New(datalayer.WithLogger(logger))
	d := dispatcher.New(dl,
		dispatcher.WithFactory(factory.New(factory.WithRegistry(reg), factory.WithLogger(logger))),
		dispatcher.WithLogger(logger))
	defer dl.Close()
	defer d.Close()

	switch order {
	case OrderSnippetFirst:
		for _, cmd := range cmds {
			dl.Push(ctx, cmd)
		}
		d.Install(ctx)
	case OrderSetupFirst:
		d.Install(ctx)
		for _, cmd := range cmds {
			dl.Push(ctx, cmd)
		}
	default:
		return nil, fmt.Errorf("unknown order %v", order)
	}

	result.Model = dl.Model().Snapshot()
	result.LoggedErrors = len(logs.AtLevel(slog.LevelError))

	for _, a := range scenario.Assertions {
		if err := evaluate(result, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// RunBoth runs the scenario in both orders. It returns the snippet-first
// result, and ErrOrderDependent when the two runs disagree.
func RunBoth(ctx context.Context, scenario *Scenario) (*Result, error) {
	first, err := Run(ctx, scenario, OrderSnippetFirst)
	if err != nil {
		return nil, err
	}
	second, err := Run(ctx, scenario, OrderSetupFirst)
	if err != nil {
		return nil, err
	}

	a, err := outcomeJSON(first)
	if err != nil {
		return nil, err
	}
	b, err := outcomeJSON(second)
	if err != nil {
		return nil, err
	}
	if a != b {
		return first, fmt.Errorf("%w:\n  %s: %s\n  %s: %s",
			ErrOrderDependent, OrderSnippetFirst, a, OrderSetupFirst, b)
	}
	return first, nil
}

// outcomeJSON is the part of a result that must not depend on order.
func outcomeJSON(r *Result) (string, error) {
	data, err := canonical.Marshal(map[string]any{
		"trace":         traceList(r.Trace),
		"model":         r.Model,
		"logged_errors": r.LoggedErrors,
	})
	if err != nil {
		return "", fmt.Errorf("encode outcome: %w", err)
	}
	return string(data), nil
}

func traceList(trace []TraceEvent) []any {
	list := make([]any, len(trace))
	for i, e := range trace {
		list[i] = e.Fields()
	}
	return list
}

// Summary renders the trace one call per line, for failure messages.
func (r *Result) Summary() string {
	var b strings.Builder
	for _, e := range r.Trace {
		fields := e.Fields()
		fmt.Fprintf(&b, "  [%d] %s %s", e.Seq, e.Instance, e.Call)
		for _, k := range canonical.SortedKeys(fields) {
			if k == "call" || k == "instance" || k == "seq" {
				continue
			}
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
