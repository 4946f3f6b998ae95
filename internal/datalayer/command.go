package datalayer

import (
	"context"
	"fmt"
)

// Command names consumed by the dispatch layer.
const (
	CommandConfig = "config"
	CommandSet    = "set"
	CommandEvent  = "event"

	// CommandState is the name of a model update: a command with a single
	// map argument whose entries are merged into the page model. It never
	// needs a handler.
	CommandState = ""
)

// Command is one entry of the data layer. Commands are immutable once pushed.
type Command struct {
	Name string
	Args []any

	// Seq is assigned by the data layer when the command is pushed.
	Seq int64
}

// NewCommand builds a command from a name and its positional arguments, the
// same shape as a measure('name', ...args) snippet call.
func NewCommand(name string, args ...any) Command {
	return Command{Name: name, Args: args}
}

// StateCommand builds a model update command.
func StateCommand(state map[string]any) Command {
	return Command{Name: CommandState, Args: []any{state}}
}

// String renders the command for logs.
func (c Command) String() string {
	if c.Name == CommandState {
		return fmt.Sprintf("#%d state", c.Seq)
	}
	return fmt.Sprintf("#%d %s/%d", c.Seq, c.Name, len(c.Args))
}

// Handler processes the arguments of one command. A returned error is logged
// by the data layer and does not stop processing of later commands.
type Handler func(ctx context.Context, args []any) error
