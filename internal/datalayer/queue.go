package datalayer

// commandQueue is an unbounded FIFO of commands.
//
// The queue is unbounded so that handlers may push follow-up commands
// without blocking the drainer that is running them.
//
// commandQueue is not synchronized; DataLayer guards it with its own mutex
// so that dequeue, parking and handler lookup happen atomically.
type commandQueue struct {
	commands []Command
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		commands: make([]Command, 0, 32),
	}
}

// Enqueue adds a command to the back of the queue.
func (q *commandQueue) Enqueue(c Command) {
	q.commands = append(q.commands, c)
}

// PushFront puts commands at the head of the queue, keeping their relative
// order. Used to replay parked commands ahead of anything pushed later.
func (q *commandQueue) PushFront(cmds []Command) {
	if len(cmds) == 0 {
		return
	}
	merged := make([]Command, 0, len(cmds)+len(q.commands))
	merged = append(merged, cmds...)
	merged = append(merged, q.commands...)
	q.commands = merged
}

// TryDequeue removes and returns the front command.
// Returns (Command{}, false) if the queue is empty.
func (q *commandQueue) TryDequeue() (Command, bool) {
	if len(q.commands) == 0 {
		return Command{}, false
	}

	c := q.commands[0]

	// Clear the slot so the backing array does not pin the args.
	q.commands[0] = Command{}

	if len(q.commands) == 1 {
		q.commands = q.commands[:0]
	} else {
		q.commands = q.commands[1:]
	}

	return c, true
}

// Len returns the number of queued commands.
func (q *commandQueue) Len() int {
	return len(q.commands)
}

// Snapshot returns a copy of the queued commands in order.
func (q *commandQueue) Snapshot() []Command {
	out := make([]Command, len(q.commands))
	copy(out, q.commands)
	return out
}
