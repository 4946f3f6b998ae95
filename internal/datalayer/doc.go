// Package datalayer implements the page-level command queue that the
// dispatch layer listens to.
//
// ARCHITECTURE:
//
// Ordered Command Log:
// Every pushed command is stamped with a sequence number from a monotonic
// logical clock and appended to a FIFO queue. Commands are consumed strictly
// in that order, one at a time; processing one command to completion
// happens-before the next is handled.
//
// Deferred Start:
// A DataLayer created with New holds commands until Process is called. This
// models an inline snippet that queues commands before the library that
// handles them has loaded.
//
// Parking and Replay:
// A command that reaches the head of the queue with no registered handler is
// parked. When a handler registers, parked commands for every name that now
// has a handler are put back at the head of the queue in their original
// sequence order. Registration that happens inside a handler takes effect
// after that handler returns, so handlers registered together (set and event
// during a config command) replay their parked commands interleaved exactly
// as they were pushed. A model update (a command named "") needs no handler,
// but until the first config command has run it waits behind any earlier
// parked set or event command, so that replayed handlers observe the model as
// it was when they were pushed. Commands whose names no config registers
// never hold back the model, and neither do set and event commands left
// parked after a config has run (a config that failed to build).
//
// Log and Continue:
// A handler error or panic is logged with the command's name and sequence
// number and processing continues with the next command. Nothing raised by
// a handler reaches the caller of Push.
//
// Thread-safety:
//   - Push, RegisterProcessor, Process: safe from any goroutine
//   - at most one goroutine drains at a time; a Push that arrives while
//     another goroutine is draining is picked up by that drainer
//   - handlers run without the queue lock held and may push or register
package datalayer
