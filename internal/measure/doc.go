// Package measure defines the plugin contracts shared by the dispatch layer.
//
// This package contains contract definitions only: the Processor and Storage
// capability sets, the page Model handed to processors, the Options bag used
// for every parameter layer, and the TTL enumeration that every Storage and
// Processor must interpret identically:
//
//	0              do not persist
//	-1             let the storage apply its own default
//	positive       seconds to live
//	+Inf           persist indefinitely
//
// An omitted TTL on a set command means "ask the processor" and never reaches
// a Storage; see the dispatcher package.
//
// measure imports nothing internal so that processors, storages and the
// dispatcher can all depend on it without cycles.
package measure
