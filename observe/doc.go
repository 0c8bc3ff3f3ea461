// Package observe provides observability primitives for fetch backends.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. The fetch package wraps every backend call with a
// Middleware built here, and cache lookups are counted through the same
// Middleware.
package observe
