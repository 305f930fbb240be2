// Package servicecache keeps initialized collaborator handles (recognizers,
// translators, synthesizers, ...) keyed by kind, engine, model, device, and
// options so expensive model loads happen once per daemon.
//
// Factories are registered per (kind, engine) in a Registry. Concurrent
// lookups for the same key share one creation through singleflight; failed
// creations are not cached. Clear drops every handle, closing those that
// implement io.Closer.
package servicecache
