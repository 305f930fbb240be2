// Package notifications delivers job lifecycle events via ntfy.
//
// The default implementation publishes to the ntfy topic URL configured in
// config.toml and degrades to a no-op when no topic is set. Per-event toggles
// in [notifications] suppress individual event types. Pipeline code depends
// only on the Service interface.
package notifications
