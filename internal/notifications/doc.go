// Package notifications delivers run outcomes via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Run summaries and
// critical errors can be switched off independently.
package notifications
