// Package storage persists scheduling rules and execution instances in
// SQLite. It is the engine's durable memory across restarts: a channel
// created yesterday must not be re-created today, and lock/delete deadlines
// computed before a restart still fire after it.
package storage
