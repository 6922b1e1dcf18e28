// Package engine evaluates scheduling rules on a fixed wall-clock interval
// and drives channel state transitions (create, lock, delete) through the
// gateway.
//
// The engine polls rather than arming per-rule timers: every tick it derives
// each rule's position in the create/lock/delete sequence purely from
// (current time, rule, open instance or its absence). That makes a missed
// tick self-healing — the next tick fires exactly the transitions still
// pending. Double-creates are fenced by the store's open-instance conflict
// guard, and lock/delete are idempotent flags.
//
// Ticks never overlap: a tick that overruns the interval delays the next one.
// Within a tick, independent rules are evaluated concurrently; each rule key
// is touched by exactly one goroutine.
package engine
