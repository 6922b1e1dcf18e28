package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Key identifies a rule by its uniqueness triple. At most one rule may exist
// per (guild, category, channel name), and at most one open instance per key.
type Key struct {
	GuildID    string
	CategoryID string
	Name       string
}

func (k Key) String() string {
	return k.GuildID + "/" + k.CategoryID + "/" + k.Name
}

func (k Key) IsZero() bool {
	return k.GuildID == "" && k.CategoryID == "" && k.Name == ""
}

// DailyTime is a time-of-day in a rule's timezone.
type DailyTime struct {
	Hour   int // 0..23
	Minute int // 0..59
}

func (t DailyTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the moment the daily time falls on for the calendar date of ref,
// interpreted in ref's location.
func (t DailyTime) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

// Rule is a recurring channel lifecycle policy: create a channel at At every
// day, lock it LockAfter later (optional), delete it DeleteAfter later.
// Rules are authored by operators and read-only to the engine.
type Rule struct {
	GuildID    string
	CategoryID string
	Name       string

	At       DailyTime
	Timezone string // IANA zone name, e.g. "America/New_York"

	// LockAfter is measured from creation; zero means the channel is never
	// locked. DeleteAfter is measured from creation and must be positive.
	LockAfter   time.Duration
	DeleteAfter time.Duration

	RoleID  string // optional role granted access (everyone else is hidden)
	Content string // topic + first message posted into the channel

	CreatedAt time.Time
}

func (r Rule) Key() Key {
	return Key{GuildID: r.GuildID, CategoryID: r.CategoryID, Name: r.Name}
}

// Location resolves the rule's IANA timezone.
func (r Rule) Location() (*time.Location, error) {
	tz := strings.TrimSpace(r.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// ValidationError reports a structurally invalid rule. It is surfaced at
// upsert time; invalid rules are never stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid rule: " + e.Field + ": " + e.Reason
}

// Validate checks rule invariants before storing.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.GuildID) == "" {
		return &ValidationError{Field: "guild", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.CategoryID) == "" {
		return &ValidationError{Field: "category", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if r.At.Hour < 0 || r.At.Hour > 23 || r.At.Minute < 0 || r.At.Minute > 59 {
		return &ValidationError{Field: "daily_time", Reason: "out of range"}
	}
	if _, err := r.Location(); err != nil {
		return &ValidationError{Field: "timezone", Reason: fmt.Sprintf("unknown zone %q", r.Timezone)}
	}
	if r.DeleteAfter <= 0 {
		return &ValidationError{Field: "delete_after", Reason: "must be positive"}
	}
	if r.LockAfter < 0 {
		return &ValidationError{Field: "lock_after", Reason: "must not be negative"}
	}
	if r.LockAfter > 0 && r.LockAfter >= r.DeleteAfter {
		return &ValidationError{Field: "lock_after", Reason: "lock must happen before delete"}
	}
	return nil
}

// Instance tracks one live occurrence of a rule having created a channel.
// It is the only durable memory of where in the create/lock/delete sequence
// a rule currently sits; Locked and Deleted are monotonic.
type Instance struct {
	GuildID    string
	CategoryID string
	Name       string

	ChannelID string
	CreatedAt time.Time // UTC
	Locked    bool
	Deleted   bool
}

func (i Instance) Key() Key {
	return Key{GuildID: i.GuildID, CategoryID: i.CategoryID, Name: i.Name}
}
