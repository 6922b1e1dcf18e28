// Package gateway declares the remote-API contract the engine drives.
// The Discord implementation lives in internal/adapters/discord; tests use
// in-memory fakes.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures for retry policy decisions.
type ErrorKind int

const (
	// KindOther is any remote failure that may succeed on retry.
	KindOther ErrorKind = iota
	// KindAlreadyAbsent means the target resource no longer exists remotely.
	// Delete treats this as success (idempotent convergence).
	KindAlreadyAbsent
)

// Error wraps a failed remote call.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AlreadyAbsent reports whether err is a gateway error for a resource that
// is already gone remotely.
func AlreadyAbsent(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindAlreadyAbsent
}

// CreateRequest describes the channel to create. The channel starts hidden
// from @everyone; RoleID (if set) is granted view access. Content becomes
// the topic and the first message.
type CreateRequest struct {
	GuildID    string
	CategoryID string
	Name       string
	Content    string
	RoleID     string
}

// Member is a guild member reachable for DM notification.
type Member struct {
	UserID   string
	Username string
}

// Gateway performs the actual channel operations against the chat platform.
// All calls may block on network I/O and must honor ctx.
type Gateway interface {
	// CreateChannel creates the channel and returns its opaque handle
	// (the platform channel ID).
	CreateChannel(ctx context.Context, req CreateRequest) (string, error)

	// RestrictAccess revokes write/view access on the channel for every
	// existing overwrite and the default role. roleExempt (optional) keeps
	// read access for one role.
	RestrictAccess(ctx context.Context, guildID, channelID, roleExempt string) error

	// DeleteChannel removes the channel. A channel that is already gone
	// yields an *Error with KindAlreadyAbsent.
	DeleteChannel(ctx context.Context, channelID string) error

	// RoleMembers lists guild members holding the given role.
	RoleMembers(ctx context.Context, guildID, roleID string) ([]Member, error)

	// SendDM delivers a direct message to one user.
	SendDM(ctx context.Context, userID, text string) error
}
