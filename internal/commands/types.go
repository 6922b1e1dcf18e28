package commands

import (
	"context"
	"time"

	logx "chankeeper/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessManageGuild requires the Manage Server permission (or an
	// owner user ID from config).
	AccessManageGuild
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Message is one inbound command-channel message, already stripped of
// platform envelope by the adapter.
type Message struct {
	GuildID   string
	ChannelID string
	// CategoryID is the parent category of the channel the message was
	// sent in; empty for top-level channels.
	CategoryID string
	UserID     string
	Username   string
	Content    string
}

type Request struct {
	Msg     Message
	Command string
	Args    []string
	Flags   map[string]string
	Bools   map[string]bool
	ReqID   string

	Log logx.Logger
}

// Responder sends command replies back to the originating channel.
type Responder interface {
	SendText(ctx context.Context, channelID, text string) error
}

// Authorizer answers whether a member may author schedule rules.
type Authorizer interface {
	CanManageGuild(ctx context.Context, guildID, userID string) (bool, error)
}
