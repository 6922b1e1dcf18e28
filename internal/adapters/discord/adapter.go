// Package discord implements the gateway contract and the command message
// feed on top of discordgo. It is the only package that imports discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"chankeeper/internal/commands"
	"chankeeper/internal/gateway"
	logx "chankeeper/pkg/logx"
)

type Config struct {
	Token string
}

type Adapter struct {
	sess *discordgo.Session
	log  logx.Logger
	msgs chan commands.Message
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	sess, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent |
		discordgo.IntentGuildMembers

	a := &Adapter{
		sess: sess,
		log:  log.With(logx.String("comp", "discord")),
		msgs: make(chan commands.Message, 128),
	}
	sess.AddHandler(a.onMessageCreate)
	return a, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	a.log.Info("discord session open")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) {
	if err := a.sess.Close(); err != nil {
		a.log.Warn("discord close", logx.Err(err))
	}
	// msgs stays open; the dispatcher exits via its context.
	a.log.Info("discord session closed")
}

// Messages feeds inbound guild messages to the command dispatcher.
func (a *Adapter) Messages() <-chan commands.Message { return a.msgs }

func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	msg := commands.Message{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		CategoryID: a.parentCategory(m.ChannelID),
		UserID:     m.Author.ID,
		Username:   m.Author.Username,
		Content:    m.Content,
	}

	select {
	case a.msgs <- msg:
	default:
		a.log.Warn("message queue full, dropping",
			logx.String("guild", m.GuildID), logx.String("channel", m.ChannelID))
	}
}

func (a *Adapter) parentCategory(channelID string) string {
	if ch, err := a.sess.State.Channel(channelID); err == nil {
		return ch.ParentID
	}
	ch, err := a.sess.Channel(channelID)
	if err != nil {
		a.log.Debug("channel lookup failed", logx.String("channel", channelID), logx.Err(err))
		return ""
	}
	return ch.ParentID
}

// SendText implements commands.Responder.
func (a *Adapter) SendText(ctx context.Context, channelID, text string) error {
	_, err := a.sess.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send text to %s: %w", channelID, err)
	}
	return nil
}

// CanManageGuild implements commands.Authorizer. Guild owners and members
// holding a role with Administrator or Manage Server qualify.
func (a *Adapter) CanManageGuild(ctx context.Context, guildID, userID string) (bool, error) {
	guild, err := a.sess.State.Guild(guildID)
	if err != nil {
		guild, err = a.sess.Guild(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return false, fmt.Errorf("guild %s: %w", guildID, err)
		}
	}
	if guild.OwnerID == userID {
		return true, nil
	}

	member, err := a.sess.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("member %s/%s: %w", guildID, userID, err)
	}

	rolePerms := make(map[string]int64, len(guild.Roles))
	for _, r := range guild.Roles {
		rolePerms[r.ID] = r.Permissions
	}
	var perms int64
	for _, rid := range member.Roles {
		perms |= rolePerms[rid]
	}
	return perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageServer) != 0, nil
}

var _ commands.Responder = (*Adapter)(nil)
var _ commands.Authorizer = (*Adapter)(nil)
var _ gateway.Gateway = (*Adapter)(nil)
