package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"chankeeper/internal/gateway"
	logx "chankeeper/pkg/logx"
)

const permsReadWrite = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages

// CreateChannel creates a text channel hidden from @everyone. The rule's
// role (if any) is granted view access, and Content becomes the topic plus
// the opening message.
func (a *Adapter) CreateChannel(ctx context.Context, req gateway.CreateRequest) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			// @everyone shares its ID with the guild
			ID:   req.GuildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
	}
	if req.RoleID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    req.RoleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: permsReadWrite,
		})
	}

	ch, err := a.sess.GuildChannelCreateComplex(req.GuildID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                req.Content,
		ParentID:             req.CategoryID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrapGatewayErr("create channel", err)
	}

	if req.Content != "" {
		if _, err := a.sess.ChannelMessageSend(ch.ID, req.Content, discordgo.WithContext(ctx)); err != nil {
			// channel exists; opening message is best-effort
			a.log.Warn("opening message failed",
				logx.String("channel", ch.ID), logx.Err(err))
		}
	}
	return ch.ID, nil
}

// RestrictAccess denies view and send on every existing overwrite and the
// default role. roleExempt keeps view access but loses send.
func (a *Adapter) RestrictAccess(ctx context.Context, guildID, channelID, roleExempt string) error {
	ch, err := a.sess.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return wrapGatewayErr("restrict access", err)
	}

	seen := map[string]bool{}
	for _, ow := range ch.PermissionOverwrites {
		if ow.ID == roleExempt && ow.Type == discordgo.PermissionOverwriteTypeRole {
			continue
		}
		if err := a.sess.ChannelPermissionSet(channelID, ow.ID, ow.Type,
			0, permsReadWrite, discordgo.WithContext(ctx)); err != nil {
			return wrapGatewayErr("restrict access", err)
		}
		seen[ow.ID] = true
	}
	if !seen[guildID] {
		if err := a.sess.ChannelPermissionSet(channelID, guildID,
			discordgo.PermissionOverwriteTypeRole, 0, permsReadWrite,
			discordgo.WithContext(ctx)); err != nil {
			return wrapGatewayErr("restrict access", err)
		}
	}
	if roleExempt != "" {
		if err := a.sess.ChannelPermissionSet(channelID, roleExempt,
			discordgo.PermissionOverwriteTypeRole,
			discordgo.PermissionViewChannel, discordgo.PermissionSendMessages,
			discordgo.WithContext(ctx)); err != nil {
			return wrapGatewayErr("restrict access", err)
		}
	}
	return nil
}

func (a *Adapter) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := a.sess.ChannelDelete(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return wrapGatewayErr("delete channel", err)
	}
	return nil
}

// RoleMembers pages through the guild member list and returns everyone
// holding roleID.
func (a *Adapter) RoleMembers(ctx context.Context, guildID, roleID string) ([]gateway.Member, error) {
	var out []gateway.Member
	after := ""
	for {
		page, err := a.sess.GuildMembers(guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return nil, wrapGatewayErr("role members", err)
		}
		if len(page) == 0 {
			return out, nil
		}
		for _, m := range page {
			if m.User == nil || m.User.Bot {
				continue
			}
			if hasRole(m.Roles, roleID) {
				out = append(out, gateway.Member{UserID: m.User.ID, Username: m.User.Username})
			}
		}
		after = page[len(page)-1].User.ID
	}
}

func (a *Adapter) SendDM(ctx context.Context, userID, text string) error {
	dm, err := a.sess.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return wrapGatewayErr("send dm", err)
	}
	if _, err := a.sess.ChannelMessageSend(dm.ID, text, discordgo.WithContext(ctx)); err != nil {
		return wrapGatewayErr("send dm", err)
	}
	return nil
}

func hasRole(roles []string, roleID string) bool {
	for _, r := range roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// wrapGatewayErr classifies discord REST failures. Unknown Channel means
// the target is already gone, which delete treats as success.
func wrapGatewayErr(op string, err error) error {
	kind := gateway.KindOther
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		switch rerr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownGuild:
			kind = gateway.KindAlreadyAbsent
		}
	}
	return &gateway.Error{Kind: kind, Op: op, Err: fmt.Errorf("discord: %w", err)}
}
