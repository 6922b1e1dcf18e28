package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chankeeper/internal/schedule"
)

func (m *Manager) handleSet(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		m.reply(ctx, req.Msg.ChannelID, "usage: "+m.cmds["set"].Usage)
		return nil
	}
	name := strings.ToLower(req.Args[0])

	category := strings.TrimSpace(req.Flags["category"])
	if category == "" {
		category = req.Msg.CategoryID
	}
	if category == "" {
		m.reply(ctx, req.Msg.ChannelID, "run this inside a category or pass --category <id>")
		return nil
	}

	atRaw, ok := req.Flags["at"]
	if !ok {
		m.reply(ctx, req.Msg.ChannelID, `--at is required, e.g. --at "9:00 AM"`)
		return nil
	}
	at, err := schedule.ParseDailyTime(atRaw)
	if err != nil {
		m.reply(ctx, req.Msg.ChannelID, userError(err))
		return nil
	}

	delRaw, ok := req.Flags["delete"]
	if !ok {
		m.reply(ctx, req.Msg.ChannelID, `--delete is required, e.g. --delete "12h"`)
		return nil
	}
	deleteAfter, err := schedule.ParseDuration(delRaw)
	if err != nil {
		m.reply(ctx, req.Msg.ChannelID, userError(err))
		return nil
	}

	var lockAfter time.Duration
	if raw, ok := req.Flags["lock"]; ok {
		lockAfter, err = schedule.ParseDuration(raw)
		if err != nil {
			m.reply(ctx, req.Msg.ChannelID, userError(err))
			return nil
		}
	}

	tz := strings.TrimSpace(req.Flags["tz"])
	if tz == "" {
		tz = m.snapshot().DefaultTimezone
	}
	if tz == "" {
		tz = "UTC"
	}

	rule := schedule.Rule{
		GuildID:     req.Msg.GuildID,
		CategoryID:  category,
		Name:        name,
		At:          at,
		Timezone:    tz,
		LockAfter:   lockAfter,
		DeleteAfter: deleteAfter,
		RoleID:      strings.TrimSpace(req.Flags["role"]),
		Content:     req.Flags["message"],
		CreatedAt:   time.Now().UTC(),
	}

	if err := m.store.UpsertRule(ctx, rule); err != nil {
		var verr *schedule.ValidationError
		if errors.As(err, &verr) {
			m.reply(ctx, req.Msg.ChannelID, userError(err))
			return nil
		}
		m.reply(ctx, req.Msg.ChannelID, "could not save the schedule, try again")
		return fmt.Errorf("upsert rule %s: %w", rule.Key(), err)
	}

	m.reply(ctx, req.Msg.ChannelID, fmt.Sprintf(
		"schedule `%s` saved: creates daily at %s (%s), locks after %s, deletes after %s",
		name, at, tz,
		schedule.FormatDuration(lockAfter),
		schedule.FormatDuration(deleteAfter),
	))
	return nil
}

func (m *Manager) handleRemove(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		m.reply(ctx, req.Msg.ChannelID, "usage: "+m.cmds["remove"].Usage)
		return nil
	}
	name := strings.ToLower(req.Args[0])

	category := strings.TrimSpace(req.Flags["category"])
	if category == "" {
		category = req.Msg.CategoryID
	}
	if category == "" {
		m.reply(ctx, req.Msg.ChannelID, "run this inside a category or pass --category <id>")
		return nil
	}

	key := schedule.Key{GuildID: req.Msg.GuildID, CategoryID: category, Name: name}
	removed, err := m.store.RemoveRule(ctx, key)
	if err != nil {
		m.reply(ctx, req.Msg.ChannelID, "could not remove the schedule, try again")
		return fmt.Errorf("remove rule %s: %w", key, err)
	}
	if !removed {
		m.reply(ctx, req.Msg.ChannelID, fmt.Sprintf("no schedule named `%s` in this category", name))
		return nil
	}
	m.reply(ctx, req.Msg.ChannelID, fmt.Sprintf("schedule `%s` removed", name))
	return nil
}

func (m *Manager) handleShow(ctx context.Context, req *Request) error {
	rules, err := m.store.ListGuildRules(ctx, req.Msg.GuildID)
	if err != nil {
		m.reply(ctx, req.Msg.ChannelID, "could not read schedules, try again")
		return fmt.Errorf("list guild rules %s: %w", req.Msg.GuildID, err)
	}
	if len(rules) == 0 {
		m.reply(ctx, req.Msg.ChannelID, "no schedules in this server")
		return nil
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CategoryID != rules[j].CategoryID {
			return rules[i].CategoryID < rules[j].CategoryID
		}
		return rules[i].Name < rules[j].Name
	})

	var b strings.Builder
	b.WriteString("schedules:\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "- `%s` (category %s): daily at %s %s, lock %s, delete %s",
			r.Name, r.CategoryID, r.At, r.Timezone,
			schedule.FormatDuration(r.LockAfter),
			schedule.FormatDuration(r.DeleteAfter),
		)
		if r.RoleID != "" {
			fmt.Fprintf(&b, ", notifies role %s", r.RoleID)
		}
		b.WriteByte('\n')
	}
	m.reply(ctx, req.Msg.ChannelID, b.String())
	return nil
}

func (m *Manager) handleHelp(ctx context.Context, req *Request) error {
	prefix := m.snapshot().Prefix

	names := make([]string, 0, len(m.cmds))
	for n := range m.cmds {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("commands:\n")
	for _, n := range names {
		c := m.cmds[n]
		fmt.Fprintf(&b, "`%s %s` - %s\n", prefix, c.Usage, c.Description)
	}
	m.reply(ctx, req.Msg.ChannelID, b.String())
	return nil
}

// userError renders parse/validation failures for command replies.
func userError(err error) string {
	var perr *schedule.ParseError
	if errors.As(err, &perr) {
		return fmt.Sprintf("could not read %q: %s", perr.Input, perr.Reason)
	}
	var verr *schedule.ValidationError
	if errors.As(err, &verr) {
		return fmt.Sprintf("invalid %s: %s", verr.Field, verr.Reason)
	}
	return err.Error()
}
