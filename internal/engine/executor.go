package engine

import (
	"context"
	"errors"
	"time"

	"chankeeper/internal/gateway"
	"chankeeper/internal/schedule"
	"chankeeper/internal/storage"
	logx "chankeeper/pkg/logx"
)

// executeCreate creates the channel and opens its instance. On gateway
// failure nothing is recorded, so the create retries on the next tick while
// the trigger window is still open; after that the day's create stays missed.
func (e *Engine) executeCreate(ctx context.Context, log logx.Logger, r schedule.Rule, now time.Time) {
	channelID, err := e.gw.CreateChannel(ctx, gateway.CreateRequest{
		GuildID:    r.GuildID,
		CategoryID: r.CategoryID,
		Name:       r.Name,
		Content:    r.Content,
		RoleID:     r.RoleID,
	})
	if err != nil {
		log.Warn("create failed; retrying while window open",
			logx.String("transition", "create"), logx.Err(err))
		return
	}

	if err := e.store.RecordCreated(ctx, r.Key(), channelID, now.UTC()); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// A racing evaluation won; converge by removing our duplicate.
			log.Warn("create raced an open instance; removing duplicate channel",
				logx.String("transition", "create"), logx.String("channel", channelID))
			if derr := e.gw.DeleteChannel(ctx, channelID); derr != nil && !gateway.AlreadyAbsent(derr) {
				log.Error("duplicate channel cleanup failed",
					logx.String("channel", channelID), logx.Err(derr))
			}
			return
		}
		// The channel exists remotely but its instance was not recorded.
		// Flag it loudly: the orphan needs operator cleanup.
		log.Error("channel created but state write failed; orphaned channel",
			logx.String("transition", "create"), logx.String("channel", channelID), logx.Err(err))
		return
	}

	log.Info("channel created",
		logx.String("channel", channelID),
		logx.Duration("lock_after", r.LockAfter),
		logx.Duration("delete_after", r.DeleteAfter))

	if e.notif != nil && r.RoleID != "" && r.Content != "" {
		e.notif.ChannelCreated(ctx, r, channelID)
	}
}

// executeLock restricts write access for everyone outside the rule's role.
// Locking has no hard deadline, so failures simply retry next tick.
func (e *Engine) executeLock(ctx context.Context, log logx.Logger, r schedule.Rule, inst schedule.Instance) {
	if err := e.gw.RestrictAccess(ctx, r.GuildID, inst.ChannelID, r.RoleID); err != nil {
		log.Warn("lock failed; retrying next tick",
			logx.String("transition", "lock"), logx.String("channel", inst.ChannelID), logx.Err(err))
		return
	}
	if err := e.store.MarkLocked(ctx, r.Key()); err != nil {
		// Re-locking an already locked channel is harmless, so a state
		// write failure just means one redundant gateway call next tick.
		log.Error("lock applied but state write failed",
			logx.String("channel", inst.ChannelID), logx.Err(err))
		return
	}
	log.Info("channel locked", logx.String("channel", inst.ChannelID))
}

// executeDelete removes the channel and closes the instance. A channel that
// is already gone remotely counts as deleted.
func (e *Engine) executeDelete(ctx context.Context, log logx.Logger, r schedule.Rule, inst schedule.Instance) {
	err := e.gw.DeleteChannel(ctx, inst.ChannelID)
	switch {
	case err == nil:
	case gateway.AlreadyAbsent(err):
		log.Debug("channel already absent remotely", logx.String("channel", inst.ChannelID))
	default:
		log.Warn("delete failed; retrying next tick",
			logx.String("transition", "delete"), logx.String("channel", inst.ChannelID), logx.Err(err))
		return
	}
	if err := e.store.MarkDeleted(ctx, r.Key()); err != nil {
		log.Error("channel deleted but state write failed",
			logx.String("channel", inst.ChannelID), logx.Err(err))
		return
	}
	log.Info("channel deleted", logx.String("channel", inst.ChannelID))
}
