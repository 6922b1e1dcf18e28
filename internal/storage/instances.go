package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chankeeper/internal/schedule"
)

// OpenInstance returns the live (non-deleted) instance for a rule key, if any.
func (s *Store) OpenInstance(ctx context.Context, key schedule.Key) (schedule.Instance, bool, error) {
	var (
		inst            schedule.Instance
		createdAt       string
		locked, deleted int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT guild_id, category_id, name, channel_id, created_at_utc, locked, deleted
		 FROM instances
		 WHERE guild_id = ? AND category_id = ? AND name = ? AND deleted = 0`,
		key.GuildID, key.CategoryID, key.Name,
	).Scan(&inst.GuildID, &inst.CategoryID, &inst.Name, &inst.ChannelID, &createdAt, &locked, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Instance{}, false, nil
	}
	if err != nil {
		return schedule.Instance{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return schedule.Instance{}, false, err
	}
	inst.CreatedAt = t.UTC()
	inst.Locked = locked != 0
	inst.Deleted = deleted != 0
	return inst, true, nil
}

// RecordCreated opens a new instance for the key. The guarded insert (plus
// the partial unique index) makes the existence check and the write one
// atomic statement, so a racing second create observes ErrConflict instead
// of opening a duplicate instance.
func (s *Store) RecordCreated(ctx context.Context, key schedule.Key, channelID string, createdAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO instances(guild_id, category_id, name, channel_id, created_at_utc, locked, deleted)
		 SELECT ?, ?, ?, ?, ?, 0, 0
		 WHERE NOT EXISTS (
		   SELECT 1 FROM instances
		   WHERE guild_id = ? AND category_id = ? AND name = ? AND deleted = 0
		 )`,
		key.GuildID, key.CategoryID, key.Name, channelID, createdAt.UTC().Format(time.RFC3339Nano),
		key.GuildID, key.CategoryID, key.Name,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkLocked flips the lock flag. Re-marking an already locked instance is a
// no-op, and a missing instance is not an error.
func (s *Store) MarkLocked(ctx context.Context, key schedule.Key) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE instances SET locked = 1
		 WHERE guild_id = ? AND category_id = ? AND name = ? AND deleted = 0`,
		key.GuildID, key.CategoryID, key.Name,
	)
	return err
}

// MarkDeleted closes the open instance for the key by removing its row.
// The rule is then eligible to fire again on its next trigger day.
// Re-marking is a no-op.
func (s *Store) MarkDeleted(ctx context.Context, key schedule.Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM instances
		 WHERE guild_id = ? AND category_id = ? AND name = ? AND deleted = 0`,
		key.GuildID, key.CategoryID, key.Name,
	)
	return err
}
