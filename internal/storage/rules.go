package storage

import (
	"context"
	"time"

	"chankeeper/internal/schedule"
)

// UpsertRule inserts or replaces the rule identified by its key triple.
// Structurally invalid rules are rejected before touching the database.
func (s *Store) UpsertRule(ctx context.Context, r schedule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules(guild_id, category_id, name, daily_hour, daily_minute, tz,
		                   lock_after_min, delete_after_min, role_id, content, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(guild_id, category_id, name) DO UPDATE SET
		   daily_hour=excluded.daily_hour, daily_minute=excluded.daily_minute,
		   tz=excluded.tz, lock_after_min=excluded.lock_after_min,
		   delete_after_min=excluded.delete_after_min, role_id=excluded.role_id,
		   content=excluded.content`,
		r.GuildID, r.CategoryID, r.Name, r.At.Hour, r.At.Minute, r.Timezone,
		int(r.LockAfter/time.Minute), int(r.DeleteAfter/time.Minute),
		r.RoleID, r.Content, createdAt.Format(time.RFC3339Nano),
	)
	return err
}

// RemoveRule deletes a rule. It reports whether a rule was actually removed.
func (s *Store) RemoveRule(ctx context.Context, key schedule.Key) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rules WHERE guild_id = ? AND category_id = ? AND name = ?`,
		key.GuildID, key.CategoryID, key.Name,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRules returns every stored rule across all guilds. The evaluator
// windows them in memory; a due-time index is an optimization we have not
// needed at current rule counts.
func (s *Store) ListRules(ctx context.Context) ([]schedule.Rule, error) {
	return s.queryRules(ctx,
		`SELECT guild_id, category_id, name, daily_hour, daily_minute, tz,
		        lock_after_min, delete_after_min, role_id, content, created_at
		 FROM rules ORDER BY guild_id, category_id, name`)
}

// ListGuildRules returns the rules of a single guild, for the authoring
// surface's show command.
func (s *Store) ListGuildRules(ctx context.Context, guildID string) ([]schedule.Rule, error) {
	return s.queryRules(ctx,
		`SELECT guild_id, category_id, name, daily_hour, daily_minute, tz,
		        lock_after_min, delete_after_min, role_id, content, created_at
		 FROM rules WHERE guild_id = ? ORDER BY category_id, name`, guildID)
}

func (s *Store) queryRules(ctx context.Context, q string, args ...any) ([]schedule.Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Rule
	for rows.Next() {
		var (
			r                  schedule.Rule
			lockMin, deleteMin int
			createdAt          string
		)
		if err := rows.Scan(&r.GuildID, &r.CategoryID, &r.Name, &r.At.Hour, &r.At.Minute,
			&r.Timezone, &lockMin, &deleteMin, &r.RoleID, &r.Content, &createdAt); err != nil {
			return nil, err
		}
		r.LockAfter = time.Duration(lockMin) * time.Minute
		r.DeleteAfter = time.Duration(deleteMin) * time.Minute
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
