package storage

import (
	"context"
	"strings"
	"time"
)

// ActionEvent is one recorded privileged action. Metadata is the raw JSON
// payload written by the tracker.
type ActionEvent struct {
	ID         int64
	GuildID    string
	UserID     string
	ActionType string
	Metadata   string
	Reverted   bool
	CreatedAt  time.Time
}

func (s *Store) AddActionEvent(ctx context.Context, event ActionEvent) (int64, error) {
	metadata := event.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO action_events (guild_id, user_id, action_type, metadata, reverted, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.GuildID, event.UserID, event.ActionType, metadata, boolToInt(event.Reverted), event.CreatedAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CountActions counts non-reverted events at or after since.
func (s *Store) CountActions(ctx context.Context, guildID, userID, actionType string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM action_events
		WHERE guild_id = ? AND user_id = ? AND action_type = ? AND reverted = 0 AND created_at_ms >= ?
	`, guildID, userID, actionType, since.UnixMilli()).Scan(&count)
	return count, err
}

// ListActions returns non-reverted events at or after since, oldest first.
func (s *Store) ListActions(ctx context.Context, guildID, userID, actionType string, since time.Time) ([]ActionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, action_type, metadata, reverted, created_at_ms
		FROM action_events
		WHERE guild_id = ? AND user_id = ? AND action_type = ? AND reverted = 0 AND created_at_ms >= ?
		ORDER BY created_at_ms ASC, id ASC
	`, guildID, userID, actionType, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ActionEvent
	for rows.Next() {
		var event ActionEvent
		var reverted int
		var created int64
		if err := rows.Scan(&event.ID, &event.GuildID, &event.UserID, &event.ActionType, &event.Metadata, &reverted, &created); err != nil {
			return nil, err
		}
		event.Reverted = reverted == 1
		event.CreatedAt = time.UnixMilli(created)
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkActionsReverted flags every pending event for the key. Rows that are
// already reverted are left alone, so calling it twice changes nothing.
func (s *Store) MarkActionsReverted(ctx context.Context, guildID, userID, actionType string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE action_events SET reverted = 1
		WHERE guild_id = ? AND user_id = ? AND action_type = ? AND reverted = 0
	`, guildID, userID, actionType)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneActions deletes events older than before in every guild except the
// ones listed in keep, which run on their own retention.
func (s *Store) PruneActions(ctx context.Context, before time.Time, keep ...string) (int64, error) {
	query := `DELETE FROM action_events WHERE created_at_ms < ?`
	args := []any{before.UnixMilli()}
	query, args = excludeGuilds(query, args, keep)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) PruneGuildActions(ctx context.Context, guildID string, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_events WHERE guild_id = ? AND created_at_ms < ?`, guildID, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func excludeGuilds(query string, args []any, guildIDs []string) (string, []any) {
	if len(guildIDs) == 0 {
		return query, args
	}
	query += ` AND guild_id NOT IN (?` + strings.Repeat(`, ?`, len(guildIDs)-1) + `)`
	for _, id := range guildIDs {
		args = append(args, id)
	}
	return query, args
}
