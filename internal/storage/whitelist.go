package storage

import (
	"context"
	"strings"
	"time"
)

const (
	TargetUser = "user"
	TargetRole = "role"

	// AllActions whitelists a target for every action type.
	AllActions = "all"
)

type WhitelistEntry struct {
	GuildID    string
	TargetID   string
	TargetType string
	ActionType string
	CreatedAt  time.Time
}

func (s *Store) AddWhitelist(ctx context.Context, entry WhitelistEntry) error {
	action := entry.ActionType
	if action == "" {
		action = AllActions
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO whitelist (guild_id, target_id, target_type, action_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.GuildID, entry.TargetID, entry.TargetType, action, time.Now().Unix())
	return err
}

// RemoveWhitelist deletes one entry. An empty actionType removes the target
// from every action type.
func (s *Store) RemoveWhitelist(ctx context.Context, guildID, targetID, actionType string) (int64, error) {
	query := `DELETE FROM whitelist WHERE guild_id = ? AND target_id = ?`
	args := []any{guildID, targetID}
	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, actionType)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ListWhitelist(ctx context.Context, guildID string) ([]WhitelistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, target_id, target_type, action_type, created_at
		FROM whitelist WHERE guild_id = ?
		ORDER BY target_type, target_id, action_type
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WhitelistEntry
	for rows.Next() {
		var entry WhitelistEntry
		var created int64
		if err := rows.Scan(&entry.GuildID, &entry.TargetID, &entry.TargetType, &entry.ActionType, &created); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(created, 0)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// IsWhitelisted matches the user directly or through any of roleIDs, for the
// given action type or the "all" wildcard.
func (s *Store) IsWhitelisted(ctx context.Context, guildID, actionType, userID string, roleIDs []string) (bool, error) {
	targets := append([]string{userID}, roleIDs...)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(targets)), ",")

	args := []any{guildID, actionType, AllActions}
	for _, id := range targets {
		args = append(args, id)
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM whitelist
		WHERE guild_id = ? AND (action_type = ? OR action_type = ?) AND target_id IN (`+placeholders+`)
	`, args...).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
