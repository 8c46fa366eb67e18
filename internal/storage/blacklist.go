package storage

import (
	"context"
	"time"
)

func (s *Store) AddBlacklistedGuild(ctx context.Context, guildID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blacklisted_guilds (guild_id, reason, created_at) VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET reason = excluded.reason
	`, guildID, reason, time.Now().Unix())
	return err
}

func (s *Store) RemoveBlacklistedGuild(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blacklisted_guilds WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) IsGuildBlacklisted(ctx context.Context, guildID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blacklisted_guilds WHERE guild_id = ?`, guildID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
