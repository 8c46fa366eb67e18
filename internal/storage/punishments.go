package storage

import (
	"context"
	"time"
)

type PunishmentLog struct {
	ID              int64
	GuildID         string
	UserID          string
	ActionType      string
	PunishmentType  string
	ActionsReverted int
	Reason          string
	EscalationLevel int
	Applied         bool
	CreatedAt       time.Time
}

// AddPunishment appends a log row and returns the user's total afterwards.
func (s *Store) AddPunishment(ctx context.Context, log PunishmentLog) (total int, err error) {
	created := log.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO punishment_logs (
			guild_id, user_id, action_type, punishment_type, actions_reverted, reason, escalation_level, applied, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.ActionType, log.PunishmentType, log.ActionsReverted, log.Reason, log.EscalationLevel, boolToInt(log.Applied), created.Unix())
	if err != nil {
		return 0, err
	}
	if err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM punishment_logs WHERE guild_id = ? AND user_id = ?
	`, log.GuildID, log.UserID).Scan(&total); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CountPunishments(ctx context.Context, guildID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM punishment_logs WHERE guild_id = ? AND user_id = ?
	`, guildID, userID).Scan(&count)
	return count, err
}

// ListPunishments returns rows newest first. An empty userID lists the whole
// guild; limit <= 0 means no limit.
func (s *Store) ListPunishments(ctx context.Context, guildID, userID string, since time.Time, limit int) ([]PunishmentLog, error) {
	query := `
		SELECT id, guild_id, user_id, action_type, punishment_type, actions_reverted, reason, escalation_level, applied, created_at
		FROM punishment_logs
		WHERE guild_id = ? AND created_at >= ?`
	args := []any{guildID, since.Unix()}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []PunishmentLog
	for rows.Next() {
		var log PunishmentLog
		var applied int
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.ActionType, &log.PunishmentType, &log.ActionsReverted, &log.Reason, &log.EscalationLevel, &applied, &created); err != nil {
			return nil, err
		}
		log.Applied = applied == 1
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ResetPunishments clears a user's history, dropping them back to level 0.
func (s *Store) ResetPunishments(ctx context.Context, guildID, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM punishment_logs WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
