package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Threshold struct {
	GuildID        string
	ActionType     string
	MaxActions     int
	WindowSeconds  int
	PunishmentType string
	UpdatedAt      time.Time
}

// GetThreshold reports found=false when the guild never configured the type.
func (s *Store) GetThreshold(ctx context.Context, guildID, actionType string) (Threshold, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guild_id, action_type, max_actions, time_window, punishment_type, updated_at
		FROM action_thresholds
		WHERE guild_id = ? AND action_type = ?
	`, guildID, actionType)

	var th Threshold
	var updated int64
	if err := row.Scan(&th.GuildID, &th.ActionType, &th.MaxActions, &th.WindowSeconds, &th.PunishmentType, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Threshold{}, false, nil
		}
		return Threshold{}, false, err
	}
	th.UpdatedAt = time.Unix(updated, 0)
	return th, true, nil
}

func (s *Store) UpsertThreshold(ctx context.Context, th Threshold) error {
	updated := th.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_thresholds (guild_id, action_type, max_actions, time_window, punishment_type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, action_type) DO UPDATE SET
			max_actions = excluded.max_actions,
			time_window = excluded.time_window,
			punishment_type = excluded.punishment_type,
			updated_at = excluded.updated_at
	`, th.GuildID, th.ActionType, th.MaxActions, th.WindowSeconds, th.PunishmentType, updated.Unix())
	return err
}

func (s *Store) DeleteThreshold(ctx context.Context, guildID, actionType string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM action_thresholds WHERE guild_id = ? AND action_type = ?`, guildID, actionType)
	return err
}

func (s *Store) ListThresholds(ctx context.Context, guildID string) ([]Threshold, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, action_type, max_actions, time_window, punishment_type, updated_at
		FROM action_thresholds
		WHERE guild_id = ?
		ORDER BY action_type
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Threshold
	for rows.Next() {
		var th Threshold
		var updated int64
		if err := rows.Scan(&th.GuildID, &th.ActionType, &th.MaxActions, &th.WindowSeconds, &th.PunishmentType, &updated); err != nil {
			return nil, err
		}
		th.UpdatedAt = time.Unix(updated, 0)
		out = append(out, th)
	}
	return out, rows.Err()
}

// SeedThresholds inserts defaults for a guild that has no thresholds at all.
// It returns the number of rows written.
func (s *Store) SeedThresholds(ctx context.Context, guildID string, defaults []Threshold) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_thresholds WHERE guild_id = ?`, guildID).Scan(&existing); err != nil {
		return 0, err
	}
	if existing > 0 {
		err = tx.Commit()
		return 0, err
	}

	now := time.Now().Unix()
	for _, th := range defaults {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO action_thresholds (guild_id, action_type, max_actions, time_window, punishment_type, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, guildID, th.ActionType, th.MaxActions, th.WindowSeconds, th.PunishmentType, now); err != nil {
			return 0, err
		}
		n++
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
