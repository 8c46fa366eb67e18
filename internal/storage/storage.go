package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Pragmas are applied by the driver on every pooled connection.
const connPragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

type Store struct {
	db *sql.DB
}

type GuildSettings struct {
	GuildID            string
	SecurityLogChannel string
	AntiNukeEnabled    bool
	RevertEnabled      bool
	NotifyOwner        bool
	RetentionDays      int
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?"+connPragmas)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT security_log_channel, antinuke_enabled, revert_enabled, notify_owner, retention_days
		FROM guild_settings WHERE guild_id = ?`, guildID)

	result := defaults
	result.GuildID = guildID

	var enabled, revert, notify int
	err := row.Scan(
		&result.SecurityLogChannel,
		&enabled,
		&revert,
		&notify,
		&result.RetentionDays,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return GuildSettings{}, err
	}
	result.AntiNukeEnabled = enabled == 1
	result.RevertEnabled = revert == 1
	result.NotifyOwner = notify == 1
	if result.SecurityLogChannel == "" {
		result.SecurityLogChannel = defaults.SecurityLogChannel
	}
	if result.RetentionDays <= 0 {
		result.RetentionDays = defaults.RetentionDays
	}
	return result, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (
			guild_id, security_log_channel, antinuke_enabled, revert_enabled, notify_owner, retention_days
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			security_log_channel = excluded.security_log_channel,
			antinuke_enabled = excluded.antinuke_enabled,
			revert_enabled = excluded.revert_enabled,
			notify_owner = excluded.notify_owner,
			retention_days = excluded.retention_days
	`,
		settings.GuildID,
		settings.SecurityLogChannel,
		boolToInt(settings.AntiNukeEnabled),
		boolToInt(settings.RevertEnabled),
		boolToInt(settings.NotifyOwner),
		settings.RetentionDays,
	)
	return err
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// CleanupAuditLogs applies retentionDays to every guild not listed in keep.
func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int, keep ...string) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	query, args := excludeGuilds(`DELETE FROM audit_logs WHERE created_at < ?`, []any{cutoff.Unix()}, keep)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) CleanupGuildAuditLogs(ctx context.Context, guildID string, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE guild_id = ? AND created_at < ?`, guildID, cutoff.Unix())
	return err
}

// GuildRetentions returns the guilds whose stored retention differs from
// defaultDays.
func (s *Store) GuildRetentions(ctx context.Context, defaultDays int) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, retention_days FROM guild_settings
		WHERE retention_days > 0 AND retention_days != ?`, defaultDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var guildID string
		var days int
		if err := rows.Scan(&guildID, &days); err != nil {
			return nil, err
		}
		out[guildID] = days
	}
	return out, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
