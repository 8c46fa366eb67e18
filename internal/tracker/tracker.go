// Package tracker records privileged actions per guild, user and action type
// and answers whether a user has crossed the configured rate limit.
package tracker

import (
	"context"
	"fmt"
	"time"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/storage"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type ActionEvent struct {
	ID        int64
	GuildID   string
	UserID    string
	Action    actions.Type
	Metadata  actions.Metadata
	Reverted  bool
	Timestamp time.Time
}

type Threshold struct {
	MaxActions int
	Window     time.Duration
	Punishment actions.Punishment
}

// Result of a threshold check. Count is always filled in, even when the
// guild has no threshold for the action type.
type Result struct {
	Exceeded   bool
	Count      int
	Configured bool
	Threshold  Threshold
}

type PunishmentRecord struct {
	GuildID         string
	UserID          string
	Action          actions.Type
	Punishment      actions.Punishment
	ActionsReverted int
	Reason          string
	Level           int
	Applied         bool
}

type Tracker struct {
	store         *storage.Store
	clock         Clock
	defaultWindow time.Duration
}

func New(store *storage.Store, defaultWindow time.Duration) *Tracker {
	if defaultWindow <= 0 {
		defaultWindow = 10 * time.Second
	}
	return &Tracker{store: store, clock: realClock{}, defaultWindow: defaultWindow}
}

func (t *Tracker) WithClock(clock Clock) {
	t.clock = clock
}

func (t *Tracker) TrackAction(ctx context.Context, guildID, userID string, action actions.Type, metadata actions.Metadata) error {
	raw, err := metadata.Encode()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = t.store.AddActionEvent(ctx, storage.ActionEvent{
		GuildID:    guildID,
		UserID:     userID,
		ActionType: string(action),
		Metadata:   raw,
		CreatedAt:  t.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("track %s: %w", action, err)
	}
	return nil
}

// CheckThreshold counts the user's non-reverted actions inside the configured
// window. Without a usable threshold it fails open.
func (t *Tracker) CheckThreshold(ctx context.Context, guildID, userID string, action actions.Type) (Result, error) {
	threshold, configured, err := t.Threshold(ctx, guildID, action)
	if err != nil {
		return Result{}, err
	}

	window := t.defaultWindow
	if configured {
		window = threshold.Window
	}
	count, err := t.store.CountActions(ctx, guildID, userID, string(action), t.clock.Now().Add(-window))
	if err != nil {
		return Result{}, fmt.Errorf("count %s: %w", action, err)
	}

	return Result{
		Exceeded:   configured && count >= threshold.MaxActions,
		Count:      count,
		Configured: configured,
		Threshold:  threshold,
	}, nil
}

// Threshold loads the guild's limit for the action type. A row with a
// non-positive limit or window counts as unconfigured.
func (t *Tracker) Threshold(ctx context.Context, guildID string, action actions.Type) (Threshold, bool, error) {
	row, found, err := t.store.GetThreshold(ctx, guildID, string(action))
	if err != nil {
		return Threshold{}, false, fmt.Errorf("load threshold %s: %w", action, err)
	}
	if !found || row.MaxActions <= 0 || row.WindowSeconds <= 0 {
		return Threshold{}, false, nil
	}
	punishment, ok := actions.ParsePunishment(row.PunishmentType)
	if !ok {
		punishment = actions.PunishEscalation
	}
	return Threshold{
		MaxActions: row.MaxActions,
		Window:     time.Duration(row.WindowSeconds) * time.Second,
		Punishment: punishment,
	}, true, nil
}

func (t *Tracker) RecentActions(ctx context.Context, guildID, userID string, action actions.Type, window time.Duration) ([]ActionEvent, error) {
	if window <= 0 {
		window = t.defaultWindow
	}
	rows, err := t.store.ListActions(ctx, guildID, userID, string(action), t.clock.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", action, err)
	}

	events := make([]ActionEvent, 0, len(rows))
	for _, row := range rows {
		metadata, err := actions.DecodeMetadata(row.Metadata)
		if err != nil {
			return nil, fmt.Errorf("decode metadata for event %d: %w", row.ID, err)
		}
		events = append(events, ActionEvent{
			ID:        row.ID,
			GuildID:   row.GuildID,
			UserID:    row.UserID,
			Action:    actions.Type(row.ActionType),
			Metadata:  metadata,
			Reverted:  row.Reverted,
			Timestamp: row.CreatedAt,
		})
	}
	return events, nil
}

// MarkActionsReverted is idempotent; it returns how many events changed.
func (t *Tracker) MarkActionsReverted(ctx context.Context, guildID, userID string, action actions.Type) (int64, error) {
	n, err := t.store.MarkActionsReverted(ctx, guildID, userID, string(action))
	if err != nil {
		return 0, fmt.Errorf("mark %s reverted: %w", action, err)
	}
	return n, nil
}

// LogPunishment appends to the punishment history and returns the user's
// total number of punishments in the guild.
func (t *Tracker) LogPunishment(ctx context.Context, record PunishmentRecord) (int, error) {
	total, err := t.store.AddPunishment(ctx, storage.PunishmentLog{
		GuildID:         record.GuildID,
		UserID:          record.UserID,
		ActionType:      string(record.Action),
		PunishmentType:  string(record.Punishment),
		ActionsReverted: record.ActionsReverted,
		Reason:          record.Reason,
		EscalationLevel: record.Level,
		Applied:         record.Applied,
		CreatedAt:       t.clock.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("log punishment: %w", err)
	}
	return total, nil
}

// Prune drops events older than retention.
// Prune deletes events older than retention in every guild except keep.
func (t *Tracker) Prune(ctx context.Context, retention time.Duration, keep ...string) (int64, error) {
	return t.store.PruneActions(ctx, t.clock.Now().Add(-retention), keep...)
}

func (t *Tracker) PruneGuild(ctx context.Context, guildID string, retention time.Duration) (int64, error) {
	return t.store.PruneGuildActions(ctx, guildID, t.clock.Now().Add(-retention))
}
