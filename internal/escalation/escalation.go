// Package escalation maps a user's punishment history to the next
// punishment on an ordered ladder.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/config"
)

// Discord refuses timeouts longer than 28 days.
const MaxTimeout = 28 * 24 * time.Hour

type Level struct {
	Punishment actions.Punishment
	Duration   time.Duration
}

// Table is ordered from mildest to harshest.
type Table []Level

func DefaultTable() Table {
	return Table{
		{Punishment: actions.PunishTimeout, Duration: 10 * time.Minute},
		{Punishment: actions.PunishTimeout, Duration: time.Hour},
		{Punishment: actions.PunishTimeout, Duration: 24 * time.Hour},
		{Punishment: actions.PunishKick},
		{Punishment: actions.PunishBan},
	}
}

func ParseTable(steps []config.EscalationStep) (Table, error) {
	if len(steps) == 0 {
		return nil, errors.New("escalation table is empty")
	}
	table := make(Table, 0, len(steps))
	for i, step := range steps {
		punishment, ok := actions.ParsePunishment(step.Punishment)
		if !ok || punishment == actions.PunishEscalation {
			return nil, fmt.Errorf("step %d: unknown punishment %q", i, step.Punishment)
		}
		level := Level{Punishment: punishment}
		if punishment == actions.PunishTimeout {
			d, err := time.ParseDuration(step.Duration)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			level.Duration = clampTimeout(d)
		}
		table = append(table, level)
	}
	return table, nil
}

func (t Table) Max() int {
	return len(t) - 1
}

// At clamps level into the table bounds.
func (t Table) At(level int) Level {
	return t[t.Clamp(level)]
}

func (t Table) Clamp(level int) int {
	if level < 0 {
		return 0
	}
	if level > t.Max() {
		return t.Max()
	}
	return level
}

type Counter interface {
	CountPunishments(ctx context.Context, guildID, userID string) (int, error)
	ResetPunishments(ctx context.Context, guildID, userID string) (int64, error)
}

type Decision struct {
	Level      int
	Punishment actions.Punishment
	Duration   time.Duration
	Escalated  bool
}

type Resolver struct {
	counter      Counter
	table        Table
	fixedTimeout time.Duration
}

// NewResolver uses fixedTimeout for thresholds that ask for a plain timeout
// instead of the ladder.
func NewResolver(counter Counter, table Table, fixedTimeout time.Duration) *Resolver {
	if len(table) == 0 {
		table = DefaultTable()
	}
	if fixedTimeout <= 0 {
		fixedTimeout = time.Hour
	}
	return &Resolver{counter: counter, table: table, fixedTimeout: clampTimeout(fixedTimeout)}
}

func (r *Resolver) Table() Table {
	return r.table
}

// Level is the number of past punishments for the user, clamped to the
// ladder. It never decreases unless the history is reset.
func (r *Resolver) Level(ctx context.Context, guildID, userID string) (int, error) {
	count, err := r.counter.CountPunishments(ctx, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("count punishments: %w", err)
	}
	return r.table.Clamp(count), nil
}

func (r *Resolver) Decide(ctx context.Context, guildID, userID string, configured actions.Punishment) (Decision, error) {
	level, err := r.Level(ctx, guildID, userID)
	if err != nil {
		return Decision{}, err
	}

	switch configured {
	case actions.PunishWarn, actions.PunishKick, actions.PunishBan:
		return Decision{Level: level, Punishment: configured}, nil
	case actions.PunishTimeout:
		return Decision{Level: level, Punishment: configured, Duration: r.fixedTimeout}, nil
	default:
		step := r.table.At(level)
		return Decision{Level: level, Punishment: step.Punishment, Duration: step.Duration, Escalated: true}, nil
	}
}

func (r *Resolver) Reset(ctx context.Context, guildID, userID string) (int64, error) {
	return r.counter.ResetPunishments(ctx, guildID, userID)
}

func clampTimeout(d time.Duration) time.Duration {
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}
