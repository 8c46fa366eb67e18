package antinuke

import (
	"context"
	"errors"
	"time"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/escalation"

	"go.uber.org/zap"
)

// Applier hands out punishments. It never returns an error: failures are
// logged and reported as false.
type Applier struct {
	moderator Moderator
	clock     Clock
	logger    *zap.Logger
}

func NewApplier(moderator Moderator, logger *zap.Logger) *Applier {
	return &Applier{moderator: moderator, clock: realClock{}, logger: logger}
}

func (a *Applier) WithClock(clock Clock) {
	a.clock = clock
}

func (a *Applier) Apply(ctx context.Context, guildID, userID string, punishment actions.Punishment, level int, duration time.Duration, reason string) bool {
	fields := []zap.Field{
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("punishment", string(punishment)),
		zap.Int("level", level),
	}

	var err error
	switch punishment {
	case actions.PunishWarn:
		err = a.moderator.WarnMember(ctx, guildID, userID, reason)
	case actions.PunishTimeout:
		if duration <= 0 {
			duration = 10 * time.Minute
		}
		if duration > escalation.MaxTimeout {
			duration = escalation.MaxTimeout
		}
		fields = append(fields, zap.Duration("duration", duration))
		err = a.moderator.TimeoutMember(ctx, guildID, userID, a.clock.Now().Add(duration), reason)
	case actions.PunishKick:
		err = a.moderator.KickMember(ctx, guildID, userID, reason)
	case actions.PunishBan:
		err = a.moderator.BanMember(ctx, guildID, userID, reason)
	default:
		a.logger.Warn("unknown punishment", fields...)
		return false
	}

	if err != nil {
		if errors.Is(err, ErrMissingPermissions) {
			a.logger.Warn("punishment blocked by permissions", append(fields, zap.Error(err))...)
		} else {
			a.logger.Error("punishment failed", append(fields, zap.Error(err))...)
		}
		return false
	}
	a.logger.Info("punishment applied", fields...)
	return true
}
