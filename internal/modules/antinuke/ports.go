package antinuke

import (
	"context"
	"errors"
	"time"

	"aegis-antinuke/internal/actions"
)

// ErrMissingPermissions is returned by Discord adapters when the bot lacks
// the permission or role position for a call.
var ErrMissingPermissions = errors.New("missing permissions")

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// AuditEntry is the part of a Discord audit-log entry the guard needs.
type AuditEntry struct {
	ID           string
	Action       int
	ActorID      string
	TargetID     string
	OldName      string
	RolesAdded   []string
	RolesRemoved []string
	CreatedAt    time.Time
}

type AuditSource interface {
	RecentAuditEntries(ctx context.Context, guildID string, action, limit int) ([]AuditEntry, error)
}

type Directory interface {
	SelfID() string
	GuildOwnerID(ctx context.Context, guildID string) (string, error)
	MemberRoleIDs(ctx context.Context, guildID, userID string) ([]string, error)
}

type Moderator interface {
	WarnMember(ctx context.Context, guildID, userID, reason string) error
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string) error
}

// Restorer performs the compensating REST calls used to undo actions.
type Restorer interface {
	DeleteChannel(ctx context.Context, channelID, reason string) error
	CreateChannel(ctx context.Context, snap actions.ChannelSnapshot, reason string) error
	EditChannel(ctx context.Context, snap actions.ChannelSnapshot, reason string) error
	DeleteRole(ctx context.Context, guildID, roleID, reason string) error
	CreateRole(ctx context.Context, snap actions.RoleSnapshot, reason string) error
	EditRole(ctx context.Context, snap actions.RoleSnapshot, reason string) error
	DeleteWebhook(ctx context.Context, webhookID, reason string) error
	RestoreWebhook(ctx context.Context, webhookID, name, channelID, reason string) error
	UnbanMember(ctx context.Context, guildID, userID, reason string) error
	DeleteEmoji(ctx context.Context, guildID, emojiID, reason string) error
	RenameEmoji(ctx context.Context, guildID, emojiID, name, reason string) error
	DeleteIntegration(ctx context.Context, guildID, integrationID, reason string) error
	DeleteMessage(ctx context.Context, channelID, messageID, reason string) error
	AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RenameGuild(ctx context.Context, guildID, name, reason string) error
}

type Notifier interface {
	NotifyIncident(ctx context.Context, incident Incident)
}

// Incident summarises one threshold breach and what was done about it.
type Incident struct {
	ID              string
	GuildID         string
	UserID          string
	Action          actions.Type
	Count           int
	Limit           int
	Window          time.Duration
	Level           int
	Punishment      actions.Punishment
	Duration        time.Duration
	Applied         bool
	RevertAttempted int
	Reverted        int
	TotalPunished   int
	NotifyOwner     bool
	At              time.Time
}
