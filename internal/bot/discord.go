package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/modules/antinuke"

	"github.com/bwmarrin/discordgo"
)

// discordClient is the REST side of the guard: audit-log reads, member
// lookups, punishments and the compensating calls used by reverts.
type discordClient struct {
	session *discordgo.Session
	colors  embedColors
}

type embedColors struct {
	action  int
	warning int
	err     int
}

func newDiscordClient(session *discordgo.Session, colors embedColors) *discordClient {
	return &discordClient{session: session, colors: colors}
}

// classifyErr maps permission and hierarchy failures to
// antinuke.ErrMissingPermissions and leaves other errors wrapped.
func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeMissingPermissions {
			return fmt.Errorf("%s: %w", op, antinuke.ErrMissingPermissions)
		}
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%s: %w", op, antinuke.ErrMissingPermissions)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func withReason(reason string) discordgo.RequestOption {
	return discordgo.WithAuditLogReason(reason)
}

func (d *discordClient) RecentAuditEntries(ctx context.Context, guildID string, action, limit int) ([]antinuke.AuditEntry, error) {
	logs, err := d.session.GuildAuditLog(guildID, "", "", action, limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyErr("audit log", err)
	}
	if logs == nil {
		return nil, nil
	}
	entries := make([]antinuke.AuditEntry, 0, len(logs.AuditLogEntries))
	for _, entry := range logs.AuditLogEntries {
		if entry == nil {
			continue
		}
		entries = append(entries, convertAuditEntry(entry))
	}
	return entries, nil
}

func convertAuditEntry(entry *discordgo.AuditLogEntry) antinuke.AuditEntry {
	out := antinuke.AuditEntry{
		ID:       entry.ID,
		ActorID:  entry.UserID,
		TargetID: entry.TargetID,
	}
	if entry.ActionType != nil {
		out.Action = int(*entry.ActionType)
	}
	if ts, err := discordgo.SnowflakeTimestamp(entry.ID); err == nil {
		out.CreatedAt = ts
	}
	for _, change := range entry.Changes {
		if change == nil || change.Key == nil {
			continue
		}
		switch *change.Key {
		case discordgo.AuditLogChangeKeyName:
			if name, ok := change.OldValue.(string); ok {
				out.OldName = name
			}
		case discordgo.AuditLogChangeKeyRoleAdd:
			out.RolesAdded = append(out.RolesAdded, changeRoleIDs(change.NewValue)...)
		case discordgo.AuditLogChangeKeyRoleRemove:
			out.RolesRemoved = append(out.RolesRemoved, changeRoleIDs(change.NewValue)...)
		}
	}
	return out
}

// changeRoleIDs reads the partial role objects carried by $add and $remove.
func changeRoleIDs(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		role, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := role["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *discordClient) SelfID() string {
	if d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

func (d *discordClient) GuildOwnerID(ctx context.Context, guildID string) (string, error) {
	if guild, err := d.session.State.Guild(guildID); err == nil && guild != nil && guild.OwnerID != "" {
		return guild.OwnerID, nil
	}
	guild, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", classifyErr("guild", err)
	}
	return guild.OwnerID, nil
}

func (d *discordClient) MemberRoleIDs(ctx context.Context, guildID, userID string) ([]string, error) {
	if member, err := d.session.State.Member(guildID, userID); err == nil && member != nil {
		return member.Roles, nil
	}
	member, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyErr("guild member", err)
	}
	return member.Roles, nil
}

func (d *discordClient) WarnMember(ctx context.Context, guildID, userID, reason string) error {
	channel, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return classifyErr("dm channel", err)
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Anti-nuke warning",
		Description: reason,
		Color:       d.colors.warning,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Server", Value: guildID, Inline: true},
		},
	}
	_, err = d.session.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx))
	return classifyErr("dm warning", err)
}

func (d *discordClient) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return classifyErr("timeout", d.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx), withReason(reason)))
}

func (d *discordClient) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return classifyErr("kick", d.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)))
}

func (d *discordClient) BanMember(ctx context.Context, guildID, userID, reason string) error {
	return classifyErr("ban", d.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)))
}

func (d *discordClient) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := d.session.ChannelDelete(channelID, discordgo.WithContext(ctx), withReason(reason))
	return classifyErr("delete channel", err)
}

func (d *discordClient) CreateChannel(ctx context.Context, snap actions.ChannelSnapshot, reason string) error {
	_, err := d.session.GuildChannelCreateComplex(snap.GuildID, discordgo.GuildChannelCreateData{
		Name:                 snap.Name,
		Type:                 discordgo.ChannelType(snap.Type),
		Topic:                snap.Topic,
		Bitrate:              snap.Bitrate,
		UserLimit:            snap.UserLimit,
		RateLimitPerUser:     snap.RateLimitPerUser,
		Position:             snap.Position,
		PermissionOverwrites: toOverwrites(snap.Overwrites),
		ParentID:             snap.ParentID,
		NSFW:                 snap.NSFW,
	}, discordgo.WithContext(ctx), withReason(reason))
	return classifyErr("create channel", err)
}

func (d *discordClient) EditChannel(ctx context.Context, snap actions.ChannelSnapshot, reason string) error {
	nsfw := snap.NSFW
	slowmode := snap.RateLimitPerUser
	current, err := d.session.ChannelEdit(snap.ID, &discordgo.ChannelEdit{
		Name:                 snap.Name,
		Topic:                snap.Topic,
		NSFW:                 &nsfw,
		RateLimitPerUser:     &slowmode,
		ParentID:             snap.ParentID,
		PermissionOverwrites: toOverwrites(snap.Overwrites),
		Bitrate:              snap.Bitrate,
		UserLimit:            snap.UserLimit,
	}, discordgo.WithContext(ctx), withReason(reason))
	if err != nil {
		return classifyErr("edit channel", err)
	}
	if !needsDetach(snap, current) {
		return nil
	}
	// ChannelEdit drops an empty parent_id, so moving a channel back out of
	// a category takes an explicit null.
	endpoint := discordgo.EndpointChannel(snap.ID)
	_, err = d.session.RequestWithBucketID(http.MethodPatch, endpoint, detachPayload(), endpoint, discordgo.WithContext(ctx), withReason(reason))
	return classifyErr("detach channel", err)
}

func needsDetach(snap actions.ChannelSnapshot, current *discordgo.Channel) bool {
	return snap.ParentID == "" && current != nil && current.ParentID != ""
}

func detachPayload() map[string]any {
	return map[string]any{"parent_id": nil}
}

func (d *discordClient) DeleteRole(ctx context.Context, guildID, roleID, reason string) error {
	return classifyErr("delete role", d.session.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx), withReason(reason)))
}

func (d *discordClient) CreateRole(ctx context.Context, snap actions.RoleSnapshot, reason string) error {
	_, err := d.session.GuildRoleCreate(snap.GuildID, roleParams(snap), discordgo.WithContext(ctx), withReason(reason))
	return classifyErr("create role", err)
}

func (d *discordClient) EditRole(ctx context.Context, snap actions.RoleSnapshot, reason string) error {
	_, err := d.session.GuildRoleEdit(snap.GuildID, snap.ID, roleParams(snap), discordgo.WithContext(ctx), withReason(reason))
	return classifyErr("edit role", err)
}

func (d *discordClient) DeleteWebhook(ctx context.Context, webhookID, reason string) error {
	return classifyErr("delete webhook", d.session.WebhookDelete(webhookID, discordgo.WithContext(ctx), withReason(reason)))
}

func (d *discordClient) RestoreWebhook(ctx context.Context, webhookID, name, channelID, reason string) error {
	_, err := d.session.WebhookEdit(webhookID, name, "", channelID, discordgo.WithContext(ctx), withReason(reason))
	return classifyErr("restore webhook", err)
}

func (d *discordClient) UnbanMember(ctx context.Context, guildID, userID, reason string) error {
	return classifyErr("unban", d.session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx), withReason(reason)))
}

func (d *discordClient) DeleteEmoji(ctx context.Context, guildID, emojiID, reason string) error {
	return classifyErr("delete emoji", d.session.GuildEmojiDelete(guildID, emojiID, discordgo.WithContext(ctx), withReason(reason)))
}

func (d *discordClient) RenameEmoji(ctx context.Context, guildID, emojiID, name, reason string) error {
	_, err := d.session.GuildEmojiEdit(guildID, emojiID, &discordgo.EmojiParams{Name: name}, discordgo.WithContext(ctx), withReason(reason))
	return classifyErr("rename emoji", err)
}

func (d *discordClient) DeleteIntegration(ctx context.Context, guildID, integrationID, reason string) error {
	return classifyErr("delete integration", d.session.GuildIntegrationDelete(guildID, integrationID, discordgo.WithContext(ctx), withReason(reason)))
}

func (d *discordClient) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	return classifyErr("delete message", d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx), withReason(reason)))
}

func (d *discordClient) AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return classifyErr("add member role", d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx), withReason(reason)))
}

func (d *discordClient) RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return classifyErr("remove member role", d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx), withReason(reason)))
}

func (d *discordClient) RenameGuild(ctx context.Context, guildID, name, reason string) error {
	_, err := d.session.GuildEdit(guildID, &discordgo.GuildParams{Name: name}, discordgo.WithContext(ctx), withReason(reason))
	return classifyErr("rename guild", err)
}

func roleParams(snap actions.RoleSnapshot) *discordgo.RoleParams {
	color := snap.Color
	hoist := snap.Hoist
	perms := snap.Permissions
	mentionable := snap.Mentionable
	return &discordgo.RoleParams{
		Name:        snap.Name,
		Color:       &color,
		Hoist:       &hoist,
		Permissions: &perms,
		Mentionable: &mentionable,
	}
}

func toOverwrites(items []actions.Overwrite) []*discordgo.PermissionOverwrite {
	if len(items) == 0 {
		return nil
	}
	out := make([]*discordgo.PermissionOverwrite, 0, len(items))
	for _, item := range items {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    item.ID,
			Type:  discordgo.PermissionOverwriteType(item.Type),
			Allow: item.Allow,
			Deny:  item.Deny,
		})
	}
	return out
}

func channelSnapshot(ch *discordgo.Channel) actions.ChannelSnapshot {
	snap := actions.ChannelSnapshot{
		ID:               ch.ID,
		GuildID:          ch.GuildID,
		Name:             ch.Name,
		Type:             int(ch.Type),
		Topic:            ch.Topic,
		ParentID:         ch.ParentID,
		Position:         ch.Position,
		NSFW:             ch.NSFW,
		RateLimitPerUser: ch.RateLimitPerUser,
		Bitrate:          ch.Bitrate,
		UserLimit:        ch.UserLimit,
	}
	for _, ow := range ch.PermissionOverwrites {
		if ow == nil {
			continue
		}
		snap.Overwrites = append(snap.Overwrites, actions.Overwrite{
			ID:    ow.ID,
			Type:  int(ow.Type),
			Allow: ow.Allow,
			Deny:  ow.Deny,
		})
	}
	return snap
}

func roleSnapshot(guildID string, role *discordgo.Role) actions.RoleSnapshot {
	return actions.RoleSnapshot{
		ID:          role.ID,
		GuildID:     guildID,
		Name:        role.Name,
		Color:       role.Color,
		Hoist:       role.Hoist,
		Mentionable: role.Mentionable,
		Permissions: role.Permissions,
		Position:    role.Position,
		Managed:     role.Managed,
	}
}
