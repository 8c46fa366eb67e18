package bot

import (
	"context"
	"fmt"
	"time"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/modules/antinuke"
	"aegis-antinuke/internal/modules/audit"
	"aegis-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// NotifyIncident posts the incident to the security log channel and, when
// the guild allows it, to the owner by DM.
func (b *Bot) NotifyIncident(ctx context.Context, incident antinuke.Incident) {
	embed := buildIncidentEmbed(incident, b.cfg.Notifications.EmbedColors.Action, b.cfg.Notifications.EmbedColors.Error)
	b.sendSecurityEmbed(ctx, incident.GuildID, embed)

	if !incident.NotifyOwner || !b.cfg.Notifications.DMOwner {
		return
	}
	ownerID, err := b.discord.GuildOwnerID(ctx, incident.GuildID)
	if err != nil || ownerID == "" {
		b.logger.Warn("owner lookup for incident failed", zap.String("guild_id", incident.GuildID), zap.Error(err))
		return
	}
	channel, err := b.session.UserChannelCreate(ownerID, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Warn("owner dm channel failed", zap.String("guild_id", incident.GuildID), zap.Error(err))
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn("owner dm failed", zap.String("guild_id", incident.GuildID), zap.Error(err))
	}
}

func buildIncidentEmbed(incident antinuke.Incident, color, failColor int) *discordgo.MessageEmbed {
	applied := "yes"
	if !incident.Applied {
		applied = "no (check bot permissions and role position)"
		color = failColor
	}
	punishment := string(incident.Punishment)
	if incident.Punishment == actions.PunishTimeout && incident.Duration > 0 {
		punishment = fmt.Sprintf("timeout (%s)", formatDuration(incident.Duration))
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: "<@" + incident.UserID + "> (`" + incident.UserID + "`)", Inline: true},
		{Name: "Action", Value: incident.Action.Label(), Inline: true},
		{Name: "Count", Value: fmt.Sprintf("%d / %d in %s", incident.Count, incident.Limit, formatDuration(incident.Window)), Inline: true},
		{Name: "Punishment", Value: punishment, Inline: true},
		{Name: "Escalation level", Value: fmt.Sprintf("%d", incident.Level), Inline: true},
		{Name: "Applied", Value: applied, Inline: true},
		{Name: "Reverted", Value: fmt.Sprintf("%d / %d", incident.Reverted, incident.RevertAttempted), Inline: true},
		{Name: "Total punishments", Value: fmt.Sprintf("%d", incident.TotalPunished), Inline: true},
	}
	at := incident.At
	if at.IsZero() {
		at = time.Now()
	}
	return &discordgo.MessageEmbed{
		Title:       "Anti-nuke triggered",
		Description: fmt.Sprintf("Rate limit exceeded in server `%s`.", incident.GuildID),
		Color:       color,
		Timestamp:   at.Format(time.RFC3339),
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Incident " + incident.ID},
	}
}

func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	color := b.cfg.Notifications.EmbedColors.Action
	if entry.Level != audit.LevelInfo {
		color = b.cfg.Notifications.EmbedColors.Warning
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Event", Value: entry.Event, Inline: true},
		{Name: "Level", Value: entry.Level, Inline: true},
	}
	if entry.UserID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "By", Value: "<@" + entry.UserID + ">", Inline: true})
	}
	b.sendSecurityEmbed(ctx, entry.GuildID, b.commandEmbed("Security audit", entry.Details, color, fields))
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
