package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/analytics"
	"aegis-antinuke/internal/modules/audit"
	"aegis-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const commandTimeout = 10 * time.Second

type commandOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) commandOptions {
	out := make(commandOptions, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func (o commandOptions) str(name string) string {
	if opt, ok := o[name]; ok && opt.Type == discordgo.ApplicationCommandOptionString {
		return opt.StringValue()
	}
	return ""
}

func (o commandOptions) integer(name string) (int, bool) {
	if opt, ok := o[name]; ok && opt.Type == discordgo.ApplicationCommandOptionInteger {
		return int(opt.IntValue()), true
	}
	return 0, false
}

// id returns the raw snowflake of a user, role or channel option without
// touching the session state.
func (o commandOptions) id(name string) string {
	opt, ok := o[name]
	if !ok {
		return ""
	}
	if value, ok := opt.Value.(string); ok {
		return value
	}
	return ""
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "antinuke", "threshold", "whitelist", "punishments":
	default:
		return
	}
	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Anti-nuke", "This command only works in a server.", b.cfg.Notifications.EmbedColors.Error, nil), true)
		return
	}
	if !b.canManage(ctx, interaction) {
		b.respondEmbed(session, interaction, b.commandEmbed("Anti-nuke", "Only the server owner or administrators can use this.", b.cfg.Notifications.EmbedColors.Error, nil), true)
		return
	}

	opts := optionMap(data.Options)
	switch data.Name {
	case "antinuke":
		b.handleAntiNukeCommand(ctx, session, interaction, opts)
	case "threshold":
		b.handleThresholdCommand(ctx, session, interaction, opts)
	case "whitelist":
		b.handleWhitelistCommand(ctx, session, interaction, opts)
	case "punishments":
		b.handlePunishmentsCommand(ctx, session, interaction, opts)
	}
}

func (b *Bot) canManage(ctx context.Context, interaction *discordgo.InteractionCreate) bool {
	if interaction.Member == nil || interaction.Member.User == nil {
		return false
	}
	if interaction.Member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	ownerID, err := b.discord.GuildOwnerID(ctx, interaction.GuildID)
	return err == nil && ownerID == interaction.Member.User.ID
}

func (b *Bot) handleAntiNukeCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts commandOptions) {
	guildID := interaction.GuildID
	settings := b.guildSettings(ctx, guildID)
	colors := b.cfg.Notifications.EmbedColors
	action := opts.str("action")

	switch action {
	case "status":
		report, err := b.analytics.Report(ctx, guildID, time.Now().AddDate(0, 0, -7))
		if err != nil {
			b.logger.Warn("punishment report failed", zap.String("guild_id", guildID), zap.Error(err))
		}
		fields := statusFields(settings, report)
		b.respondEmbed(session, interaction, b.commandEmbed("Anti-nuke status", "Settings and the last 7 days of incidents.", colors.Action, fields), true)
		return
	case "enable", "disable":
		settings.AntiNukeEnabled = action == "enable"
	case "revert_on", "revert_off":
		settings.RevertEnabled = action == "revert_on"
	case "notify_on", "notify_off":
		settings.NotifyOwner = action == "notify_on"
	case "logchannel":
		channelID := opts.id("channel")
		if channelID == "" {
			b.respondEmbed(session, interaction, b.commandEmbed("Anti-nuke", "Pick a channel for the security log.", colors.Error, nil), true)
			return
		}
		settings.SecurityLogChannel = channelID
	case "retention":
		days, ok := opts.integer("days")
		if !ok || days <= 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Anti-nuke", "Give the number of days to keep history.", colors.Error, nil), true)
			return
		}
		settings.RetentionDays = days
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Anti-nuke", "Unknown action.", colors.Error, nil), true)
		return
	}

	if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
		b.logger.Error("save guild settings failed", zap.String("guild_id", guildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Anti-nuke", "Could not save settings.", colors.Error, nil), true)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, guildID, interaction.Member.User.ID, "settings_changed", "antinuke "+action)
	b.respondEmbed(session, interaction, b.commandEmbed("Anti-nuke", "Settings updated.", colors.Action, statusFields(settings, analytics.Report{})[:5]), true)
}

func statusFields(settings storage.GuildSettings, report analytics.Report) []*discordgo.MessageEmbedField {
	logChannel := "not set"
	if settings.SecurityLogChannel != "" {
		logChannel = "<#" + settings.SecurityLogChannel + ">"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Enabled", Value: fmt.Sprintf("%t", settings.AntiNukeEnabled), Inline: true},
		{Name: "Revert", Value: fmt.Sprintf("%t", settings.RevertEnabled), Inline: true},
		{Name: "Notify owner", Value: fmt.Sprintf("%t", settings.NotifyOwner), Inline: true},
		{Name: "Log channel", Value: logChannel, Inline: true},
		{Name: "Retention", Value: fmt.Sprintf("%d days", settings.RetentionDays), Inline: true},
		{Name: "Incidents (7d)", Value: fmt.Sprintf("%d (%d applied, %d actions reverted)", report.Total, report.Applied, report.Reverted), Inline: false},
	}
	if len(report.ByAction) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "By action", Value: formatCounts(report.ByAction, func(key string) string {
			return actions.Type(key).Label()
		}), Inline: true})
	}
	if len(report.ByPunishment) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "By punishment", Value: formatCounts(report.ByPunishment, nil), Inline: true})
	}
	if len(report.Offenders) > 0 {
		lines := make([]string, 0, 5)
		for i, offender := range report.Offenders {
			if i == 5 {
				break
			}
			lines = append(lines, fmt.Sprintf("<@%s> %d", offender.UserID, offender.Count))
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Top offenders", Value: strings.Join(lines, "\n"), Inline: false})
	}
	return fields
}

func formatCounts(counts map[string]int, label func(string) string) string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		name := key
		if label != nil {
			name = label(key)
		}
		lines = append(lines, fmt.Sprintf("%s: %d", name, counts[key]))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) handleThresholdCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts commandOptions) {
	guildID := interaction.GuildID
	colors := b.cfg.Notifications.EmbedColors
	action := opts.str("action")

	if action == "view" {
		thresholds, err := b.store.ListThresholds(ctx, guildID)
		if err != nil {
			b.logger.Warn("list thresholds failed", zap.String("guild_id", guildID), zap.Error(err))
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Thresholds", formatThresholds(thresholds), colors.Action, nil), true)
		return
	}

	actionType, ok := actions.Parse(opts.str("type"))
	if !ok || actionType == actions.AllTypes {
		b.respondEmbed(session, interaction, b.commandEmbed("Thresholds", "Pick an action type.", colors.Error, nil), true)
		return
	}

	switch action {
	case "set":
		max, okMax := opts.integer("max")
		window, okWindow := opts.integer("window")
		if !okMax || !okWindow || max <= 0 || window <= 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Thresholds", "Both max and window must be positive.", colors.Error, nil), true)
			return
		}
		punishment := actions.PunishEscalation
		if raw := opts.str("punishment"); raw != "" {
			parsed, ok := actions.ParsePunishment(raw)
			if !ok {
				b.respondEmbed(session, interaction, b.commandEmbed("Thresholds", "Unknown punishment.", colors.Error, nil), true)
				return
			}
			punishment = parsed
		}
		err := b.store.UpsertThreshold(ctx, storage.Threshold{
			GuildID:        guildID,
			ActionType:     string(actionType),
			MaxActions:     max,
			WindowSeconds:  window,
			PunishmentType: string(punishment),
		})
		if err != nil {
			b.logger.Error("save threshold failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Thresholds", "Could not save the threshold.", colors.Error, nil), true)
			return
		}
		detail := fmt.Sprintf("%s max=%d window=%ds punishment=%s", actionType, max, window, punishment)
		b.audit.Log(ctx, audit.LevelInfo, guildID, interaction.Member.User.ID, "threshold_set", detail)
		b.respondEmbed(session, interaction, b.commandEmbed("Thresholds", fmt.Sprintf("%s: %d actions per %ds, punishment %s.", actionType.Label(), max, window, punishment), colors.Action, nil), true)
	case "remove":
		if err := b.store.DeleteThreshold(ctx, guildID, string(actionType)); err != nil {
			b.logger.Error("delete threshold failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Thresholds", "Could not remove the threshold.", colors.Error, nil), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, guildID, interaction.Member.User.ID, "threshold_removed", string(actionType))
		b.respondEmbed(session, interaction, b.commandEmbed("Thresholds", actionType.Label()+" is no longer limited.", colors.Action, nil), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Thresholds", "Unknown action.", colors.Error, nil), true)
	}
}

func formatThresholds(thresholds []storage.Threshold) string {
	if len(thresholds) == 0 {
		return "No thresholds configured. Anti-nuke only records actions."
	}
	lines := make([]string, 0, len(thresholds))
	for _, th := range thresholds {
		lines = append(lines, fmt.Sprintf("**%s** (`%s`): %d per %ds, %s",
			actions.Type(th.ActionType).Label(), th.ActionType, th.MaxActions, th.WindowSeconds, th.PunishmentType))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) handleWhitelistCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts commandOptions) {
	guildID := interaction.GuildID
	colors := b.cfg.Notifications.EmbedColors
	action := opts.str("action")

	if action == "list" {
		entries, err := b.store.ListWhitelist(ctx, guildID)
		if err != nil {
			b.logger.Warn("list whitelist failed", zap.String("guild_id", guildID), zap.Error(err))
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Whitelist", formatWhitelist(entries), colors.Action, nil), true)
		return
	}

	targetID, targetType := opts.id("user"), storage.TargetUser
	if targetID == "" {
		targetID, targetType = opts.id("role"), storage.TargetRole
	}
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Whitelist", "Pick a user or a role.", colors.Error, nil), true)
		return
	}
	actionType := actions.AllTypes
	if raw := opts.str("type"); raw != "" {
		parsed, ok := actions.Parse(raw)
		if !ok {
			b.respondEmbed(session, interaction, b.commandEmbed("Whitelist", "Unknown action type.", colors.Error, nil), true)
			return
		}
		actionType = parsed
	}

	switch action {
	case "add":
		err := b.store.AddWhitelist(ctx, storage.WhitelistEntry{
			GuildID:    guildID,
			TargetID:   targetID,
			TargetType: targetType,
			ActionType: string(actionType),
		})
		if err != nil {
			b.logger.Error("whitelist add failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Whitelist", "Could not update the whitelist.", colors.Error, nil), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, guildID, interaction.Member.User.ID, "whitelist_add", fmt.Sprintf("%s %s %s", targetType, targetID, actionType))
		b.respondEmbed(session, interaction, b.commandEmbed("Whitelist", mention(targetType, targetID)+" is exempt from "+actionType.Label()+".", colors.Action, nil), true)
	case "remove":
		// Without an explicit type every entry for the target goes.
		scope := ""
		if opts.str("type") != "" {
			scope = string(actionType)
		}
		removed, err := b.store.RemoveWhitelist(ctx, guildID, targetID, scope)
		if err != nil {
			b.logger.Error("whitelist remove failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Whitelist", "Could not update the whitelist.", colors.Error, nil), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, guildID, interaction.Member.User.ID, "whitelist_remove", fmt.Sprintf("%s %s %s", targetType, targetID, scope))
		b.respondEmbed(session, interaction, b.commandEmbed("Whitelist", fmt.Sprintf("Removed %d entries for %s.", removed, mention(targetType, targetID)), colors.Action, nil), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Whitelist", "Unknown action.", colors.Error, nil), true)
	}
}

func mention(targetType, id string) string {
	if targetType == storage.TargetRole {
		return "<@&" + id + ">"
	}
	return "<@" + id + ">"
}

func formatWhitelist(entries []storage.WhitelistEntry) string {
	if len(entries) == 0 {
		return "Nobody is whitelisted."
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, mention(entry.TargetType, entry.TargetID)+" "+actions.Type(entry.ActionType).Label())
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) handlePunishmentsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts commandOptions) {
	guildID := interaction.GuildID
	colors := b.cfg.Notifications.EmbedColors
	userID := opts.id("user")

	switch opts.str("action") {
	case "history":
		logs, err := b.store.ListPunishments(ctx, guildID, userID, time.Unix(0, 0), 10)
		if err != nil {
			b.logger.Warn("list punishments failed", zap.String("guild_id", guildID), zap.Error(err))
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Punishments", formatPunishments(logs), colors.Action, nil), true)
	case "reset":
		if userID == "" {
			b.respondEmbed(session, interaction, b.commandEmbed("Punishments", "Pick a user to reset.", colors.Error, nil), true)
			return
		}
		removed, err := b.escalator.Reset(ctx, guildID, userID)
		if err != nil {
			b.logger.Error("reset escalation failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Punishments", "Could not reset the history.", colors.Error, nil), true)
			return
		}
		b.audit.Log(ctx, audit.LevelWarn, guildID, interaction.Member.User.ID, "escalation_reset", fmt.Sprintf("user=%s removed=%d", userID, removed))
		b.respondEmbed(session, interaction, b.commandEmbed("Punishments", fmt.Sprintf("Cleared %d punishments for <@%s>. Escalation starts over.", removed, userID), colors.Action, nil), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Punishments", "Unknown action.", colors.Error, nil), true)
	}
}

func formatPunishments(logs []storage.PunishmentLog) string {
	if len(logs) == 0 {
		return "No punishments recorded."
	}
	lines := make([]string, 0, len(logs))
	for _, log := range logs {
		status := "applied"
		if !log.Applied {
			status = "failed"
		}
		lines = append(lines, fmt.Sprintf("<t:%d:R> <@%s> %s, %s (level %d, %s, %d reverted)",
			log.CreatedAt.Unix(), log.UserID, actions.Type(log.ActionType).Label(), log.PunishmentType, log.EscalationLevel, status, log.ActionsReverted))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
