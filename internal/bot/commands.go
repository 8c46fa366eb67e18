package bot

import (
	"aegis-antinuke/internal/actions"

	"github.com/bwmarrin/discordgo"
)

var adminPermission int64 = discordgo.PermissionAdministrator

func choices(values ...string) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(values))
	for _, value := range values {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: value, Value: value})
	}
	return out
}

// actionChoices lists every action type by label. withAll adds the "all"
// wildcard used by whitelist entries.
func actionChoices(withAll bool) []*discordgo.ApplicationCommandOptionChoice {
	var out []*discordgo.ApplicationCommandOptionChoice
	if withAll {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: actions.AllTypes.Label(), Value: string(actions.AllTypes)})
	}
	for _, t := range actions.All() {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: t.Label(), Value: string(t)})
	}
	return out
}

func (b *Bot) commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "antinuke",
			Description:              "Show or change anti-nuke settings",
			DefaultMemberPermissions: &adminPermission,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Voir ou modifier la protection anti-nuke",
				discordgo.EnglishUS: "Show or change anti-nuke settings",
				discordgo.SpanishES: "Ver o cambiar la proteccion anti-nuke",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "What to do",
					Required:    true,
					Choices:     choices("status", "enable", "disable", "revert_on", "revert_off", "notify_on", "notify_off", "logchannel", "retention"),
				},
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Security log channel (logchannel only)",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "Days to keep tracked actions and audit entries (retention only)",
					MinValue:    floatPtr(1),
					MaxValue:    365,
				},
			},
		},
		{
			Name:                     "threshold",
			Description:              "View or change per-action rate limits",
			DefaultMemberPermissions: &adminPermission,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Voir ou modifier les limites par action",
				discordgo.EnglishUS: "View or change per-action rate limits",
				discordgo.SpanishES: "Ver o cambiar los limites por accion",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "view, set or remove",
					Required:    true,
					Choices:     choices("view", "set", "remove"),
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Action type",
					Choices:     actionChoices(false),
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "max",
					Description: "Actions allowed inside the window",
					MinValue:    floatPtr(1),
					MaxValue:    100,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "window",
					Description: "Window in seconds",
					MinValue:    floatPtr(1),
					MaxValue:    86400,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "punishment",
					Description: "Punishment when the limit is reached",
					Choices:     choices("escalation", "warn", "timeout", "kick", "ban"),
				},
			},
		},
		{
			Name:                     "whitelist",
			Description:              "Exempt users or roles from anti-nuke",
			DefaultMemberPermissions: &adminPermission,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Exempter des utilisateurs ou roles",
				discordgo.EnglishUS: "Exempt users or roles from anti-nuke",
				discordgo.SpanishES: "Eximir usuarios o roles",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "add, remove or list",
					Required:    true,
					Choices:     choices("add", "remove", "list"),
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User",
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Action type (defaults to all)",
					Choices:     actionChoices(true),
				},
			},
		},
		{
			Name:                     "punishments",
			Description:              "Punishment history and escalation reset",
			DefaultMemberPermissions: &adminPermission,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Historique des sanctions",
				discordgo.EnglishUS: "Punishment history and escalation reset",
				discordgo.SpanishES: "Historial de sanciones",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "history or reset",
					Required:    true,
					Choices:     choices("history", "reset"),
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User (required for reset)",
				},
			},
		},
	}
}

func floatPtr(v float64) *float64 {
	return &v
}

func (b *Bot) registerCommands() error {
	commands := b.commands()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
