package bot

import (
	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/modules/antinuke"

	"github.com/bwmarrin/discordgo"
)

func lookup(code discordgo.AuditLogAction, action actions.Type, matchTarget bool) antinuke.AuditLookup {
	return antinuke.AuditLookup{Code: int(code), Action: action, MatchTarget: matchTarget}
}

var (
	channelCreateLookups = []antinuke.AuditLookup{lookup(discordgo.AuditLogActionChannelCreate, actions.ChannelCreate, true)}
	channelDeleteLookups = []antinuke.AuditLookup{lookup(discordgo.AuditLogActionChannelDelete, actions.ChannelDelete, true)}
	channelUpdateLookups = []antinuke.AuditLookup{
		lookup(discordgo.AuditLogActionChannelUpdate, actions.ChannelUpdate, true),
		lookup(discordgo.AuditLogActionChannelOverwriteCreate, actions.ChannelUpdate, true),
		lookup(discordgo.AuditLogActionChannelOverwriteUpdate, actions.ChannelUpdate, true),
		lookup(discordgo.AuditLogActionChannelOverwriteDelete, actions.ChannelUpdate, true),
	}
	roleCreateLookups = []antinuke.AuditLookup{lookup(discordgo.AuditLogActionRoleCreate, actions.RoleCreate, true)}
	roleDeleteLookups = []antinuke.AuditLookup{lookup(discordgo.AuditLogActionRoleDelete, actions.RoleDelete, true)}
	roleUpdateLookups = []antinuke.AuditLookup{lookup(discordgo.AuditLogActionRoleUpdate, actions.RoleUpdate, true)}
	webhookLookups    = []antinuke.AuditLookup{
		lookup(discordgo.AuditLogActionWebhookCreate, actions.WebhookCreate, false),
		lookup(discordgo.AuditLogActionWebhookUpdate, actions.WebhookUpdate, false),
		lookup(discordgo.AuditLogActionWebhookDelete, actions.WebhookDelete, false),
	}
	banLookups          = []antinuke.AuditLookup{lookup(discordgo.AuditLogActionMemberBanAdd, actions.MemberBan, true)}
	memberRemoveLookups = []antinuke.AuditLookup{
		lookup(discordgo.AuditLogActionMemberKick, actions.MemberKick, true),
		lookup(discordgo.AuditLogActionMemberPrune, actions.MemberPrune, false),
	}
	botAddLookups     = []antinuke.AuditLookup{lookup(discordgo.AuditLogActionBotAdd, actions.BotAdd, true)}
	memberRoleLookups = []antinuke.AuditLookup{lookup(discordgo.AuditLogActionMemberRoleUpdate, actions.MemberRoleUpdate, true)}
	emojiLookups      = []antinuke.AuditLookup{
		lookup(discordgo.AuditLogActionEmojiCreate, actions.EmojiCreate, false),
		lookup(discordgo.AuditLogActionEmojiUpdate, actions.EmojiUpdate, false),
		lookup(discordgo.AuditLogActionEmojiDelete, actions.EmojiDelete, false),
	}
	stickerLookups = []antinuke.AuditLookup{
		lookup(discordgo.AuditLogActionStickerCreate, actions.StickerCreate, false),
		lookup(discordgo.AuditLogActionStickerUpdate, actions.StickerUpdate, false),
		lookup(discordgo.AuditLogActionStickerDelete, actions.StickerDelete, false),
	}
	integrationLookups = []antinuke.AuditLookup{
		lookup(discordgo.AuditLogActionIntegrationCreate, actions.Integration, false),
		lookup(discordgo.AuditLogActionIntegrationUpdate, actions.Integration, false),
		lookup(discordgo.AuditLogActionIntegrationDelete, actions.Integration, false),
	}
	guildUpdateLookups = []antinuke.AuditLookup{lookup(discordgo.AuditLogActionGuildUpdate, actions.GuildUpdate, true)}
)

func channelCreateEvent(ch *discordgo.Channel) antinuke.Event {
	return antinuke.Event{
		GuildID:  ch.GuildID,
		Action:   actions.ChannelCreate,
		TargetID: ch.ID,
		Lookups:  channelCreateLookups,
		Metadata: actions.Metadata{TargetID: ch.ID, Name: ch.Name},
	}
}

// channelUpdateEvent records prev, the state before the update, when known.
func channelUpdateEvent(ch *discordgo.Channel, prev *actions.ChannelSnapshot) antinuke.Event {
	meta := actions.Metadata{TargetID: ch.ID, Channel: prev}
	if prev != nil {
		meta.Name = prev.Name
	}
	return antinuke.Event{
		GuildID:  ch.GuildID,
		Action:   actions.ChannelUpdate,
		TargetID: ch.ID,
		Lookups:  channelUpdateLookups,
		Metadata: meta,
	}
}

// channelDeleteEvent prefers the cached snapshot and falls back to the
// channel carried by the delete event.
func channelDeleteEvent(ch *discordgo.Channel, cached *actions.ChannelSnapshot) antinuke.Event {
	snap := cached
	if snap == nil {
		current := channelSnapshot(ch)
		snap = &current
	}
	return antinuke.Event{
		GuildID:  ch.GuildID,
		Action:   actions.ChannelDelete,
		TargetID: ch.ID,
		Lookups:  channelDeleteLookups,
		Metadata: actions.Metadata{TargetID: ch.ID, Name: snap.Name, Channel: snap},
	}
}

func roleCreateEvent(guildID string, role *discordgo.Role) antinuke.Event {
	return antinuke.Event{
		GuildID:  guildID,
		Action:   actions.RoleCreate,
		TargetID: role.ID,
		Lookups:  roleCreateLookups,
		Metadata: actions.Metadata{TargetID: role.ID, Name: role.Name},
	}
}

func roleUpdateEvent(guildID string, role *discordgo.Role, prev *actions.RoleSnapshot) antinuke.Event {
	meta := actions.Metadata{TargetID: role.ID, Role: prev}
	if prev != nil {
		meta.Name = prev.Name
	}
	return antinuke.Event{
		GuildID:  guildID,
		Action:   actions.RoleUpdate,
		TargetID: role.ID,
		Lookups:  roleUpdateLookups,
		Metadata: meta,
	}
}

// roleDeleteEvent carries no snapshot when the role was never cached; the
// delete is still tracked but cannot be reverted.
func roleDeleteEvent(guildID, roleID string, cached *actions.RoleSnapshot) antinuke.Event {
	meta := actions.Metadata{TargetID: roleID, Role: cached}
	if cached != nil {
		meta.Name = cached.Name
	}
	return antinuke.Event{
		GuildID:  guildID,
		Action:   actions.RoleDelete,
		TargetID: roleID,
		Lookups:  roleDeleteLookups,
		Metadata: meta,
	}
}

// Webhook, emoji, sticker and integration events do not say what changed;
// the matching audit entry decides the action type and target.
func webhooksEvent(guildID string) antinuke.Event {
	return antinuke.Event{GuildID: guildID, Lookups: webhookLookups}
}

func emojisEvent(guildID string) antinuke.Event {
	return antinuke.Event{GuildID: guildID, Lookups: emojiLookups}
}

func stickersEvent(guildID string) antinuke.Event {
	return antinuke.Event{GuildID: guildID, Lookups: stickerLookups}
}

func integrationsEvent(guildID string) antinuke.Event {
	return antinuke.Event{GuildID: guildID, Action: actions.Integration, Lookups: integrationLookups}
}

func banEvent(guildID, userID string) antinuke.Event {
	return antinuke.Event{
		GuildID:  guildID,
		Action:   actions.MemberBan,
		TargetID: userID,
		Lookups:  banLookups,
		Metadata: actions.Metadata{TargetID: userID},
	}
}

// memberRemoveEvent covers kicks and prunes. Plain leaves have no audit
// entry and end as OutcomeNoExecutor.
func memberRemoveEvent(guildID, userID string) antinuke.Event {
	return antinuke.Event{
		GuildID:  guildID,
		TargetID: userID,
		Lookups:  memberRemoveLookups,
		Metadata: actions.Metadata{TargetID: userID},
	}
}

func botAddEvent(member *discordgo.Member) (antinuke.Event, bool) {
	if member == nil || member.User == nil || !member.User.Bot {
		return antinuke.Event{}, false
	}
	return antinuke.Event{
		GuildID:  member.GuildID,
		Action:   actions.BotAdd,
		TargetID: member.User.ID,
		Lookups:  botAddLookups,
		Metadata: actions.Metadata{TargetID: member.User.ID, Name: member.User.Username},
	}, true
}

// memberRoleEvent returns false when the update did not touch roles. Without
// a cached previous member the roles diff comes from the audit entry.
func memberRoleEvent(update *discordgo.GuildMemberUpdate) (antinuke.Event, bool) {
	if update.Member == nil || update.User == nil {
		return antinuke.Event{}, false
	}
	meta := actions.Metadata{TargetID: update.User.ID}
	if update.BeforeUpdate != nil {
		added, removed := diffRoles(update.BeforeUpdate.Roles, update.Roles)
		if len(added) == 0 && len(removed) == 0 {
			return antinuke.Event{}, false
		}
		meta.RolesAdded, meta.RolesRemoved = added, removed
	}
	return antinuke.Event{
		GuildID:  update.GuildID,
		Action:   actions.MemberRoleUpdate,
		TargetID: update.User.ID,
		Lookups:  memberRoleLookups,
		Metadata: meta,
	}, true
}

func guildUpdateEvent(guild *discordgo.Guild) antinuke.Event {
	return antinuke.Event{
		GuildID:  guild.ID,
		Action:   actions.GuildUpdate,
		TargetID: guild.ID,
		Lookups:  guildUpdateLookups,
		Metadata: actions.Metadata{TargetID: guild.ID},
	}
}

// mentionEvent attributes @everyone and @here pings to the message author.
// Webhook messages have no member to punish and are skipped.
func mentionEvent(msg *discordgo.MessageCreate) (antinuke.Event, bool) {
	if msg.Message == nil || msg.GuildID == "" || msg.Author == nil || msg.WebhookID != "" || !msg.MentionEveryone {
		return antinuke.Event{}, false
	}
	return antinuke.Event{
		GuildID:    msg.GuildID,
		Action:     actions.EveryoneMention,
		TargetID:   msg.ID,
		ExecutorID: msg.Author.ID,
		Metadata:   actions.Metadata{TargetID: msg.ID, ChannelID: msg.ChannelID, MessageID: msg.ID},
	}, true
}

func diffRoles(before, after []string) (added, removed []string) {
	old := make(map[string]struct{}, len(before))
	for _, id := range before {
		old[id] = struct{}{}
	}
	current := make(map[string]struct{}, len(after))
	for _, id := range after {
		current[id] = struct{}{}
		if _, ok := old[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
