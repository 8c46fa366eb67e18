// Package actions defines the privileged action types the guard watches, the
// punishment kinds it can hand out and the per-event metadata it records.
package actions

import "strings"

type Type string

const (
	ChannelCreate    Type = "chcr"
	ChannelDelete    Type = "chdl"
	ChannelUpdate    Type = "chup"
	RoleCreate       Type = "rlcr"
	RoleDelete       Type = "rldl"
	RoleUpdate       Type = "rlup"
	WebhookCreate    Type = "whcr"
	WebhookUpdate    Type = "whup"
	WebhookDelete    Type = "whdl"
	MemberBan        Type = "ban"
	MemberKick       Type = "kick"
	MemberPrune      Type = "prune"
	BotAdd           Type = "botadd"
	EmojiCreate      Type = "emcr"
	EmojiUpdate      Type = "emup"
	EmojiDelete      Type = "emdl"
	StickerCreate    Type = "stcr"
	StickerUpdate    Type = "stup"
	StickerDelete    Type = "stdl"
	EveryoneMention  Type = "mention"
	Integration      Type = "intg"
	MemberRoleUpdate Type = "mbrl"
	GuildUpdate      Type = "gup"
	AllTypes         Type = "all"
)

var ordered = []Type{
	ChannelCreate, ChannelDelete, ChannelUpdate,
	RoleCreate, RoleDelete, RoleUpdate,
	WebhookCreate, WebhookUpdate, WebhookDelete,
	MemberBan, MemberKick, MemberPrune, BotAdd,
	EmojiCreate, EmojiUpdate, EmojiDelete,
	StickerCreate, StickerUpdate, StickerDelete,
	EveryoneMention, Integration, MemberRoleUpdate, GuildUpdate,
}

var labels = map[Type]string{
	ChannelCreate:    "Channel Create",
	ChannelDelete:    "Channel Delete",
	ChannelUpdate:    "Channel Update",
	RoleCreate:       "Role Create",
	RoleDelete:       "Role Delete",
	RoleUpdate:       "Role Update",
	WebhookCreate:    "Webhook Create",
	WebhookUpdate:    "Webhook Update",
	WebhookDelete:    "Webhook Delete",
	MemberBan:        "Member Ban",
	MemberKick:       "Member Kick",
	MemberPrune:      "Member Prune",
	BotAdd:           "Bot Add",
	EmojiCreate:      "Emoji Create",
	EmojiUpdate:      "Emoji Update",
	EmojiDelete:      "Emoji Delete",
	StickerCreate:    "Sticker Create",
	StickerUpdate:    "Sticker Update",
	StickerDelete:    "Sticker Delete",
	EveryoneMention:  "Everyone Mention",
	Integration:      "Integration Change",
	MemberRoleUpdate: "Member Role Update",
	GuildUpdate:      "Guild Update",
	AllTypes:         "All Actions",
}

// All returns every watched type in display order. AllTypes is not included.
func All() []Type {
	out := make([]Type, len(ordered))
	copy(out, ordered)
	return out
}

func Parse(value string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(value)))
	if t == AllTypes {
		return t, true
	}
	_, ok := labels[t]
	return t, ok
}

func (t Type) Label() string {
	if label, ok := labels[t]; ok {
		return label
	}
	return string(t)
}

func (t Type) String() string { return string(t) }

type Punishment string

const (
	PunishWarn       Punishment = "warn"
	PunishTimeout    Punishment = "timeout"
	PunishKick       Punishment = "kick"
	PunishBan        Punishment = "ban"
	PunishEscalation Punishment = "escalation"
)

// ParsePunishment accepts the concrete kinds plus "escalation", which means
// the ladder decides.
func ParsePunishment(value string) (Punishment, bool) {
	p := Punishment(strings.ToLower(strings.TrimSpace(value)))
	switch p {
	case PunishWarn, PunishTimeout, PunishKick, PunishBan, PunishEscalation:
		return p, true
	default:
		return "", false
	}
}

func (p Punishment) String() string { return string(p) }
