package actions

import "encoding/json"

// Metadata is the per-event payload kept next to each tracked action. It holds
// just enough prior state to undo the action later.
type Metadata struct {
	TargetID     string           `json:"target_id,omitempty"`
	ChannelID    string           `json:"channel_id,omitempty"`
	MessageID    string           `json:"message_id,omitempty"`
	Name         string           `json:"name,omitempty"`
	Channel      *ChannelSnapshot `json:"channel,omitempty"`
	Role         *RoleSnapshot    `json:"role,omitempty"`
	RolesAdded   []string         `json:"roles_added,omitempty"`
	RolesRemoved []string         `json:"roles_removed,omitempty"`
	AuditEntryID string           `json:"audit_entry_id,omitempty"`
}

type ChannelSnapshot struct {
	ID               string      `json:"id"`
	GuildID          string      `json:"guild_id"`
	Name             string      `json:"name"`
	Type             int         `json:"type"`
	Topic            string      `json:"topic,omitempty"`
	ParentID         string      `json:"parent_id,omitempty"`
	Position         int         `json:"position"`
	NSFW             bool        `json:"nsfw,omitempty"`
	RateLimitPerUser int         `json:"rate_limit_per_user,omitempty"`
	Bitrate          int         `json:"bitrate,omitempty"`
	UserLimit        int         `json:"user_limit,omitempty"`
	Overwrites       []Overwrite `json:"overwrites,omitempty"`
}

type Overwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"`
	Allow int64  `json:"allow"`
	Deny  int64  `json:"deny"`
}

type RoleSnapshot struct {
	ID          string `json:"id"`
	GuildID     string `json:"guild_id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Mentionable bool   `json:"mentionable"`
	Permissions int64  `json:"permissions"`
	Position    int    `json:"position"`
	Managed     bool   `json:"managed,omitempty"`
}

func (m Metadata) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMetadata tolerates empty payloads written by older rows.
func DecodeMetadata(raw string) (Metadata, error) {
	var m Metadata
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}
