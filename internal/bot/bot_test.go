package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/analytics"
	"aegis-antinuke/internal/config"
	"aegis-antinuke/internal/modules/antinuke"
	"aegis-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func TestClassifyErr(t *testing.T) {
	missing := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusBadRequest},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions},
	}
	if err := classifyErr("ban", missing); !errors.Is(err, antinuke.ErrMissingPermissions) {
		t.Fatalf("50013 should map to missing permissions, got %v", err)
	}

	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if err := classifyErr("kick", forbidden); !errors.Is(err, antinuke.ErrMissingPermissions) {
		t.Fatalf("403 should map to missing permissions, got %v", err)
	}

	other := errors.New("boom")
	err := classifyErr("timeout", other)
	if errors.Is(err, antinuke.ErrMissingPermissions) || !errors.Is(err, other) {
		t.Fatalf("unexpected classification: %v", err)
	}
	if !strings.HasPrefix(err.Error(), "timeout: ") {
		t.Fatalf("expected op prefix, got %q", err.Error())
	}
	if classifyErr("noop", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
}

func TestConvertAuditEntry(t *testing.T) {
	actionType := discordgo.AuditLogActionMemberRoleUpdate
	addKey := discordgo.AuditLogChangeKeyRoleAdd
	removeKey := discordgo.AuditLogChangeKeyRoleRemove
	nameKey := discordgo.AuditLogChangeKeyName

	entry := &discordgo.AuditLogEntry{
		ID:         "175928847299117063",
		UserID:     "actor",
		TargetID:   "target",
		ActionType: &actionType,
		Changes: []*discordgo.AuditLogChange{
			{Key: &addKey, NewValue: []any{map[string]any{"id": "r1", "name": "Admin"}, map[string]any{"name": "broken"}}},
			{Key: &removeKey, NewValue: []any{map[string]any{"id": "r2"}}},
			{Key: &nameKey, OldValue: "old", NewValue: "new"},
			nil,
		},
	}

	got := convertAuditEntry(entry)
	if got.Action != int(discordgo.AuditLogActionMemberRoleUpdate) {
		t.Fatalf("action = %d", got.Action)
	}
	if got.ActorID != "actor" || got.TargetID != "target" {
		t.Fatalf("ids not copied: %+v", got)
	}
	if len(got.RolesAdded) != 1 || got.RolesAdded[0] != "r1" {
		t.Fatalf("roles added = %v", got.RolesAdded)
	}
	if len(got.RolesRemoved) != 1 || got.RolesRemoved[0] != "r2" {
		t.Fatalf("roles removed = %v", got.RolesRemoved)
	}
	if got.OldName != "old" {
		t.Fatalf("old name = %q", got.OldName)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created at should come from the snowflake")
	}
}

func TestChangeRoleIDsIgnoresUnexpectedShapes(t *testing.T) {
	if ids := changeRoleIDs("nope"); ids != nil {
		t.Fatalf("expected nil, got %v", ids)
	}
	if ids := changeRoleIDs([]any{"r1", 42}); len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}
}

func TestSnapshotsFromDiscord(t *testing.T) {
	ch := &discordgo.Channel{
		ID:       "c1",
		GuildID:  "g1",
		Name:     "general",
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: "cat",
		Position: 3,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: "r1", Type: discordgo.PermissionOverwriteTypeRole, Allow: 1, Deny: 2},
			nil,
		},
	}
	snap := channelSnapshot(ch)
	if snap.Name != "general" || snap.ParentID != "cat" || snap.Position != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Overwrites) != 1 || snap.Overwrites[0].Deny != 2 {
		t.Fatalf("overwrites = %+v", snap.Overwrites)
	}
	back := toOverwrites(snap.Overwrites)
	if len(back) != 1 || back[0].Type != discordgo.PermissionOverwriteTypeRole {
		t.Fatalf("round trip overwrites = %+v", back)
	}

	role := roleSnapshot("g1", &discordgo.Role{ID: "r1", Name: "Mods", Color: 5, Permissions: 8, Hoist: true})
	params := roleParams(role)
	if params.Name != "Mods" || *params.Color != 5 || *params.Permissions != 8 || !*params.Hoist {
		t.Fatalf("unexpected role params: %+v", params)
	}
}

func TestNeedsDetach(t *testing.T) {
	moved := &discordgo.Channel{ID: "c1", ParentID: "raid-category"}
	if !needsDetach(actions.ChannelSnapshot{ID: "c1"}, moved) {
		t.Fatalf("uncategorised channel moved into a category should be detached")
	}
	if needsDetach(actions.ChannelSnapshot{ID: "c1", ParentID: "cat"}, moved) {
		t.Fatalf("categorised snapshot is restored by the edit itself")
	}
	if needsDetach(actions.ChannelSnapshot{ID: "c1"}, &discordgo.Channel{ID: "c1"}) || needsDetach(actions.ChannelSnapshot{ID: "c1"}, nil) {
		t.Fatalf("channel already without a parent needs nothing")
	}

	body, err := json.Marshal(detachPayload())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(body) != `{"parent_id":null}` {
		t.Fatalf("detach payload = %s", body)
	}
}

func TestChannelDeleteEventPrefersCache(t *testing.T) {
	ch := &discordgo.Channel{ID: "c1", GuildID: "g1", Name: "from-event"}
	cached := &actions.ChannelSnapshot{ID: "c1", GuildID: "g1", Name: "from-cache"}

	event := channelDeleteEvent(ch, cached)
	if event.Action != actions.ChannelDelete || event.Metadata.Channel.Name != "from-cache" {
		t.Fatalf("unexpected event: %+v", event)
	}

	event = channelDeleteEvent(ch, nil)
	if event.Metadata.Channel == nil || event.Metadata.Channel.Name != "from-event" {
		t.Fatalf("fallback snapshot missing: %+v", event.Metadata)
	}
	if event.Metadata.Name != "from-event" {
		t.Fatalf("metadata name = %q", event.Metadata.Name)
	}
}

func TestRoleDeleteEventWithoutCache(t *testing.T) {
	event := roleDeleteEvent("g1", "r1", nil)
	if event.Action != actions.RoleDelete || event.TargetID != "r1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata.Role != nil {
		t.Fatalf("uncached delete should carry no snapshot")
	}
}

func TestEventsResolvedFromAuditLeaveActionEmpty(t *testing.T) {
	for name, event := range map[string]antinuke.Event{
		"webhooks": webhooksEvent("g1"),
		"emojis":   emojisEvent("g1"),
		"stickers": stickersEvent("g1"),
		"remove":   memberRemoveEvent("g1", "u1"),
	} {
		if event.Action != "" {
			t.Fatalf("%s: action should come from the audit entry, got %q", name, event.Action)
		}
		if len(event.Lookups) == 0 {
			t.Fatalf("%s: no lookups", name)
		}
	}
	for _, l := range memberRemoveLookups {
		if l.Action == actions.MemberPrune && l.MatchTarget {
			t.Fatalf("prune entries carry no target")
		}
	}
}

func TestBotAddEvent(t *testing.T) {
	if _, ok := botAddEvent(&discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "u1"}}); ok {
		t.Fatalf("human joins are not bot adds")
	}
	if _, ok := botAddEvent(nil); ok {
		t.Fatalf("nil member should be ignored")
	}
	event, ok := botAddEvent(&discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "b1", Username: "raider", Bot: true}})
	if !ok || event.Action != actions.BotAdd || event.TargetID != "b1" || event.Metadata.Name != "raider" {
		t.Fatalf("unexpected bot add: %+v ok=%v", event, ok)
	}
}

func TestMemberRoleEvent(t *testing.T) {
	update := &discordgo.GuildMemberUpdate{
		Member:       &discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "u1"}, Roles: []string{"a", "c"}},
		BeforeUpdate: &discordgo.Member{Roles: []string{"a", "b"}},
	}
	event, ok := memberRoleEvent(update)
	if !ok {
		t.Fatalf("role change should produce an event")
	}
	if len(event.Metadata.RolesAdded) != 1 || event.Metadata.RolesAdded[0] != "c" {
		t.Fatalf("added = %v", event.Metadata.RolesAdded)
	}
	if len(event.Metadata.RolesRemoved) != 1 || event.Metadata.RolesRemoved[0] != "b" {
		t.Fatalf("removed = %v", event.Metadata.RolesRemoved)
	}

	update.BeforeUpdate = &discordgo.Member{Roles: []string{"c", "a"}}
	if _, ok := memberRoleEvent(update); ok {
		t.Fatalf("nickname-only update should be ignored")
	}

	update.BeforeUpdate = nil
	event, ok = memberRoleEvent(update)
	if !ok || len(event.Metadata.RolesAdded) != 0 {
		t.Fatalf("uncached update should defer the diff to the audit entry: %+v", event.Metadata)
	}
}

func TestMentionEvent(t *testing.T) {
	msg := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:              "m1",
		ChannelID:       "c1",
		GuildID:         "g1",
		Author:          &discordgo.User{ID: "u1"},
		MentionEveryone: true,
	}}
	event, ok := mentionEvent(msg)
	if !ok || event.ExecutorID != "u1" || event.Metadata.ChannelID != "c1" {
		t.Fatalf("unexpected mention event: %+v ok=%v", event, ok)
	}

	msg.WebhookID = "w1"
	if _, ok := mentionEvent(msg); ok {
		t.Fatalf("webhook messages should be skipped")
	}

	msg.WebhookID = ""
	msg.MentionEveryone = false
	if _, ok := mentionEvent(msg); ok {
		t.Fatalf("messages without @everyone should be skipped")
	}
}

func TestBuildIncidentEmbed(t *testing.T) {
	incident := antinuke.Incident{
		ID:         "inc-1",
		GuildID:    "g1",
		UserID:     "u1",
		Action:     actions.ChannelDelete,
		Count:      4,
		Limit:      3,
		Window:     10 * time.Second,
		Level:      1,
		Punishment: actions.PunishTimeout,
		Duration:   time.Hour,
		Applied:    true,
	}
	embed := buildIncidentEmbed(incident, 1, 2)
	if embed.Color != 1 {
		t.Fatalf("applied incident should use the action color")
	}
	if embed.Footer == nil || !strings.Contains(embed.Footer.Text, "inc-1") {
		t.Fatalf("footer should name the incident")
	}
	var punishment string
	for _, field := range embed.Fields {
		if field.Name == "Punishment" {
			punishment = field.Value
		}
	}
	if punishment != "timeout (1h)" {
		t.Fatalf("punishment field = %q", punishment)
	}

	incident.Applied = false
	if embed := buildIncidentEmbed(incident, 1, 2); embed.Color != 2 {
		t.Fatalf("failed incident should use the error color")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "-",
		10 * time.Minute:        "10m",
		time.Hour:               "1h",
		48 * time.Hour:          "2d",
		90 * time.Second:        "1m30s",
		1500 * time.Millisecond: "1.5s",
	}
	for in, want := range cases {
		if got := formatDuration(in); got != want {
			t.Fatalf("formatDuration(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultThresholds(t *testing.T) {
	out := defaultThresholds("g1", []config.ThresholdDefault{
		{Action: "chdl", MaxActions: 3, WindowSeconds: 10, Punishment: "escalation"},
		{Action: "ban", MaxActions: 2, WindowSeconds: 30, Punishment: "ban"},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 thresholds, got %d", len(out))
	}
	if out[1].GuildID != "g1" || out[1].ActionType != "ban" || out[1].PunishmentType != "ban" {
		t.Fatalf("unexpected threshold: %+v", out[1])
	}
}

func TestActionChoicesFitDiscordLimit(t *testing.T) {
	without := actionChoices(false)
	with := actionChoices(true)
	if len(with) > 25 {
		t.Fatalf("discord allows at most 25 choices, got %d", len(with))
	}
	if len(with) != len(without)+1 {
		t.Fatalf("withAll should add exactly one choice")
	}
	if with[0].Value != string(actions.AllTypes) {
		t.Fatalf("first choice should be the wildcard, got %v", with[0].Value)
	}
}

func TestOptionMap(t *testing.T) {
	opts := optionMap([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "action", Type: discordgo.ApplicationCommandOptionString, Value: "set"},
		{Name: "max", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(5)},
		{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "123"},
	})
	if opts.str("action") != "set" {
		t.Fatalf("action = %q", opts.str("action"))
	}
	if max, ok := opts.integer("max"); !ok || max != 5 {
		t.Fatalf("max = %d ok=%v", max, ok)
	}
	if _, ok := opts.integer("window"); ok {
		t.Fatalf("missing option should not be ok")
	}
	if opts.id("user") != "123" || opts.id("role") != "" {
		t.Fatalf("unexpected ids")
	}
	if opts.str("max") != "" {
		t.Fatalf("str on an integer option should be empty")
	}
}

func TestStatusFields(t *testing.T) {
	settings := storage.GuildSettings{GuildID: "g1", AntiNukeEnabled: true, SecurityLogChannel: "c9"}
	report := analytics.Report{
		Total:        3,
		Applied:      2,
		ByAction:     map[string]int{"chdl": 2, "ban": 1},
		ByPunishment: map[string]int{"timeout": 3},
		Offenders:    []analytics.Offender{{UserID: "u1", Count: 3}},
	}
	fields := statusFields(settings, report)
	if len(fields) != 9 {
		t.Fatalf("expected 9 fields, got %d", len(fields))
	}
	if fields[3].Value != "<#c9>" {
		t.Fatalf("log channel = %q", fields[3].Value)
	}
	if !strings.Contains(fields[6].Value, "Member Ban: 1") {
		t.Fatalf("by action = %q", fields[6].Value)
	}

	if got := len(statusFields(storage.GuildSettings{}, analytics.Report{})); got != 6 {
		t.Fatalf("empty report should only show settings, got %d fields", got)
	}
}

func TestFormatters(t *testing.T) {
	if !strings.Contains(formatThresholds(nil), "No thresholds") {
		t.Fatalf("empty thresholds message missing")
	}
	line := formatThresholds([]storage.Threshold{{ActionType: "chdl", MaxActions: 3, WindowSeconds: 10, PunishmentType: "escalation"}})
	if !strings.Contains(line, "`chdl`") || !strings.Contains(line, "3 per 10s") {
		t.Fatalf("threshold line = %q", line)
	}

	list := formatWhitelist([]storage.WhitelistEntry{
		{TargetID: "u1", TargetType: storage.TargetUser, ActionType: "all"},
		{TargetID: "r1", TargetType: storage.TargetRole, ActionType: "ban"},
	})
	if !strings.Contains(list, "<@u1>") || !strings.Contains(list, "<@&r1>") {
		t.Fatalf("whitelist = %q", list)
	}

	history := formatPunishments([]storage.PunishmentLog{{UserID: "u1", ActionType: "ban", PunishmentType: "kick", EscalationLevel: 3, CreatedAt: time.Unix(100, 0)}})
	if !strings.Contains(history, "<t:100:R>") || !strings.Contains(history, "failed") {
		t.Fatalf("history = %q", history)
	}
}

func TestCloseWaitsForJanitor(t *testing.T) {
	b := &Bot{logger: zap.NewNop(), stop: make(chan struct{})}
	b.startJanitorEvery(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Close(ctx)

	select {
	case <-b.janitorDone:
	default:
		t.Fatalf("janitor still running after Close")
	}
	// A second Close must not panic on the closed stop channel.
	b.Close(ctx)
}

func TestCloseGivesUpAtDeadline(t *testing.T) {
	b := &Bot{logger: zap.NewNop(), stop: make(chan struct{}), janitorDone: make(chan struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	b.Close(ctx)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Close ignored the context deadline, took %s", elapsed)
	}
}
