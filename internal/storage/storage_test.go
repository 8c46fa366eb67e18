package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "anti.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateTwice(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUpsertGuildSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	settings := GuildSettings{
		GuildID:            "g1",
		SecurityLogChannel: "c1",
		AntiNukeEnabled:    true,
		RevertEnabled:      true,
		NotifyOwner:        false,
		RetentionDays:      30,
	}
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert guild settings: %v", err)
	}

	settings.SecurityLogChannel = "c2"
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("update guild settings: %v", err)
	}

	got, err := store.GetGuildSettings(ctx, "g1", GuildSettings{})
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.SecurityLogChannel != "c2" {
		t.Fatalf("expected channel c2, got %q", got.SecurityLogChannel)
	}
	if !got.AntiNukeEnabled || !got.RevertEnabled || got.NotifyOwner {
		t.Fatalf("unexpected flags: %+v", got)
	}
}

func TestGetGuildSettingsDefaults(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetGuildSettings(context.Background(), "missing", GuildSettings{AntiNukeEnabled: true, RetentionDays: 7})
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.GuildID != "missing" || !got.AntiNukeEnabled || got.RetentionDays != 7 {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestActionEventsCountAndRevert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		if _, err := store.AddActionEvent(ctx, ActionEvent{GuildID: "g1", UserID: "u1", ActionType: "chdl", CreatedAt: now}); err != nil {
			t.Fatalf("add action: %v", err)
		}
	}
	if _, err := store.AddActionEvent(ctx, ActionEvent{GuildID: "g1", UserID: "u1", ActionType: "chdl", CreatedAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("add old action: %v", err)
	}
	if _, err := store.AddActionEvent(ctx, ActionEvent{GuildID: "g1", UserID: "u1", ActionType: "rldl", CreatedAt: now}); err != nil {
		t.Fatalf("add other action: %v", err)
	}

	count, err := store.CountActions(ctx, "g1", "u1", "chdl", now.Add(-10*time.Second))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}

	changed, err := store.MarkActionsReverted(ctx, "g1", "u1", "chdl")
	if err != nil {
		t.Fatalf("mark reverted: %v", err)
	}
	if changed != 4 {
		t.Fatalf("expected 4 rows changed, got %d", changed)
	}
	changed, err = store.MarkActionsReverted(ctx, "g1", "u1", "chdl")
	if err != nil {
		t.Fatalf("mark reverted again: %v", err)
	}
	if changed != 0 {
		t.Fatalf("expected second mark to be a no-op, got %d", changed)
	}

	count, _ = store.CountActions(ctx, "g1", "u1", "chdl", now.Add(-10*time.Second))
	if count != 0 {
		t.Fatalf("expected 0 after revert, got %d", count)
	}
	count, _ = store.CountActions(ctx, "g1", "u1", "rldl", now.Add(-10*time.Second))
	if count != 1 {
		t.Fatalf("expected other action type untouched, got %d", count)
	}
}

func TestPruneActions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, _ = store.AddActionEvent(ctx, ActionEvent{GuildID: "g1", UserID: "u1", ActionType: "ban", CreatedAt: now.Add(-48 * time.Hour)})
	_, _ = store.AddActionEvent(ctx, ActionEvent{GuildID: "g1", UserID: "u1", ActionType: "ban", CreatedAt: now})

	removed, err := store.PruneActions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned, got %d", removed)
	}
}

func TestPruneActionsKeepsListedGuilds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	for _, guildID := range []string{"g1", "g2", "g3"} {
		_, _ = store.AddActionEvent(ctx, ActionEvent{GuildID: guildID, UserID: "u1", ActionType: "ban", CreatedAt: old})
	}

	removed, err := store.PruneActions(ctx, time.Now().Add(-24*time.Hour), "g2", "g3")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected only g1 pruned, got %d", removed)
	}

	removed, err = store.PruneGuildActions(ctx, "g2", time.Now().Add(-24*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("guild prune removed=%d err=%v", removed, err)
	}
	if count, _ := store.CountActions(ctx, "g3", "u1", "ban", old.Add(-time.Hour)); count != 1 {
		t.Fatalf("expected g3 untouched, got %d", count)
	}
}

func TestGuildRetentions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for guildID, days := range map[string]int{"g1": 7, "g2": 30, "g3": 0} {
		if err := store.UpsertGuildSettings(ctx, GuildSettings{GuildID: guildID, RetentionDays: days}); err != nil {
			t.Fatalf("upsert %s: %v", guildID, err)
		}
	}

	got, err := store.GuildRetentions(ctx, 7)
	if err != nil {
		t.Fatalf("retentions: %v", err)
	}
	if len(got) != 1 || got["g2"] != 30 {
		t.Fatalf("expected only g2 override, got %v", got)
	}
}

func TestThresholdUpsertAndSeed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, found, err := store.GetThreshold(ctx, "g1", "chup"); err != nil || found {
		t.Fatalf("expected no threshold, found=%v err=%v", found, err)
	}

	if err := store.UpsertThreshold(ctx, Threshold{GuildID: "g1", ActionType: "chup", MaxActions: 3, WindowSeconds: 10, PunishmentType: "escalation"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertThreshold(ctx, Threshold{GuildID: "g1", ActionType: "chup", MaxActions: 5, WindowSeconds: 20, PunishmentType: "ban"}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	th, found, err := store.GetThreshold(ctx, "g1", "chup")
	if err != nil || !found {
		t.Fatalf("get threshold: found=%v err=%v", found, err)
	}
	if th.MaxActions != 5 || th.WindowSeconds != 20 || th.PunishmentType != "ban" {
		t.Fatalf("unexpected threshold %+v", th)
	}

	n, err := store.SeedThresholds(ctx, "g1", []Threshold{{ActionType: "chdl", MaxActions: 3, WindowSeconds: 10, PunishmentType: "escalation"}})
	if err != nil {
		t.Fatalf("seed existing guild: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no seeding for configured guild, got %d", n)
	}
	n, err = store.SeedThresholds(ctx, "g2", []Threshold{{ActionType: "chdl", MaxActions: 3, WindowSeconds: 10, PunishmentType: "escalation"}})
	if err != nil {
		t.Fatalf("seed new guild: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 seeded threshold, got %d", n)
	}
}

func TestPunishmentHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		total, err := store.AddPunishment(ctx, PunishmentLog{GuildID: "g1", UserID: "u1", ActionType: "chdl", PunishmentType: "timeout", EscalationLevel: i, Applied: true})
		if err != nil {
			t.Fatalf("add punishment: %v", err)
		}
		if total != i+1 {
			t.Fatalf("expected total %d, got %d", i+1, total)
		}
	}

	logs, err := store.ListPunishments(ctx, "g1", "u1", time.Time{}, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 || !logs[0].Applied {
		t.Fatalf("unexpected logs %+v", logs)
	}

	removed, err := store.ResetPunishments(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	count, _ := store.CountPunishments(ctx, "g1", "u1")
	if count != 0 {
		t.Fatalf("expected 0 after reset, got %d", count)
	}
}

func TestWhitelistScopes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.AddWhitelist(ctx, WhitelistEntry{GuildID: "g1", TargetID: "u1", TargetType: TargetUser, ActionType: "chup"})
	_ = store.AddWhitelist(ctx, WhitelistEntry{GuildID: "g1", TargetID: "r1", TargetType: TargetRole})

	cases := []struct {
		action string
		user   string
		roles  []string
		want   bool
	}{
		{"chup", "u1", nil, true},
		{"chdl", "u1", nil, false},
		{"chdl", "u2", []string{"r1"}, true},
		{"ban", "u2", []string{"r2"}, false},
	}
	for _, tc := range cases {
		got, err := store.IsWhitelisted(ctx, "g1", tc.action, tc.user, tc.roles)
		if err != nil {
			t.Fatalf("is whitelisted: %v", err)
		}
		if got != tc.want {
			t.Fatalf("%s/%s/%v: expected %v, got %v", tc.action, tc.user, tc.roles, tc.want, got)
		}
	}

	if _, err := store.RemoveWhitelist(ctx, "g1", "r1", ""); err != nil {
		t.Fatalf("remove: %v", err)
	}
	entries, _ := store.ListWhitelist(ctx, "g1")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry left, got %d", len(entries))
	}
}

func TestBlacklistedGuilds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddBlacklistedGuild(ctx, "g1", "abuse"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ok, _ := store.IsGuildBlacklisted(ctx, "g1"); !ok {
		t.Fatalf("expected g1 blacklisted")
	}
	_ = store.RemoveBlacklistedGuild(ctx, "g1")
	if ok, _ := store.IsGuildBlacklisted(ctx, "g1"); ok {
		t.Fatalf("expected g1 removed")
	}
}
