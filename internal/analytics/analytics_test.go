package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"aegis-antinuke/internal/storage"
)

func TestReportGroupsPunishments(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "anti.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	rows := []storage.PunishmentLog{
		{GuildID: "g1", UserID: "u1", ActionType: "chdl", PunishmentType: "timeout", ActionsReverted: 3, Applied: true, CreatedAt: now},
		{GuildID: "g1", UserID: "u1", ActionType: "chdl", PunishmentType: "kick", ActionsReverted: 2, Applied: false, CreatedAt: now},
		{GuildID: "g1", UserID: "u2", ActionType: "ban", PunishmentType: "ban", Applied: true, CreatedAt: now},
		{GuildID: "g1", UserID: "u3", ActionType: "ban", PunishmentType: "ban", Applied: true, CreatedAt: now.Add(-48 * time.Hour)},
		{GuildID: "g2", UserID: "u1", ActionType: "rldl", PunishmentType: "ban", Applied: true, CreatedAt: now},
	}
	for _, row := range rows {
		if _, err := store.AddPunishment(ctx, row); err != nil {
			t.Fatalf("add punishment: %v", err)
		}
	}

	report, err := New(store).Report(ctx, "g1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 3 || report.Applied != 2 || report.Reverted != 5 {
		t.Fatalf("unexpected totals: %+v", report)
	}
	if report.ByAction["chdl"] != 2 || report.ByAction["ban"] != 1 {
		t.Fatalf("unexpected by action: %v", report.ByAction)
	}
	if report.ByPunishment["ban"] != 1 || report.ByPunishment["timeout"] != 1 {
		t.Fatalf("unexpected by punishment: %v", report.ByPunishment)
	}
	if len(report.Offenders) != 2 || report.Offenders[0].UserID != "u1" || report.Offenders[0].Count != 2 {
		t.Fatalf("unexpected offenders: %+v", report.Offenders)
	}
}
