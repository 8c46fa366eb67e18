package antinuke

import (
	"context"
	"testing"
	"time"

	"aegis-antinuke/internal/actions"

	"go.uber.org/zap"
)

func newResolver(discord *fakeDiscord) (*ExecutorResolver, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	resolver := NewExecutorResolver(discord, ExecutorConfig{MaxAge: 30 * time.Second, CacheTTL: time.Minute, Limit: 5}, zap.NewNop())
	resolver.WithClock(clock)
	return resolver, clock
}

func TestResolverSharesFetchAcrossBurst(t *testing.T) {
	discord := newFakeDiscord()
	resolver, clock := newResolver(discord)
	discord.entries[10] = []AuditEntry{
		{ID: "e1", ActorID: "u1", TargetID: "c1", CreatedAt: clock.now.Add(-time.Second)},
		{ID: "e2", ActorID: "u2", TargetID: "c2", CreatedAt: clock.now.Add(-2 * time.Second)},
	}
	lookups := []AuditLookup{{Code: 10, Action: actions.ChannelCreate}}
	ctx := context.Background()

	first, action, ok := resolver.Resolve(ctx, "g1", "", lookups)
	if !ok || first.ID != "e1" || action != actions.ChannelCreate {
		t.Fatalf("expected freshest entry e1, got %+v ok=%v", first, ok)
	}
	second, _, ok := resolver.Resolve(ctx, "g1", "", lookups)
	if !ok || second.ID != "e2" {
		t.Fatalf("expected unconsumed entry e2, got %+v ok=%v", second, ok)
	}
	if discord.fetches != 1 {
		t.Fatalf("expected one fetch, got %d", discord.fetches)
	}

	third, _, ok := resolver.Resolve(ctx, "g1", "", lookups)
	if !ok || third.ID != "e1" {
		t.Fatalf("expected consumed fallback e1, got %+v ok=%v", third, ok)
	}
	if discord.fetches != 2 {
		t.Fatalf("expected refetch before falling back, got %d fetches", discord.fetches)
	}
}

func TestResolverMatchesTarget(t *testing.T) {
	discord := newFakeDiscord()
	resolver, clock := newResolver(discord)
	discord.entries[12] = []AuditEntry{
		{ID: "e1", ActorID: "u1", TargetID: "c1", CreatedAt: clock.now.Add(-time.Second)},
		{ID: "e2", ActorID: "u2", TargetID: "c2", CreatedAt: clock.now.Add(-3 * time.Second)},
	}
	lookups := []AuditLookup{{Code: 12, Action: actions.ChannelDelete, MatchTarget: true}}

	entry, _, ok := resolver.Resolve(context.Background(), "g1", "c2", lookups)
	if !ok || entry.ActorID != "u2" {
		t.Fatalf("expected executor u2, got %+v ok=%v", entry, ok)
	}
}

func TestResolverIgnoresStaleEntries(t *testing.T) {
	discord := newFakeDiscord()
	resolver, clock := newResolver(discord)
	discord.entries[30] = []AuditEntry{
		{ID: "old", ActorID: "u1", TargetID: "r1", CreatedAt: clock.now.Add(-time.Minute)},
		{ID: "anon", TargetID: "r1", CreatedAt: clock.now},
	}

	_, _, ok := resolver.Resolve(context.Background(), "g1", "r1", []AuditLookup{{Code: 30, Action: actions.RoleCreate, MatchTarget: true}})
	if ok {
		t.Fatal("expected stale and actorless entries to be skipped")
	}
}

func TestResolverPicksAcrossLookups(t *testing.T) {
	discord := newFakeDiscord()
	resolver, clock := newResolver(discord)
	discord.entries[20] = []AuditEntry{{ID: "kick", ActorID: "u1", TargetID: "m1", CreatedAt: clock.now.Add(-5 * time.Second)}}
	discord.entries[22] = []AuditEntry{{ID: "ban", ActorID: "u2", TargetID: "m1", CreatedAt: clock.now.Add(-time.Second)}}

	entry, action, ok := resolver.Resolve(context.Background(), "g1", "m1", []AuditLookup{
		{Code: 20, Action: actions.MemberKick, MatchTarget: true},
		{Code: 22, Action: actions.MemberBan, MatchTarget: true},
	})
	if !ok || entry.ID != "ban" || action != actions.MemberBan {
		t.Fatalf("expected newest ban entry, got %+v %s ok=%v", entry, action, ok)
	}
}
