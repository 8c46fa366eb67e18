package antinuke

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aegis-antinuke/internal/actions"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

// fakeDiscord stands in for every Discord-facing port and records calls.
type fakeDiscord struct {
	mu         sync.Mutex
	self       string
	owner      string
	ownerErr   error
	roles      map[string][]string
	entries    map[int][]AuditEntry
	fetches    int
	modErr     error
	restoreErr error
	calls      []string
	until      time.Time
	incidents  []Incident
	edited     []actions.ChannelSnapshot
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		self:    "bot",
		owner:   "owner",
		roles:   make(map[string][]string),
		entries: make(map[int][]AuditEntry),
	}
}

func (f *fakeDiscord) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeDiscord) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDiscord) count(prefix string) int {
	n := 0
	for _, call := range f.Calls() {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeDiscord) RecentAuditEntries(_ context.Context, _ string, action, _ int) ([]AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return append([]AuditEntry(nil), f.entries[action]...), nil
}

func (f *fakeDiscord) SelfID() string { return f.self }

func (f *fakeDiscord) GuildOwnerID(context.Context, string) (string, error) {
	return f.owner, f.ownerErr
}

func (f *fakeDiscord) MemberRoleIDs(_ context.Context, _, userID string) ([]string, error) {
	return f.roles[userID], nil
}

func (f *fakeDiscord) WarnMember(_ context.Context, _, userID, _ string) error {
	f.record("warn:%s", userID)
	return f.modErr
}

func (f *fakeDiscord) TimeoutMember(_ context.Context, _, userID string, until time.Time, _ string) error {
	f.mu.Lock()
	f.until = until
	f.mu.Unlock()
	f.record("timeout:%s", userID)
	return f.modErr
}

func (f *fakeDiscord) KickMember(_ context.Context, _, userID, _ string) error {
	f.record("kick:%s", userID)
	return f.modErr
}

func (f *fakeDiscord) BanMember(_ context.Context, _, userID, _ string) error {
	f.record("ban:%s", userID)
	return f.modErr
}

func (f *fakeDiscord) DeleteChannel(_ context.Context, channelID, _ string) error {
	f.record("delete_channel:%s", channelID)
	return f.restoreErr
}

func (f *fakeDiscord) CreateChannel(_ context.Context, snap actions.ChannelSnapshot, _ string) error {
	f.record("create_channel:%s", snap.Name)
	return f.restoreErr
}

func (f *fakeDiscord) EditChannel(_ context.Context, snap actions.ChannelSnapshot, _ string) error {
	f.record("edit_channel:%s", snap.ID)
	f.mu.Lock()
	f.edited = append(f.edited, snap)
	f.mu.Unlock()
	return f.restoreErr
}

func (f *fakeDiscord) DeleteRole(_ context.Context, _, roleID, _ string) error {
	f.record("delete_role:%s", roleID)
	return f.restoreErr
}

func (f *fakeDiscord) CreateRole(_ context.Context, snap actions.RoleSnapshot, _ string) error {
	f.record("create_role:%s", snap.Name)
	return f.restoreErr
}

func (f *fakeDiscord) EditRole(_ context.Context, snap actions.RoleSnapshot, _ string) error {
	f.record("edit_role:%s", snap.ID)
	return f.restoreErr
}

func (f *fakeDiscord) DeleteWebhook(_ context.Context, webhookID, _ string) error {
	f.record("delete_webhook:%s", webhookID)
	return f.restoreErr
}

func (f *fakeDiscord) RestoreWebhook(_ context.Context, webhookID, name, _, _ string) error {
	f.record("restore_webhook:%s:%s", webhookID, name)
	return f.restoreErr
}

func (f *fakeDiscord) UnbanMember(_ context.Context, _, userID, _ string) error {
	f.record("unban:%s", userID)
	return f.restoreErr
}

func (f *fakeDiscord) DeleteEmoji(_ context.Context, _, emojiID, _ string) error {
	f.record("delete_emoji:%s", emojiID)
	return f.restoreErr
}

func (f *fakeDiscord) RenameEmoji(_ context.Context, _, emojiID, name, _ string) error {
	f.record("rename_emoji:%s:%s", emojiID, name)
	return f.restoreErr
}

func (f *fakeDiscord) DeleteIntegration(_ context.Context, _, integrationID, _ string) error {
	f.record("delete_integration:%s", integrationID)
	return f.restoreErr
}

func (f *fakeDiscord) DeleteMessage(_ context.Context, channelID, messageID, _ string) error {
	f.record("delete_message:%s:%s", channelID, messageID)
	return f.restoreErr
}

func (f *fakeDiscord) AddMemberRole(_ context.Context, _, userID, roleID, _ string) error {
	f.record("add_role:%s:%s", userID, roleID)
	return f.restoreErr
}

func (f *fakeDiscord) RemoveMemberRole(_ context.Context, _, userID, roleID, _ string) error {
	f.record("remove_role:%s:%s", userID, roleID)
	return f.restoreErr
}

func (f *fakeDiscord) RenameGuild(_ context.Context, _, name, _ string) error {
	f.record("rename_guild:%s", name)
	return f.restoreErr
}

func (f *fakeDiscord) NotifyIncident(_ context.Context, incident Incident) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents = append(f.incidents, incident)
}

func (f *fakeDiscord) Incidents() []Incident {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Incident(nil), f.incidents...)
}
