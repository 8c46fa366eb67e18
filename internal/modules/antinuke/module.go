package antinuke

import (
	"context"
	"fmt"
	"time"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/escalation"
	"aegis-antinuke/internal/modules/audit"
	"aegis-antinuke/internal/storage"
	"aegis-antinuke/internal/tracker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one gateway event translated for the pipeline. Either ExecutorID
// is already known (message author) or Lookups say which audit-log actions
// can name the executor. Action may be left empty when the matching lookup
// decides it.
type Event struct {
	GuildID    string
	Action     actions.Type
	TargetID   string
	ExecutorID string
	Lookups    []AuditLookup
	Metadata   actions.Metadata
}

type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeDisabled
	OutcomeBlacklisted
	OutcomeNoExecutor
	OutcomeExempt
	OutcomeTracked
	OutcomePunished
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDisabled:
		return "disabled"
	case OutcomeBlacklisted:
		return "blacklisted"
	case OutcomeNoExecutor:
		return "no_executor"
	case OutcomeExempt:
		return "exempt"
	case OutcomeTracked:
		return "tracked"
	case OutcomePunished:
		return "punished"
	case OutcomeFailed:
		return "failed"
	default:
		return "ignored"
	}
}

type Options struct {
	DefaultEnabled     bool
	DefaultRevert      bool
	DefaultNotify      bool
	SecurityLogChannel string
	RetentionDays      int
	TrustedUserIDs     []string
	BlacklistedGuilds  []string
}

type Dependencies struct {
	Store     *storage.Store
	Tracker   *tracker.Tracker
	Resolver  *escalation.Resolver
	Executors *ExecutorResolver
	Applier   *Applier
	Reverter  *Reverter
	Directory Directory
	Notifier  Notifier
	Audit     *audit.Logger
}

type Module struct {
	deps        Dependencies
	opts        Options
	logger      *zap.Logger
	clock       Clock
	locks       *keyedMutex
	trusted     map[string]struct{}
	blacklisted map[string]struct{}
}

func New(deps Dependencies, opts Options, logger *zap.Logger) *Module {
	m := &Module{
		deps:        deps,
		opts:        opts,
		logger:      logger,
		clock:       realClock{},
		locks:       newKeyedMutex(),
		trusted:     make(map[string]struct{}, len(opts.TrustedUserIDs)),
		blacklisted: make(map[string]struct{}, len(opts.BlacklistedGuilds)),
	}
	for _, id := range opts.TrustedUserIDs {
		m.trusted[id] = struct{}{}
	}
	for _, id := range opts.BlacklistedGuilds {
		m.blacklisted[id] = struct{}{}
	}
	return m
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

func (m *Module) SetNotifier(notifier Notifier) {
	m.deps.Notifier = notifier
}

func (m *Module) Settings(ctx context.Context, guildID string) storage.GuildSettings {
	defaults := storage.GuildSettings{
		GuildID:            guildID,
		SecurityLogChannel: m.opts.SecurityLogChannel,
		AntiNukeEnabled:    m.opts.DefaultEnabled,
		RevertEnabled:      m.opts.DefaultRevert,
		NotifyOwner:        m.opts.DefaultNotify,
		RetentionDays:      m.opts.RetentionDays,
	}
	settings, err := m.deps.Store.GetGuildSettings(ctx, guildID, defaults)
	if err != nil {
		m.logger.Warn("guild settings fallback", zap.String("guild_id", guildID), zap.Error(err))
		return defaults
	}
	return settings
}

// Handle runs the detection pipeline for one event. Errors never escape:
// each stage logs its own failure and the outcome says how far it got.
func (m *Module) Handle(ctx context.Context, event Event) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("antinuke handler panic",
				zap.String("guild_id", event.GuildID),
				zap.String("action", string(event.Action)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			outcome = OutcomeFailed
		}
	}()

	if event.GuildID == "" {
		return OutcomeIgnored
	}
	settings := m.Settings(ctx, event.GuildID)
	if !settings.AntiNukeEnabled {
		return OutcomeDisabled
	}
	if m.isBlacklisted(ctx, event.GuildID) {
		return OutcomeBlacklisted
	}

	executorID := event.ExecutorID
	if executorID == "" {
		entry, action, ok := m.deps.Executors.Resolve(ctx, event.GuildID, event.TargetID, event.Lookups)
		if !ok {
			m.logger.Debug("no executor resolved", zap.String("guild_id", event.GuildID), zap.String("action", string(event.Action)), zap.String("target_id", event.TargetID))
			return OutcomeNoExecutor
		}
		executorID = entry.ActorID
		if event.Action == "" {
			event.Action = action
		}
		event.Metadata = mergeAudit(event.Metadata, entry)
	}
	if event.Action == "" {
		return OutcomeIgnored
	}
	if event.Metadata.TargetID == "" {
		event.Metadata.TargetID = event.TargetID
	}

	exempt, err := m.isExempt(ctx, event.GuildID, executorID, event.Action)
	if err != nil {
		m.logger.Warn("exemption check failed, dropping event",
			zap.String("guild_id", event.GuildID),
			zap.String("user_id", executorID),
			zap.String("action", string(event.Action)),
			zap.Error(err),
		)
		return OutcomeFailed
	}
	if exempt {
		return OutcomeExempt
	}

	unlock := m.locks.Lock(event.GuildID + ":" + executorID + ":" + string(event.Action))
	defer unlock()

	if err := m.deps.Tracker.TrackAction(ctx, event.GuildID, executorID, event.Action, event.Metadata); err != nil {
		m.logger.Error("track action failed", zap.String("guild_id", event.GuildID), zap.String("user_id", executorID), zap.Error(err))
		return OutcomeFailed
	}

	result, err := m.deps.Tracker.CheckThreshold(ctx, event.GuildID, executorID, event.Action)
	if err != nil {
		m.logger.Error("threshold check failed", zap.String("guild_id", event.GuildID), zap.String("user_id", executorID), zap.Error(err))
		return OutcomeFailed
	}
	if !result.Exceeded {
		return OutcomeTracked
	}

	m.respond(ctx, settings, executorID, event.Action, result)
	return OutcomePunished
}

func (m *Module) respond(ctx context.Context, settings storage.GuildSettings, userID string, action actions.Type, result tracker.Result) {
	guildID := settings.GuildID
	incident := Incident{
		ID:      uuid.NewString(),
		GuildID: guildID,
		UserID:  userID,
		Action:  action,
		Count:   result.Count,
		Limit:   result.Threshold.MaxActions,
		Window:  result.Threshold.Window,
		At:      m.clock.Now(),
	}
	log := m.logger.With(
		zap.String("incident_id", incident.ID),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("action", string(action)),
	)

	decision, err := m.deps.Resolver.Decide(ctx, guildID, userID, result.Threshold.Punishment)
	if err != nil {
		log.Error("escalation lookup failed, using first level", zap.Error(err))
		first := m.deps.Resolver.Table().At(0)
		decision = escalation.Decision{Punishment: first.Punishment, Duration: first.Duration, Escalated: true}
	}
	incident.Level = decision.Level
	incident.Punishment = decision.Punishment
	incident.Duration = decision.Duration

	reason := fmt.Sprintf("anti-nuke: %s limit reached (%d/%d in %s)", action.Label(), result.Count, result.Threshold.MaxActions, result.Threshold.Window)
	incident.Applied = m.deps.Applier.Apply(ctx, guildID, userID, decision.Punishment, decision.Level, decision.Duration, reason)

	if settings.RevertEnabled && m.deps.Reverter != nil {
		events, err := m.deps.Tracker.RecentActions(ctx, guildID, userID, action, result.Threshold.Window)
		if err != nil {
			log.Error("load actions to revert failed", zap.Error(err))
		} else {
			report := m.deps.Reverter.Revert(ctx, guildID, action, events)
			incident.RevertAttempted = report.Attempted
			incident.Reverted = report.Succeeded
		}
	}

	if _, err := m.deps.Tracker.MarkActionsReverted(ctx, guildID, userID, action); err != nil {
		log.Error("mark reverted failed", zap.Error(err))
	}

	total, err := m.deps.Tracker.LogPunishment(ctx, tracker.PunishmentRecord{
		GuildID:         guildID,
		UserID:          userID,
		Action:          action,
		Punishment:      decision.Punishment,
		ActionsReverted: incident.Reverted,
		Reason:          reason,
		Level:           decision.Level,
		Applied:         incident.Applied,
	})
	if err != nil {
		log.Error("log punishment failed", zap.Error(err))
	}
	incident.TotalPunished = total

	if m.deps.Audit != nil {
		detail := fmt.Sprintf("action=%s count=%d threshold=%d punishment=%s level=%d applied=%t reverted=%d incident=%s",
			action, result.Count, result.Threshold.MaxActions, decision.Punishment, decision.Level, incident.Applied, incident.Reverted, incident.ID)
		m.deps.Audit.Log(ctx, audit.LevelCrit, guildID, userID, "anti_nuke", detail)
	}

	if m.deps.Notifier != nil {
		incident.NotifyOwner = settings.NotifyOwner
		m.deps.Notifier.NotifyIncident(ctx, incident)
	}
	log.Info("anti-nuke incident handled",
		zap.String("punishment", string(decision.Punishment)),
		zap.Int("level", decision.Level),
		zap.Bool("applied", incident.Applied),
		zap.Int("reverted", incident.Reverted),
	)
}

func (m *Module) isBlacklisted(ctx context.Context, guildID string) bool {
	if _, ok := m.blacklisted[guildID]; ok {
		return true
	}
	listed, err := m.deps.Store.IsGuildBlacklisted(ctx, guildID)
	if err != nil {
		m.logger.Warn("blacklist lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}
	return listed
}

// isExempt reports an error when the guild owner cannot be determined; the
// owner must never be tracked, so such events are dropped.
func (m *Module) isExempt(ctx context.Context, guildID, userID string, action actions.Type) (bool, error) {
	if userID == m.deps.Directory.SelfID() {
		return true, nil
	}
	if _, ok := m.trusted[userID]; ok {
		return true, nil
	}
	ownerID, err := m.deps.Directory.GuildOwnerID(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("owner lookup: %w", err)
	}
	if ownerID == "" {
		return false, fmt.Errorf("owner lookup: guild %s has no owner", guildID)
	}
	if ownerID == userID {
		return true, nil
	}

	roles, err := m.deps.Directory.MemberRoleIDs(ctx, guildID, userID)
	if err != nil {
		m.logger.Debug("member roles unavailable", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	}
	listed, err := m.deps.Store.IsWhitelisted(ctx, guildID, string(action), userID, roles)
	if err != nil {
		m.logger.Warn("whitelist lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return false, nil
	}
	return listed, nil
}

// Cleanup prunes tracked events and audit rows past the retention period.
// Guilds with their own retention_days are pruned on that, the rest on the
// configured default.
func (m *Module) Cleanup(ctx context.Context) {
	days := m.opts.RetentionDays
	if days <= 0 {
		days = 7
	}
	overrides, err := m.deps.Store.GuildRetentions(ctx, days)
	if err != nil {
		// Without the overrides a global prune could cut a longer retention.
		m.logger.Warn("guild retention lookup failed", zap.Error(err))
		return
	}

	keep := make([]string, 0, len(overrides))
	var removed int64
	for guildID, guildDays := range overrides {
		keep = append(keep, guildID)
		n, err := m.deps.Tracker.PruneGuild(ctx, guildID, retention(guildDays))
		if err != nil {
			m.logger.Warn("prune guild actions failed", zap.String("guild_id", guildID), zap.Error(err))
			continue
		}
		removed += n
		if err := m.deps.Store.CleanupGuildAuditLogs(ctx, guildID, guildDays); err != nil {
			m.logger.Warn("cleanup guild audit logs failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	}

	n, err := m.deps.Tracker.Prune(ctx, retention(days), keep...)
	if err != nil {
		m.logger.Warn("prune actions failed", zap.Error(err))
	}
	removed += n
	if removed > 0 {
		m.logger.Info("pruned action events", zap.Int64("removed", removed), zap.Int("custom_retention_guilds", len(keep)))
	}
	if err := m.deps.Store.CleanupAuditLogs(ctx, days, keep...); err != nil {
		m.logger.Warn("cleanup audit logs failed", zap.Error(err))
	}
}

func retention(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

func mergeAudit(meta actions.Metadata, entry AuditEntry) actions.Metadata {
	meta.AuditEntryID = entry.ID
	if meta.TargetID == "" {
		meta.TargetID = entry.TargetID
	}
	if meta.Name == "" {
		meta.Name = entry.OldName
	}
	if len(meta.RolesAdded) == 0 {
		meta.RolesAdded = entry.RolesAdded
	}
	if len(meta.RolesRemoved) == 0 {
		meta.RolesRemoved = entry.RolesRemoved
	}
	return meta
}
