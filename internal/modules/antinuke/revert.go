package antinuke

import (
	"context"
	"sort"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/tracker"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const revertReason = "anti-nuke: reverting unauthorized action"

type RevertReport struct {
	Attempted int
	Succeeded int
	Skipped   int
}

type revertStep struct {
	name string
	run  func(ctx context.Context) error
}

// Reverter undoes tracked actions with compensating REST calls. Calls are
// paced by a token bucket so a large cleanup stays under Discord's limits.
type Reverter struct {
	restorer  Restorer
	moderator Moderator
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func NewReverter(restorer Restorer, moderator Moderator, perSecond float64, burst int, logger *zap.Logger) *Reverter {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &Reverter{
		restorer:  restorer,
		moderator: moderator,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:    logger,
	}
}

// Revert runs every step it can for events, newest first. Events that
// restore a previous state keep only the oldest one per target, so a target
// edited several times ends up in its state from before the burst. A
// cancelled context stops the remaining steps; individual failures are
// logged and skipped.
func (r *Reverter) Revert(ctx context.Context, guildID string, action actions.Type, events []tracker.ActionEvent) RevertReport {
	var report RevertReport
	ordered, collapsed := revertOrder(guildID, action, events)
	report.Skipped += collapsed
	for _, event := range ordered {
		steps := r.plan(guildID, action, event.Metadata)
		if len(steps) == 0 {
			report.Skipped++
			continue
		}
		for _, step := range steps {
			if err := r.limiter.Wait(ctx); err != nil {
				r.logger.Warn("revert interrupted", zap.String("guild_id", guildID), zap.String("action", string(action)), zap.Error(err))
				return report
			}
			report.Attempted++
			if err := step.run(ctx); err != nil {
				r.logger.Warn("revert step failed",
					zap.String("guild_id", guildID),
					zap.String("action", string(action)),
					zap.String("step", step.name),
					zap.Int64("event_id", event.ID),
					zap.Error(err),
				)
				continue
			}
			report.Succeeded++
		}
	}
	return report
}

// revertOrder sorts events newest first and drops every restore event that
// an older event for the same target supersedes. It returns how many were
// dropped.
func revertOrder(guildID string, action actions.Type, events []tracker.ActionEvent) ([]tracker.ActionEvent, int) {
	oldestFirst := make([]tracker.ActionEvent, len(events))
	copy(oldestFirst, events)
	sort.SliceStable(oldestFirst, func(i, j int) bool {
		a, b := oldestFirst[i], oldestFirst[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})

	seen := make(map[string]struct{})
	kept := make([]tracker.ActionEvent, 0, len(oldestFirst))
	dropped := 0
	for _, event := range oldestFirst {
		if key, ok := restoreTarget(guildID, action, event.Metadata); ok {
			if _, dup := seen[key]; dup {
				dropped++
				continue
			}
			seen[key] = struct{}{}
		}
		kept = append(kept, event)
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, dropped
}

// restoreTarget names the object a state-restoring event writes back to.
// Creates, deletes, role grants and events without a saved state report
// false.
func restoreTarget(guildID string, action actions.Type, meta actions.Metadata) (string, bool) {
	target := meta.TargetID
	switch action {
	case actions.ChannelUpdate:
		if meta.Channel == nil {
			return "", false
		}
		if meta.Channel.ID != "" {
			target = meta.Channel.ID
		}
	case actions.RoleUpdate:
		if meta.Role == nil {
			return "", false
		}
		if meta.Role.ID != "" {
			target = meta.Role.ID
		}
	case actions.WebhookUpdate, actions.EmojiUpdate:
		if meta.Name == "" {
			return "", false
		}
	case actions.GuildUpdate:
		if meta.Name == "" {
			return "", false
		}
		target = guildID
	default:
		return "", false
	}
	if target == "" {
		return "", false
	}
	return target, true
}

func (r *Reverter) plan(guildID string, action actions.Type, meta actions.Metadata) []revertStep {
	target := meta.TargetID

	switch action {
	case actions.ChannelCreate:
		if target == "" {
			return nil
		}
		return []revertStep{{"delete_channel", func(ctx context.Context) error {
			return r.restorer.DeleteChannel(ctx, target, revertReason)
		}}}
	case actions.ChannelDelete:
		if meta.Channel == nil {
			return nil
		}
		snap := *meta.Channel
		return []revertStep{{"recreate_channel", func(ctx context.Context) error {
			return r.restorer.CreateChannel(ctx, snap, revertReason)
		}}}
	case actions.ChannelUpdate:
		if meta.Channel == nil {
			return nil
		}
		snap := *meta.Channel
		return []revertStep{{"restore_channel", func(ctx context.Context) error {
			return r.restorer.EditChannel(ctx, snap, revertReason)
		}}}
	case actions.RoleCreate:
		if target == "" {
			return nil
		}
		return []revertStep{{"delete_role", func(ctx context.Context) error {
			return r.restorer.DeleteRole(ctx, guildID, target, revertReason)
		}}}
	case actions.RoleDelete:
		if meta.Role == nil || meta.Role.Managed {
			return nil
		}
		snap := *meta.Role
		return []revertStep{{"recreate_role", func(ctx context.Context) error {
			return r.restorer.CreateRole(ctx, snap, revertReason)
		}}}
	case actions.RoleUpdate:
		if meta.Role == nil {
			return nil
		}
		snap := *meta.Role
		return []revertStep{{"restore_role", func(ctx context.Context) error {
			return r.restorer.EditRole(ctx, snap, revertReason)
		}}}
	case actions.WebhookCreate:
		if target == "" {
			return nil
		}
		return []revertStep{{"delete_webhook", func(ctx context.Context) error {
			return r.restorer.DeleteWebhook(ctx, target, revertReason)
		}}}
	case actions.WebhookUpdate:
		if target == "" || meta.Name == "" {
			return nil
		}
		name, channelID := meta.Name, meta.ChannelID
		return []revertStep{{"restore_webhook", func(ctx context.Context) error {
			return r.restorer.RestoreWebhook(ctx, target, name, channelID, revertReason)
		}}}
	case actions.MemberBan:
		if target == "" {
			return nil
		}
		return []revertStep{{"unban_member", func(ctx context.Context) error {
			return r.restorer.UnbanMember(ctx, guildID, target, revertReason)
		}}}
	case actions.BotAdd:
		if target == "" {
			return nil
		}
		return []revertStep{{"kick_bot", func(ctx context.Context) error {
			return r.moderator.KickMember(ctx, guildID, target, revertReason)
		}}}
	case actions.EmojiCreate:
		if target == "" {
			return nil
		}
		return []revertStep{{"delete_emoji", func(ctx context.Context) error {
			return r.restorer.DeleteEmoji(ctx, guildID, target, revertReason)
		}}}
	case actions.EmojiUpdate:
		if target == "" || meta.Name == "" {
			return nil
		}
		name := meta.Name
		return []revertStep{{"rename_emoji", func(ctx context.Context) error {
			return r.restorer.RenameEmoji(ctx, guildID, target, name, revertReason)
		}}}
	case actions.Integration:
		if target == "" {
			return nil
		}
		return []revertStep{{"delete_integration", func(ctx context.Context) error {
			return r.restorer.DeleteIntegration(ctx, guildID, target, revertReason)
		}}}
	case actions.EveryoneMention:
		if meta.ChannelID == "" || meta.MessageID == "" {
			return nil
		}
		channelID, messageID := meta.ChannelID, meta.MessageID
		return []revertStep{{"delete_message", func(ctx context.Context) error {
			return r.restorer.DeleteMessage(ctx, channelID, messageID, revertReason)
		}}}
	case actions.MemberRoleUpdate:
		if target == "" {
			return nil
		}
		var steps []revertStep
		for _, roleID := range meta.RolesAdded {
			roleID := roleID
			steps = append(steps, revertStep{"remove_member_role", func(ctx context.Context) error {
				return r.restorer.RemoveMemberRole(ctx, guildID, target, roleID, revertReason)
			}})
		}
		for _, roleID := range meta.RolesRemoved {
			roleID := roleID
			steps = append(steps, revertStep{"add_member_role", func(ctx context.Context) error {
				return r.restorer.AddMemberRole(ctx, guildID, target, roleID, revertReason)
			}})
		}
		return steps
	case actions.GuildUpdate:
		if meta.Name == "" {
			return nil
		}
		name := meta.Name
		return []revertStep{{"rename_guild", func(ctx context.Context) error {
			return r.restorer.RenameGuild(ctx, guildID, name, revertReason)
		}}}
	default:
		// Kicks, prunes, webhook and emoji deletions and sticker changes
		// cannot be undone through the API.
		return nil
	}
}
