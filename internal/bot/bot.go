package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aegis-antinuke/internal/actions"
	"aegis-antinuke/internal/analytics"
	"aegis-antinuke/internal/config"
	"aegis-antinuke/internal/escalation"
	"aegis-antinuke/internal/modules/antinuke"
	"aegis-antinuke/internal/modules/audit"
	"aegis-antinuke/internal/storage"
	"aegis-antinuke/internal/tracker"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const eventTimeout = 2 * time.Minute

type Bot struct {
	cfg         config.Config
	logger      *zap.Logger
	store       *storage.Store
	audit       *audit.Logger
	analytics   *analytics.Service
	session     *discordgo.Session
	discord     *discordClient
	tracker     *tracker.Tracker
	escalator   *escalation.Resolver
	antinuke    *antinuke.Module
	snapshots   *antinuke.SnapshotCache
	stop        chan struct{}
	stopOnce    sync.Once
	janitorDone chan struct{}
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildEmojis |
		discordgo.IntentsGuildIntegrations |
		discordgo.IntentsGuildWebhooks

	table, err := escalation.ParseTable(cfg.AntiNuke.Escalation)
	if err != nil {
		return nil, fmt.Errorf("escalation table: %w", err)
	}
	snapshots, err := antinuke.NewSnapshotCache(cfg.AntiNuke.SnapshotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}

	colors := embedColors{
		action:  cfg.Notifications.EmbedColors.Action,
		warning: cfg.Notifications.EmbedColors.Warning,
		err:     cfg.Notifications.EmbedColors.Error,
	}
	discord := newDiscordClient(session, colors)
	nukeLogger := logger.Named("antinuke")
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }

	tr := tracker.New(store, seconds(cfg.AntiNuke.DefaultWindowSeconds))
	escalator := escalation.NewResolver(store, table, time.Duration(cfg.AntiNuke.TimeoutMinutes)*time.Minute)

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
		discord:   discord,
		tracker:   tr,
		escalator: escalator,
		snapshots: snapshots,
		stop:      make(chan struct{}),
	}

	b.antinuke = antinuke.New(antinuke.Dependencies{
		Store:    store,
		Tracker:  tr,
		Resolver: escalator,
		Executors: antinuke.NewExecutorResolver(discord, antinuke.ExecutorConfig{
			MaxAge:   seconds(cfg.AntiNuke.AuditMaxAgeSeconds),
			CacheTTL: seconds(cfg.AntiNuke.AuditCacheSeconds),
			Limit:    cfg.AntiNuke.AuditLookupLimit,
		}, nukeLogger.Named("executor")),
		Applier:   antinuke.NewApplier(discord, nukeLogger.Named("punish")),
		Reverter:  antinuke.NewReverter(discord, discord, cfg.AntiNuke.RevertRatePerSecond, cfg.AntiNuke.RevertBurst, nukeLogger.Named("revert")),
		Directory: discord,
		Notifier:  b,
		Audit:     auditLogger,
	}, antinuke.Options{
		DefaultEnabled:     cfg.AntiNuke.EnabledByDefault,
		DefaultRevert:      cfg.AntiNuke.RevertByDefault,
		DefaultNotify:      cfg.AntiNuke.NotifyOwner,
		SecurityLogChannel: cfg.DefaultSecurityLogChannel,
		RetentionDays:      cfg.RetentionDays,
		TrustedUserIDs:     cfg.AntiNuke.TrustedUserIDs,
		BlacklistedGuilds:  cfg.AntiNuke.BlacklistedGuilds,
	}, nukeLogger)

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			// Incidents get their own embed from NotifyIncident.
			if !b.cfg.Notifications.AuditToChannel || entry.Event == "anti_nuke" {
				return
			}
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onChannelUpdate)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onRoleUpdate)
	b.session.AddHandler(b.onWebhooksUpdate)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onGuildEmojisUpdate)
	b.session.AddHandler(b.onGuildStickersUpdate)
	b.session.AddHandler(b.onGuildIntegrationsUpdate)
	b.session.AddHandler(b.onGuildUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startJanitor()

	return nil
}

// Close stops the janitor, waiting for a running cleanup until ctx is done,
// then closes the gateway session.
func (b *Bot) Close(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.stop) })
	if b.janitorDone != nil {
		select {
		case <-b.janitorDone:
		case <-ctx.Done():
			b.logger.Warn("janitor did not stop before shutdown deadline", zap.Error(ctx.Err()))
		}
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

// onGuildCreate primes the snapshot cache and gives new guilds the default
// thresholds.
func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Guild.Unavailable {
		return
	}
	for _, ch := range event.Guild.Channels {
		if ch == nil {
			continue
		}
		snap := channelSnapshot(ch)
		snap.GuildID = event.Guild.ID
		b.snapshots.PutChannel(snap)
	}
	for _, role := range event.Guild.Roles {
		if role == nil {
			continue
		}
		b.snapshots.PutRole(roleSnapshot(event.Guild.ID, role))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	seeded, err := b.store.SeedThresholds(ctx, event.Guild.ID, defaultThresholds(event.Guild.ID, b.cfg.AntiNuke.DefaultThresholds))
	if err != nil {
		b.logger.Warn("seed thresholds failed", zap.String("guild_id", event.Guild.ID), zap.Error(err))
		return
	}
	if seeded > 0 {
		b.logger.Info("seeded default thresholds", zap.String("guild_id", event.Guild.ID), zap.Int("count", seeded))
	}
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if event, ok := mentionEvent(msg); ok {
		b.dispatch(event)
	}
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.GuildID == "" {
		return
	}
	if nuke, ok := botAddEvent(event.Member); ok {
		b.dispatch(nuke)
	}
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	b.dispatch(memberRemoveEvent(event.GuildID, event.User.ID))
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.GuildID == "" {
		return
	}
	if nuke, ok := memberRoleEvent(event); ok {
		b.dispatch(nuke)
	}
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.snapshots.PutChannel(channelSnapshot(event.Channel))
	b.dispatch(channelCreateEvent(event.Channel))
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	var cached *actions.ChannelSnapshot
	if snap, ok := b.snapshots.TakeChannel(event.Channel.ID); ok {
		cached = &snap
	}
	b.dispatch(channelDeleteEvent(event.Channel, cached))
}

func (b *Bot) onChannelUpdate(session *discordgo.Session, event *discordgo.ChannelUpdate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	var prev *actions.ChannelSnapshot
	if snap, ok := b.snapshots.SwapChannel(channelSnapshot(event.Channel)); ok {
		prev = &snap
	}
	b.dispatch(channelUpdateEvent(event.Channel, prev))
}

func (b *Bot) onRoleCreate(session *discordgo.Session, event *discordgo.GuildRoleCreate) {
	if event.GuildID == "" || event.Role == nil {
		return
	}
	b.snapshots.PutRole(roleSnapshot(event.GuildID, event.Role))
	b.dispatch(roleCreateEvent(event.GuildID, event.Role))
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	if event.GuildID == "" || event.RoleID == "" {
		return
	}
	var cached *actions.RoleSnapshot
	if snap, ok := b.snapshots.TakeRole(event.RoleID); ok {
		cached = &snap
	}
	b.dispatch(roleDeleteEvent(event.GuildID, event.RoleID, cached))
}

func (b *Bot) onRoleUpdate(session *discordgo.Session, event *discordgo.GuildRoleUpdate) {
	if event.GuildID == "" || event.Role == nil {
		return
	}
	var prev *actions.RoleSnapshot
	if snap, ok := b.snapshots.SwapRole(roleSnapshot(event.GuildID, event.Role)); ok {
		prev = &snap
	}
	b.dispatch(roleUpdateEvent(event.GuildID, event.Role, prev))
}

func (b *Bot) onWebhooksUpdate(session *discordgo.Session, event *discordgo.WebhooksUpdate) {
	if event.GuildID == "" {
		return
	}
	b.dispatch(webhooksEvent(event.GuildID))
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	b.dispatch(banEvent(event.GuildID, event.User.ID))
}

func (b *Bot) onGuildEmojisUpdate(session *discordgo.Session, event *discordgo.GuildEmojisUpdate) {
	if event.GuildID == "" {
		return
	}
	b.dispatch(emojisEvent(event.GuildID))
}

func (b *Bot) onGuildStickersUpdate(session *discordgo.Session, event *discordgo.GuildStickersUpdate) {
	if event.GuildID == "" {
		return
	}
	b.dispatch(stickersEvent(event.GuildID))
}

func (b *Bot) onGuildIntegrationsUpdate(session *discordgo.Session, event *discordgo.GuildIntegrationsUpdate) {
	if event.GuildID == "" {
		return
	}
	b.dispatch(integrationsEvent(event.GuildID))
}

func (b *Bot) onGuildUpdate(session *discordgo.Session, event *discordgo.GuildUpdate) {
	if event.Guild == nil || event.Guild.ID == "" {
		return
	}
	b.dispatch(guildUpdateEvent(event.Guild))
}

// dispatch runs the pipeline on the handler goroutine discordgo gave us.
func (b *Bot) dispatch(event antinuke.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	outcome := b.antinuke.Handle(ctx, event)
	b.logger.Debug("antinuke event",
		zap.String("guild_id", event.GuildID),
		zap.String("action", string(event.Action)),
		zap.String("target_id", event.TargetID),
		zap.String("outcome", outcome.String()),
	)
}

func (b *Bot) startJanitor() {
	b.startJanitorEvery(time.Hour)
}

func (b *Bot) startJanitorEvery(interval time.Duration) {
	done := make(chan struct{})
	b.janitorDone = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				b.antinuke.Cleanup(ctx)
				cancel()
			}
		}
	}()
}

func (b *Bot) guildSettings(ctx context.Context, guildID string) storage.GuildSettings {
	return b.antinuke.Settings(ctx, guildID)
}

func (b *Bot) securityChannel(ctx context.Context, guildID string) string {
	settings := b.guildSettings(ctx, guildID)
	if settings.SecurityLogChannel != "" {
		return settings.SecurityLogChannel
	}
	return b.cfg.DefaultSecurityLogChannel
}

func (b *Bot) sendSecurityEmbed(ctx context.Context, guildID string, embed *discordgo.MessageEmbed) {
	channelID := b.securityChannel(ctx, guildID)
	if channelID == "" || embed == nil {
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn("security embed failed", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func defaultThresholds(guildID string, defaults []config.ThresholdDefault) []storage.Threshold {
	out := make([]storage.Threshold, 0, len(defaults))
	for _, item := range defaults {
		out = append(out, storage.Threshold{
			GuildID:        guildID,
			ActionType:     item.Action,
			MaxActions:     item.MaxActions,
			WindowSeconds:  item.WindowSeconds,
			PunishmentType: item.Punishment,
		})
	}
	return out
}
