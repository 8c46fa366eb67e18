package antinuke

import (
	"context"
	"strconv"
	"time"

	"aegis-antinuke/internal/actions"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// AuditLookup names one audit-log action code that can explain an event.
// MatchTarget requires the entry's target to equal the event target.
type AuditLookup struct {
	Code        int
	Action      actions.Type
	MatchTarget bool
}

type ExecutorConfig struct {
	MaxAge   time.Duration
	CacheTTL time.Duration
	Limit    int
}

// ExecutorResolver finds who performed an action by reading recent audit-log
// entries. Bursts of events share fetches, and entries already attributed to
// an earlier event are only reused when nothing fresher matches.
type ExecutorResolver struct {
	source   AuditSource
	cfg      ExecutorConfig
	clock    Clock
	logger   *zap.Logger
	group    singleflight.Group
	entries  *expirable.LRU[string, []AuditEntry]
	consumed *expirable.LRU[string, struct{}]
}

func NewExecutorResolver(source AuditSource, cfg ExecutorConfig, logger *zap.Logger) *ExecutorResolver {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	return &ExecutorResolver{
		source:   source,
		cfg:      cfg,
		clock:    realClock{},
		logger:   logger,
		entries:  expirable.NewLRU[string, []AuditEntry](1024, nil, cfg.CacheTTL),
		consumed: expirable.NewLRU[string, struct{}](4096, nil, cfg.MaxAge*2),
	}
}

func (r *ExecutorResolver) WithClock(clock Clock) {
	r.clock = clock
}

// Resolve returns the matching entry and the action type of the lookup that
// produced it.
func (r *ExecutorResolver) Resolve(ctx context.Context, guildID, targetID string, lookups []AuditLookup) (AuditEntry, actions.Type, bool) {
	entry, action, ok, cached := r.match(ctx, guildID, targetID, lookups, false)
	if ok || !cached {
		return entry, action, ok
	}
	entry, action, ok, _ = r.match(ctx, guildID, targetID, lookups, true)
	return entry, action, ok
}

// match reports cached=true when any lookup was answered from the cache, in
// which case a miss is worth a fresh fetch.
func (r *ExecutorResolver) match(ctx context.Context, guildID, targetID string, lookups []AuditLookup, refresh bool) (AuditEntry, actions.Type, bool, bool) {
	now := r.clock.Now()
	cached := false

	var best, fallback AuditEntry
	var bestAction, fallbackAction actions.Type
	for _, lookup := range lookups {
		entries, fromCache, err := r.fetch(ctx, guildID, lookup.Code, refresh)
		cached = cached || fromCache
		if err != nil {
			r.logger.Debug("audit log fetch failed", zap.String("guild_id", guildID), zap.Int("action", lookup.Code), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			if entry.ActorID == "" {
				continue
			}
			if lookup.MatchTarget && targetID != "" && entry.TargetID != targetID {
				continue
			}
			if now.Sub(entry.CreatedAt) > r.cfg.MaxAge {
				continue
			}
			if _, used := r.consumed.Get(entry.ID); used {
				if entry.CreatedAt.After(fallback.CreatedAt) {
					fallback, fallbackAction = entry, lookup.Action
				}
				continue
			}
			if entry.CreatedAt.After(best.CreatedAt) {
				best, bestAction = entry, lookup.Action
			}
		}
	}

	if best.ID != "" {
		r.consumed.Add(best.ID, struct{}{})
		return best, bestAction, true, cached
	}
	if fallback.ID != "" && (refresh || !cached) {
		return fallback, fallbackAction, true, cached
	}
	return AuditEntry{}, "", false, cached
}

func (r *ExecutorResolver) fetch(ctx context.Context, guildID string, code int, refresh bool) ([]AuditEntry, bool, error) {
	key := guildID + ":" + strconv.Itoa(code)
	if !refresh {
		if cached, ok := r.entries.Get(key); ok {
			return cached, true, nil
		}
	}

	value, err, _ := r.group.Do(key, func() (any, error) {
		entries, err := r.source.RecentAuditEntries(ctx, guildID, code, r.cfg.Limit)
		if err != nil {
			return nil, err
		}
		r.entries.Add(key, entries)
		return entries, nil
	})
	if err != nil {
		return nil, false, err
	}
	return value.([]AuditEntry), false, nil
}
