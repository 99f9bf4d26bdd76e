package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/homedash/internal/metrics"
	"github.com/bryan-buckman/homedash/internal/model"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Defaults used when UnreadOptions leaves a field zero.
const (
	DefaultCacheTTL    = 30 * time.Second
	DefaultDialogLimit = 15
)

// refreshTimeout bounds a shared refresh, session acquisition included.
const refreshTimeout = 2 * time.Minute

// UnreadOptions tunes the unread aggregator.
type UnreadOptions struct {
	TTL         time.Duration
	DialogLimit int
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

type cacheEntry struct {
	chats     []model.UnreadChat
	fetchedAt time.Time
}

// Unread serves unread conversation summaries per dashboard. Results are
// cached for TTL; concurrent refreshes for one dashboard share a single live
// fetch. When a refresh is rate limited the last cached result is served,
// however old. Other failures are returned and leave the cache untouched.
type Unread struct {
	pool   *Pool
	ttl    time.Duration
	limit  int
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
	gen     map[string]uint64
	group   singleflight.Group
}

// NewUnread creates an aggregator backed by pool.
func NewUnread(pool *Pool, opts UnreadOptions) *Unread {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.DialogLimit <= 0 {
		opts.DialogLimit = DefaultDialogLimit
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Unread{
		pool:    pool,
		ttl:     opts.TTL,
		limit:   opts.DialogLimit,
		clock:   opts.Clock,
		logger:  opts.Logger,
		entries: make(map[string]cacheEntry),
		gen:     make(map[string]uint64),
	}
}

// Get returns the unread conversations of dashboard. An empty token yields
// ErrNotConfigured unless a fresh cached result exists.
func (u *Unread) Get(ctx context.Context, dashboard, token string) ([]model.UnreadChat, error) {
	if chats, ok := u.fresh(dashboard); ok {
		metrics.UnreadCacheResults.WithLabelValues("hit").Inc()
		return chats, nil
	}
	if token == "" {
		return nil, ErrNotConfigured
	}
	metrics.UnreadCacheResults.WithLabelValues("miss").Inc()

	u.mu.Lock()
	gen := u.gen[dashboard]
	u.mu.Unlock()

	// The refresh is shared by every caller that joins it, so it must not
	// inherit the first caller's cancellation.
	ch := u.group.DoChan(dashboard, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return u.refresh(ctx, dashboard, token, gen)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	err := res.Err
	if err == nil {
		return res.Val.([]model.UnreadChat), nil
	}

	if IsRateLimited(err) {
		u.mu.Lock()
		entry, ok := u.entries[dashboard]
		u.mu.Unlock()
		if ok {
			metrics.UnreadCacheResults.WithLabelValues("stale").Inc()
			u.logger.Warn("rate limited, serving stale unread",
				"dashboard", dashboard, "age", u.clock.Since(entry.fetchedAt), "error", err)
			return entry.chats, nil
		}
	}
	return nil, err
}

func (u *Unread) fresh(dashboard string) ([]model.UnreadChat, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	entry, ok := u.entries[dashboard]
	if !ok || u.clock.Since(entry.fetchedAt) >= u.ttl {
		return nil, false
	}
	return entry.chats, true
}

func (u *Unread) refresh(ctx context.Context, dashboard, token string, gen uint64) ([]model.UnreadChat, error) {
	// A caller that missed the cache may arrive just after another refresh
	// finished and left the group.
	if chats, ok := u.fresh(dashboard); ok {
		return chats, nil
	}

	client, err := u.pool.Acquire(ctx, dashboard, token)
	if err != nil {
		return nil, err
	}

	authorized, err := client.Authorized(ctx)
	if err != nil {
		metrics.UnreadFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("check authorization: %w", err)
	}
	if !authorized {
		metrics.UnreadFetches.WithLabelValues("expired").Inc()
		return nil, ErrSessionExpired
	}

	dialogs, err := client.RecentDialogs(ctx, u.limit)
	if err != nil {
		status := "error"
		if IsRateLimited(err) {
			status = "rate_limited"
		}
		metrics.UnreadFetches.WithLabelValues(status).Inc()
		return nil, fmt.Errorf("fetch dialogs: %w", err)
	}

	chats := make([]model.UnreadChat, 0, len(dialogs))
	for _, d := range dialogs {
		if d.UnreadCount > 0 {
			chats = append(chats, d.Summary())
		}
	}

	u.mu.Lock()
	if u.gen[dashboard] == gen {
		u.entries[dashboard] = cacheEntry{chats: chats, fetchedAt: u.clock.Now()}
	}
	u.mu.Unlock()

	metrics.UnreadFetches.WithLabelValues("ok").Inc()
	return chats, nil
}

// Invalidate is called after a dashboard's configuration changed. It drops
// the cached result and tears down the pooled session so both are rebuilt
// from the new document on the next request.
func (u *Unread) Invalidate(dashboard string) {
	u.mu.Lock()
	delete(u.entries, dashboard)
	u.gen[dashboard]++
	u.mu.Unlock()
	u.group.Forget(dashboard)

	u.pool.Invalidate(dashboard)
}
