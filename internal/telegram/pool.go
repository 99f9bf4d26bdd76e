package telegram

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/homedash/internal/metrics"
	"github.com/bryan-buckman/homedash/internal/retry"
	"golang.org/x/sync/singleflight"
)

// connectTimeout bounds a shared handshake, retries included.
const connectTimeout = time.Minute

// errInvalidated is returned to callers whose handshake raced a config change.
var errInvalidated = errors.New("configuration changed during connect")

// Pool holds at most one live client per dashboard. Clients are built lazily
// from the persisted token and reused while they report themselves connected.
// The pool owns client lifetime: callers never disconnect what Acquire returns.
//
// The pool starts empty and entries leave it only through Invalidate or
// Close; a restart loses every session and costs one handshake each.
type Pool struct {
	newClient ClientFactory
	policy    retry.Policy
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]Client
	// gen is bumped by Invalidate so that a handshake started before the
	// invalidation does not install its client afterwards.
	gen   map[string]uint64
	group singleflight.Group
}

// NewPool creates a pool that makes up to attempts handshake attempts per
// acquisition.
func NewPool(newClient ClientFactory, attempts int, logger *slog.Logger) *Pool {
	return &Pool{
		newClient: newClient,
		policy: retry.Policy{
			MaxAttempts:      attempts,
			InitialBackoff:   500 * time.Millisecond,
			RateLimitBackoff: 5 * time.Second,
		},
		logger:   logger,
		sessions: make(map[string]Client),
		gen:      make(map[string]uint64),
	}
}

// Acquire returns the pooled client for dashboard, connecting a new one when
// none exists or the existing one dropped. The handshake is shared with
// concurrent callers and outlives a caller that gives up; such a caller gets
// its context error. Other failures are *SessionInitError.
func (p *Pool) Acquire(ctx context.Context, dashboard, token string) (Client, error) {
	p.mu.Lock()
	if c, ok := p.sessions[dashboard]; ok && c.Connected() {
		p.mu.Unlock()
		return c, nil
	}
	gen := p.gen[dashboard]
	p.mu.Unlock()

	ch := p.group.DoChan(dashboard, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), connectTimeout)
		defer cancel()
		return p.connect(ctx, dashboard, token, gen)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Client), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) connect(ctx context.Context, dashboard, token string, gen uint64) (Client, error) {
	policy := p.policy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		p.logger.Debug("session connect retry", "dashboard", dashboard, "attempt", attempt, "backoff", backoff, "error", err)
	}

	client, err := retry.Do(ctx, policy, classifyConnect, func(ctx context.Context) (Client, error) {
		c := p.newClient()
		if err := c.Connect(ctx, token); err != nil {
			_ = c.Disconnect()
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		metrics.SessionConnects.WithLabelValues("error").Inc()
		p.logger.Warn("session init failed", "dashboard", dashboard, "error", err)
		return nil, &SessionInitError{Dashboard: dashboard, Err: err}
	}

	p.mu.Lock()
	if p.gen[dashboard] != gen {
		p.mu.Unlock()
		_ = client.Disconnect()
		return nil, &SessionInitError{Dashboard: dashboard, Err: errInvalidated}
	}
	prev := p.sessions[dashboard]
	p.sessions[dashboard] = client
	metrics.PooledSessions.Set(float64(len(p.sessions)))
	p.mu.Unlock()

	if prev != nil {
		if err := prev.Disconnect(); err != nil {
			p.logger.Debug("disconnect replaced session", "dashboard", dashboard, "error", err)
		}
	}
	metrics.SessionConnects.WithLabelValues("ok").Inc()
	p.logger.Info("session connected", "dashboard", dashboard)
	return client, nil
}

func classifyConnect(err error) retry.Action {
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrNoAppCredentials), errors.Is(err, ErrSessionExpired):
		return retry.Stop
	case IsRateLimited(err):
		return retry.After
	default:
		return retry.Retry
	}
}

// Invalidate disconnects and removes the dashboard's client, if any. The next
// Acquire performs a fresh handshake with whatever token it is given.
func (p *Pool) Invalidate(dashboard string) {
	p.mu.Lock()
	p.gen[dashboard]++
	client, ok := p.sessions[dashboard]
	delete(p.sessions, dashboard)
	metrics.PooledSessions.Set(float64(len(p.sessions)))
	p.mu.Unlock()
	p.group.Forget(dashboard)

	if !ok {
		return
	}
	if err := client.Disconnect(); err != nil {
		p.logger.Warn("disconnect session", "dashboard", dashboard, "error", err)
		return
	}
	p.logger.Info("session dropped", "dashboard", dashboard)
}

// Len returns the number of pooled clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close disconnects every pooled client.
func (p *Pool) Close() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]Client)
	for dashboard := range sessions {
		p.gen[dashboard]++
	}
	metrics.PooledSessions.Set(0)
	p.mu.Unlock()

	for dashboard, client := range sessions {
		if err := client.Disconnect(); err != nil {
			p.logger.Warn("disconnect session", "dashboard", dashboard, "error", err)
		}
	}
}
