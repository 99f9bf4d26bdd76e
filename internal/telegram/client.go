// Package telegram aggregates unread conversations from the messaging
// account bound to each dashboard. It pools live sessions per dashboard and
// caches results for a short TTL, serving stale data while the service is
// rate limiting us.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryan-buckman/homedash/internal/model"
)

// Client is a live connection to the messaging service. Implementations
// must be safe for concurrent use once connected.
type Client interface {
	// Connect performs the handshake using a persisted session token.
	Connect(ctx context.Context, token string) error
	// Connected reports whether the connection is still up.
	Connected() bool
	// Authorized reports whether the session is still logged in.
	Authorized(ctx context.Context) (bool, error)
	// RecentDialogs returns up to limit most recent conversations, newest first.
	RecentDialogs(ctx context.Context, limit int) ([]model.Dialog, error)
	// Disconnect closes the connection. It is safe to call more than once.
	Disconnect() error
}

// ClientFactory builds a new, unconnected client.
type ClientFactory func() Client

var (
	// ErrNotConfigured means the dashboard has no session token.
	ErrNotConfigured = errors.New("telegram session not configured")
	// ErrSessionExpired means the token no longer authorizes the account and
	// must be regenerated out of band.
	ErrSessionExpired = errors.New("session expired")
	// ErrRateLimited classifies flood-wait responses.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidToken means the stored token cannot be decoded.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrNoAppCredentials means the server has no API id/hash to connect with.
	ErrNoAppCredentials = errors.New("telegram app credentials not configured")
)

// SessionInitError is returned when a session could not be established.
// It is transient: the next request tries again.
type SessionInitError struct {
	Dashboard string
	Err       error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("session init for %s: %v", e.Dashboard, e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// FloodWaitError is a rate-limit response carrying the requested backoff.
type FloodWaitError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %s: %v", e.Wait, e.Err)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *FloodWaitError) Is(target error) bool { return target == ErrRateLimited }

// IsRateLimited reports whether err is a rate-limit classification.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Disabled returns a factory whose clients always fail to connect. It is used
// when the server runs without app credentials.
func Disabled() ClientFactory {
	return func() Client { return disabledClient{} }
}

type disabledClient struct{}

func (disabledClient) Connect(context.Context, string) error    { return ErrNoAppCredentials }
func (disabledClient) Connected() bool                          { return false }
func (disabledClient) Authorized(context.Context) (bool, error) { return false, ErrNoAppCredentials }
func (disabledClient) Disconnect() error                        { return nil }
func (disabledClient) RecentDialogs(context.Context, int) ([]model.Dialog, error) {
	return nil, ErrNoAppCredentials
}
