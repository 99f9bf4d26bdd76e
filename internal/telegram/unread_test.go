package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/homedash/internal/model"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUnread(svc *fakeService, clock clockwork.Clock) *Unread {
	return NewUnread(newTestPool(svc, 1), UnreadOptions{
		TTL:         30 * time.Second,
		DialogLimit: 15,
		Clock:       clock,
		Logger:      discardLogger(),
	})
}

func sampleDialogs() []model.Dialog {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return []model.Dialog{
		{ID: "3", LastMsgID: 30, Title: "Ops", UnreadCount: 2, LastMessage: "disk full", Date: at},
		{ID: "1", LastMsgID: 10, Title: "Mom", UnreadCount: 0, LastMessage: "ok", Date: at},
		{ID: "2", LastMsgID: 20, Title: "", UnreadCount: 5, Date: at},
	}
}

func TestUnread_FiltersAndKeepsOrder(t *testing.T) {
	svc := newFakeService()
	svc.dialogs = sampleDialogs()
	u := newTestUnread(svc, clockwork.NewFakeClock())

	chats, err := u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "3", chats[0].ID)
	assert.Equal(t, "disk full", chats[0].Message)
	assert.Equal(t, "2", chats[1].ID)
	assert.Equal(t, "Unknown", chats[1].Name)
	assert.Equal(t, "[Media]", chats[1].Message)
}

func TestUnread_RespectsDialogLimit(t *testing.T) {
	svc := newFakeService()
	for i := 0; i < 30; i++ {
		svc.dialogs = append(svc.dialogs, model.Dialog{ID: "x", UnreadCount: 1})
	}
	u := newTestUnread(svc, clockwork.NewFakeClock())

	chats, err := u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)
	assert.Len(t, chats, 15)
}

func TestUnread_NotConfigured(t *testing.T) {
	svc := newFakeService()
	u := newTestUnread(svc, clockwork.NewFakeClock())

	_, err := u.Get(context.Background(), "lab", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, int32(0), svc.connects.Load())
}

func TestUnread_CacheWithinTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := newFakeService()
	svc.dialogs = sampleDialogs()
	u := newTestUnread(svc, clock)

	_, err := u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)
	clock.Advance(29 * time.Second)
	_, err = u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)
	assert.Equal(t, int32(1), svc.fetches.Load(), "second request inside TTL must not fetch")

	clock.Advance(time.Second)
	_, err = u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.fetches.Load(), "expired entry must refresh")
}

func TestUnread_ConcurrentRequestsShareOneFetch(t *testing.T) {
	svc := newFakeService()
	svc.dialogs = sampleDialogs()
	svc.block = make(chan struct{})
	u := newTestUnread(svc, clockwork.NewFakeClock())

	var wg sync.WaitGroup
	results := make([][]model.UnreadChat, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chats, err := u.Get(context.Background(), "lab", "token")
			assert.NoError(t, err)
			results[i] = chats
		}(i)
	}

	require.Eventually(t, func() bool { return svc.fetches.Load() == 1 }, time.Second, time.Millisecond)
	// Give the other goroutines time to join the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	close(svc.block)
	wg.Wait()

	assert.Equal(t, int32(1), svc.fetches.Load())
	for _, chats := range results {
		assert.Len(t, chats, 2)
	}
}

func TestUnread_StaleOnRateLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := newFakeService()
	svc.dialogs = sampleDialogs()
	u := newTestUnread(svc, clock)

	first, err := u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	svc.set(func(s *fakeService) {
		s.dialogs = nil
		s.fetchErr = &FloodWaitError{Wait: 30 * time.Second, Err: errors.New("FLOOD_WAIT_30")}
	})

	got, err := u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, int32(2), svc.fetches.Load())
}

func TestUnread_RateLimitWithoutCacheFails(t *testing.T) {
	svc := newFakeService()
	svc.fetchErr = &FloodWaitError{Err: errors.New("FLOOD_WAIT_30")}
	u := newTestUnread(svc, clockwork.NewFakeClock())

	_, err := u.Get(context.Background(), "lab", "token")
	assert.True(t, IsRateLimited(err))
}

func TestUnread_OtherErrorsDoNotPoisonCache(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := newFakeService()
	svc.dialogs = sampleDialogs()
	u := newTestUnread(svc, clock)

	first, err := u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	boom := errors.New("connection reset")
	svc.set(func(s *fakeService) { s.fetchErr = boom })
	_, err = u.Get(context.Background(), "lab", "token")
	assert.ErrorIs(t, err, boom)

	svc.set(func(s *fakeService) { s.fetchErr = nil })
	// Still stale, so the next call refreshes and sees the same data.
	got, err := u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, int32(3), svc.fetches.Load())
}

func TestUnread_SessionExpired(t *testing.T) {
	svc := newFakeService()
	svc.authorized = false
	u := newTestUnread(svc, clockwork.NewFakeClock())

	_, err := u.Get(context.Background(), "lab", "token")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), svc.fetches.Load())
}

func TestUnread_SessionInitFailure(t *testing.T) {
	svc := newFakeService()
	svc.connectFail = 5
	u := newTestUnread(svc, clockwork.NewFakeClock())

	_, err := u.Get(context.Background(), "lab", "token")
	var initErr *SessionInitError
	assert.ErrorAs(t, err, &initErr)
}

func TestUnread_InvalidateForcesFreshFetchAndReconnect(t *testing.T) {
	svc := newFakeService()
	svc.dialogs = sampleDialogs()
	u := newTestUnread(svc, clockwork.NewFakeClock())

	_, err := u.Get(context.Background(), "lab", "old")
	require.NoError(t, err)
	oldClient := svc.clients[0]

	u.Invalidate("lab")
	assert.False(t, oldClient.Connected(), "pooled session must be torn down")
	assert.Equal(t, int32(1), svc.disconnects.Load())

	_, err = u.Get(context.Background(), "lab", "new")
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.fetches.Load(), "no cache hit after invalidation")
	assert.Equal(t, []string{"old", "new"}, svc.tokens)
}

func TestUnread_DashboardsAreIsolated(t *testing.T) {
	svc := newFakeService()
	svc.dialogs = sampleDialogs()
	u := newTestUnread(svc, clockwork.NewFakeClock())

	_, err := u.Get(context.Background(), "a", "token")
	require.NoError(t, err)
	_, err = u.Get(context.Background(), "b", "token")
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.fetches.Load())

	u.Invalidate("a")
	_, err = u.Get(context.Background(), "b", "token")
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.fetches.Load(), "b stays cached")
}

func TestUnread_CancelledCallerDoesNotFailJoinedRequests(t *testing.T) {
	svc := newFakeService()
	svc.dialogs = sampleDialogs()
	svc.block = make(chan struct{})
	u := newTestUnread(svc, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := u.Get(ctx, "lab", "token")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return svc.fetches.Load() == 1 }, time.Second, time.Millisecond)

	joined := make(chan []model.UnreadChat, 1)
	go func() {
		chats, err := u.Get(context.Background(), "lab", "token")
		assert.NoError(t, err)
		joined <- chats
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(svc.block)
	assert.Len(t, <-joined, 2)
	assert.Equal(t, int32(1), svc.fetches.Load())

	chats, err := u.Get(context.Background(), "lab", "token")
	require.NoError(t, err)
	assert.Len(t, chats, 2)
	assert.Equal(t, int32(1), svc.fetches.Load(), "shared result is cached")
}
