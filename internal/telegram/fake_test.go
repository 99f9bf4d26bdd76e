package telegram

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bryan-buckman/homedash/internal/model"
)

// fakeService is the shared backend behind every fakeClient built by its
// factory. Tests script responses on it and count calls.
type fakeService struct {
	mu          sync.Mutex
	dialogs     []model.Dialog
	fetchErr    error
	connectErr  error
	connectFail int // fail this many connects before succeeding
	authorized  bool
	// block and connectBlock, if set, are waited on inside RecentDialogs and
	// Connect. Both give up when the call's context ends.
	block        chan struct{}
	connectBlock chan struct{}

	connects    atomic.Int32
	fetches     atomic.Int32
	disconnects atomic.Int32
	tokens      []string
	clients     []*fakeClient
}

func newFakeService() *fakeService {
	return &fakeService{authorized: true}
}

func (s *fakeService) factory() ClientFactory {
	return func() Client {
		c := &fakeClient{svc: s}
		s.mu.Lock()
		s.clients = append(s.clients, c)
		s.mu.Unlock()
		return c
	}
}

func (s *fakeService) set(fn func(s *fakeService)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

type fakeClient struct {
	svc       *fakeService
	mu        sync.Mutex
	connected bool
}

func (c *fakeClient) Connect(ctx context.Context, token string) error {
	c.svc.connects.Add(1)
	c.svc.mu.Lock()
	block := c.svc.connectBlock
	c.svc.mu.Unlock()
	if err := blockUntil(ctx, block); err != nil {
		return err
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	c.svc.tokens = append(c.svc.tokens, token)
	if c.svc.connectFail > 0 {
		c.svc.connectFail--
		return io.ErrUnexpectedEOF
	}
	if c.svc.connectErr != nil {
		return c.svc.connectErr
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Authorized(context.Context) (bool, error) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	return c.svc.authorized, nil
}

func (c *fakeClient) RecentDialogs(ctx context.Context, limit int) ([]model.Dialog, error) {
	c.svc.fetches.Add(1)
	c.svc.mu.Lock()
	block := c.svc.block
	c.svc.mu.Unlock()
	if err := blockUntil(ctx, block); err != nil {
		return nil, err
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if c.svc.fetchErr != nil {
		return nil, c.svc.fetchErr
	}
	dialogs := c.svc.dialogs
	if len(dialogs) > limit {
		dialogs = dialogs[:limit]
	}
	return dialogs, nil
}

func (c *fakeClient) Disconnect() error {
	c.svc.disconnects.Add(1)
	c.drop()
	return nil
}

func blockUntil(ctx context.Context, block chan struct{}) error {
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
