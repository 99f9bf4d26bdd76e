package calendar

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MaxConcurrencyPerHost limits parallel requests to any single host.
const MaxConcurrencyPerHost = 2

// maxDocumentSize bounds how much of a calendar response is read.
const maxDocumentSize = 10 << 20

// DefaultFetchTimeout bounds a single calendar fetch.
const DefaultFetchTimeout = 20 * time.Second

// NewHTTPClient returns the client used for calendar sources. Dials try IPv4
// first and fall back to the requested network; idle connections are reused.
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, "tcp4", addr)
			if err == nil {
				return conn, nil
			}
			return dialer.DialContext(ctx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   MaxConcurrencyPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// hostLimiter controls concurrency per host to avoid hammering one server
// when several calendars live on it.
type hostLimiter struct {
	mu         sync.Mutex
	semaphores map[string]chan struct{}
}

func newHostLimiter() *hostLimiter {
	return &hostLimiter{semaphores: make(map[string]chan struct{})}
}

// acquire gets a slot for the host, blocking if necessary.
func (hl *hostLimiter) acquire(ctx context.Context, host string) error {
	hl.mu.Lock()
	sem, ok := hl.semaphores[host]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerHost)
		hl.semaphores[host] = sem
	}
	hl.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release returns a slot for the host.
func (hl *hostLimiter) release(host string) {
	hl.mu.Lock()
	sem := hl.semaphores[host]
	hl.mu.Unlock()
	if sem != nil {
		<-sem
	}
}

// normalizeURL rewrites webcal:// links, which are plain HTTPS in practice.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "webcal://"); ok {
		return "https://" + rest
	}
	return raw
}

// extractHost gets the host from a URL.
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL // fallback to full URL
	}
	return u.Host
}

func (a *Aggregator) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	host := extractHost(rawURL)
	if err := a.limiter.acquire(ctx, host); err != nil {
		return nil, fmt.Errorf("wait for %s: %w", host, err)
	}
	defer a.limiter.release(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar, application/rss+xml, application/atom+xml;q=0.9, */*;q=0.5")
	req.Header.Set("User-Agent", "homedash/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
