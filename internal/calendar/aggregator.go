// Package calendar merges a dashboard's manual events with events fetched
// from its calendar sources.
package calendar

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bryan-buckman/homedash/internal/metrics"
	"github.com/bryan-buckman/homedash/internal/model"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxEvents is the number of events returned when Options leaves
// MaxEvents zero.
const DefaultMaxEvents = 40

// MaxConcurrentSources limits parallel source fetches per request.
const MaxConcurrentSources = 8

// Options configures an Aggregator. Zero fields get defaults.
type Options struct {
	Client    *http.Client
	Expander  Expander
	Clock     clockwork.Clock
	Location  *time.Location
	MaxEvents int
	Logger    *slog.Logger
}

// Aggregator builds the upcoming-events list of a dashboard.
type Aggregator struct {
	client    *http.Client
	expander  Expander
	clock     clockwork.Clock
	location  *time.Location
	maxEvents int
	logger    *slog.Logger
	limiter   *hostLimiter
}

// New creates an aggregator.
func New(opts Options) *Aggregator {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Client == nil {
		opts.Client = NewHTTPClient(DefaultFetchTimeout)
	}
	if opts.Expander == nil {
		opts.Expander = RRuleExpander{Location: opts.Location}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Aggregator{
		client:    opts.Client,
		expander:  opts.Expander,
		clock:     opts.Clock,
		location:  opts.Location,
		maxEvents: opts.MaxEvents,
		logger:    opts.Logger,
		limiter:   newHostLimiter(),
	}
}

// Events returns manual and calendar events sorted by time, truncated to the
// configured maximum. Calendar events are limited to the coming year. A
// failing source is logged and contributes nothing; Events never fails.
func (a *Aggregator) Events(ctx context.Context, cfg *model.DashboardConfig) []model.Event {
	now := a.clock.Now()
	w := window{from: now, to: now.AddDate(1, 0, 0)}

	events := a.manualEvents(cfg.Events)

	sources := cfg.Settings.Calendars
	results := make([][]model.Event, len(sources))
	var g errgroup.Group
	g.SetLimit(MaxConcurrentSources)
	for i, src := range sources {
		if strings.TrimSpace(src.URL) == "" {
			continue
		}
		i, src := i, src
		g.Go(func() error {
			results[i] = a.sourceEvents(ctx, src, w)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		events = append(events, r...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(events[j].Date)
	})
	if len(events) > a.maxEvents {
		events = events[:a.maxEvents]
	}
	return events
}

func (a *Aggregator) manualEvents(stored []model.ManualEvent) []model.Event {
	events := make([]model.Event, 0, len(stored))
	for _, e := range stored {
		t, err := e.Time(a.location)
		if err != nil {
			a.logger.Debug("skip manual event", "event", e.Name, "error", err)
			continue
		}
		events = append(events, model.Event{
			Name:   e.Name,
			Date:   t,
			Source: model.ManualSource,
			Icon:   e.Icon,
		})
	}
	return events
}

// sourceEvents fetches and parses one source. Errors stop here.
func (a *Aggregator) sourceEvents(ctx context.Context, src model.CalendarSource, w window) []model.Event {
	start := a.clock.Now()
	rawURL := normalizeURL(src.URL)

	body, err := a.fetch(ctx, rawURL)
	metrics.CalendarFetchDuration.Observe(a.clock.Since(start).Seconds())
	if err != nil {
		metrics.CalendarFetches.WithLabelValues("fetch_error").Inc()
		a.logger.Warn("calendar fetch failed", "source", src.DisplayName(), "host", extractHost(rawURL), "error", err)
		return nil
	}

	events, err := a.parseDocument(body, src, w)
	if err != nil {
		metrics.CalendarFetches.WithLabelValues("parse_error").Inc()
		a.logger.Warn("calendar parse failed", "source", src.DisplayName(), "host", extractHost(rawURL), "error", err)
		return nil
	}

	metrics.CalendarFetches.WithLabelValues("ok").Inc()
	a.logger.Debug("calendar fetched", "source", src.DisplayName(), "events", len(events))
	return events
}
