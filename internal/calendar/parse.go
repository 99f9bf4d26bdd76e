package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bryan-buckman/homedash/internal/model"
	"github.com/emersion/go-ical"
	"github.com/mmcdole/gofeed"
)

// ErrUnknownFormat is returned for documents that are neither iCalendar nor
// an RSS/Atom feed.
var ErrUnknownFormat = errors.New("not an iCalendar or feed document")

var vcalendarPrefix = []byte("BEGIN:VCALENDAR")

// window is the closed interval of acceptable event start times.
type window struct {
	from, to time.Time
}

func (w window) contains(t time.Time) bool {
	return !t.Before(w.from) && !t.After(w.to)
}

// parseDocument extracts events from a fetched calendar document. Every event
// is tagged with the source's display name and icon.
func (a *Aggregator) parseDocument(body []byte, src model.CalendarSource, w window) ([]model.Event, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if len(trimmed) >= len(vcalendarPrefix) && bytes.EqualFold(trimmed[:len(vcalendarPrefix)], vcalendarPrefix) {
		return a.parseICal(trimmed, src, w)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(trimmed))
	if err != nil {
		preview := trimmed
		if len(preview) > 64 {
			preview = preview[:64]
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, preview)
	}
	return feedEvents(feed, src, w), nil
}

func (a *Aggregator) parseICal(body []byte, src model.CalendarSource, w window) ([]model.Event, error) {
	dec := ical.NewDecoder(bytes.NewReader(body))
	var events []model.Event
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode calendar: %w", err)
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			template := eventTemplate(comp, src)

			if comp.Props.Get(ical.PropRecurrenceRule) != nil {
				times, err := a.expander.Expand(comp, w.from, w.to)
				if err != nil {
					a.logger.Debug("skip unexpandable event", "source", template.Source, "event", template.Name, "error", err)
					continue
				}
				for _, t := range times {
					// The window is enforced here regardless of what the
					// expander returns.
					if !w.contains(t) {
						continue
					}
					ev := template
					ev.Date = t
					events = append(events, ev)
				}
				continue
			}

			start, err := a.startTime(comp)
			if err != nil {
				a.logger.Debug("skip event without start", "source", template.Source, "event", template.Name, "error", err)
				continue
			}
			if !w.contains(start) {
				continue
			}
			template.Date = start
			events = append(events, template)
		}
	}
	return events, nil
}

func eventTemplate(comp *ical.Component, src model.CalendarSource) model.Event {
	return model.Event{
		Name:        textProp(comp, ical.PropSummary),
		Source:      src.DisplayName(),
		Icon:        src.Icon,
		Location:    textProp(comp, ical.PropLocation),
		Description: textProp(comp, ical.PropDescription),
		URL:         textProp(comp, ical.PropURL),
		IsCalendar:  true,
	}
}

func textProp(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	if s, err := prop.Text(); err == nil {
		return s
	}
	return prop.Value
}

// startTime reads DTSTART, falling back to bare date and floating
// date-time values that some producers emit without VALUE parameters.
func (a *Aggregator) startTime(comp *ical.Component) (time.Time, error) {
	prop := comp.Props.Get(ical.PropDateTimeStart)
	if prop == nil {
		return time.Time{}, errors.New("missing DTSTART")
	}
	if t, err := prop.DateTime(a.location); err == nil {
		return t, nil
	}
	return parseICalTime(prop.Value, a.location)
}

// feedEvents turns RSS/Atom items dated inside the window into events.
func feedEvents(feed *gofeed.Feed, src model.CalendarSource, w window) []model.Event {
	var events []model.Event
	for _, item := range feed.Items {
		when := item.PublishedParsed
		if when == nil {
			when = item.UpdatedParsed
		}
		if when == nil || !w.contains(*when) {
			continue
		}
		events = append(events, model.Event{
			Name:        item.Title,
			Date:        *when,
			Source:      src.DisplayName(),
			Icon:        src.Icon,
			Description: item.Description,
			URL:         item.Link,
			IsCalendar:  true,
		})
	}
	return events
}
