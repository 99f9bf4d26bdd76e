package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// MaxOccurrences caps the occurrences taken from a single recurring event.
const MaxOccurrences = 1000

// Expander turns a recurring event into concrete start times within
// [from, to].
type Expander interface {
	Expand(event *ical.Component, from, to time.Time) ([]time.Time, error)
}

// RRuleExpander expands recurrence rules through rrule-go.
type RRuleExpander struct {
	// Location is used for floating times. Defaults to time.Local.
	Location *time.Location
}

// Expand implements Expander.
func (e RRuleExpander) Expand(event *ical.Component, from, to time.Time) ([]time.Time, error) {
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	set, err := event.RecurrenceSet(loc)
	if err != nil {
		if set, err = lenientSet(event, loc); err != nil {
			return nil, err
		}
	}
	if set == nil {
		return nil, nil
	}
	times := set.Between(from, to, true)
	if len(times) > MaxOccurrences {
		times = times[:MaxOccurrences]
	}
	return times, nil
}

// lenientSet builds a set from the bare RRULE and a DTSTART parsed with
// parseICalTime, for producers whose DTSTART parameters go-ical rejects.
// RDATE and EXDATE are ignored.
func lenientSet(event *ical.Component, loc *time.Location) (*rrule.Set, error) {
	ruleProp := event.Props.Get(ical.PropRecurrenceRule)
	startProp := event.Props.Get(ical.PropDateTimeStart)
	if ruleProp == nil || startProp == nil {
		return nil, errors.New("missing RRULE or DTSTART")
	}
	start, err := parseICalTime(startProp.Value, loc)
	if err != nil {
		return nil, err
	}
	opt, err := rrule.StrToROptionInLocation(ruleProp.Value, loc)
	if err != nil {
		return nil, fmt.Errorf("parse RRULE: %w", err)
	}
	opt.Dtstart = start
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build RRULE: %w", err)
	}
	set := &rrule.Set{}
	set.RRule(rule)
	return set, nil
}

// parseICalTime parses UTC, floating and date-only iCalendar values.
func parseICalTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse("20060102T150405Z", value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"20060102T150405", "20060102"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q", value)
}
