package eventsource

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apognu/gocal"

	"alarmsched/internal/recurrence"
)

// rawEvent is the parsed-but-unexpanded form of a VEVENT: a recurrence rule
// plus its anchor occurrence, before the window is intersected.
type rawEvent struct {
	uid          string
	title        string
	description  string
	location     string
	start        time.Time
	end          time.Time
	zone         *time.Location
	recurrence   recurrence.Recurrence
	exDates      []time.Time
	calendarID   string
	lastModified time.Time
}

// icsParser turns ICS files into rawEvents, using gocal for the VEVENT
// grammar and the recurrence package for RRULE expansion. Unlike the
// source this was adapted from, VALARM components are never parsed: alarm
// timing here is entirely Rule-driven (spec §4.1), not VALARM-driven.
type icsParser struct {
	defaultZone *time.Location
}

func newICSParser(defaultZone *time.Location) *icsParser {
	if defaultZone == nil {
		defaultZone = time.Local
	}
	return &icsParser{defaultZone: defaultZone}
}

// parseFile parses one ICS file, treating its base name (minus extension)
// as the calendar id.
func (p *icsParser) parseFile(path string) ([]rawEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	calendarID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return p.parseReader(file, calendarID, info.ModTime())
}

func (p *icsParser) parseReader(reader io.Reader, calendarID string, fallbackModTime time.Time) ([]rawEvent, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading ICS data: %w", err)
	}

	start := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2100, 12, 31, 23, 59, 59, 0, time.UTC)

	cal := gocal.NewParser(strings.NewReader(string(data)))
	cal.Start, cal.End = &start, &end
	if err := cal.Parse(); err != nil {
		return nil, fmt.Errorf("parsing ICS data: %w", err)
	}

	events := make([]rawEvent, 0, len(cal.Events))
	for _, ge := range cal.Events {
		re, err := p.convert(ge, calendarID, fallbackModTime)
		if err != nil {
			fmt.Fprintf(os.Stderr, "eventsource: skipping event %s: %v\n", ge.Uid, err)
			continue
		}
		events = append(events, re)
	}
	return events, nil
}

func (p *icsParser) convert(ge gocal.Event, calendarID string, fallbackModTime time.Time) (rawEvent, error) {
	if ge.Uid == "" {
		return rawEvent{}, fmt.Errorf("missing UID")
	}
	if ge.Start == nil || ge.End == nil {
		return rawEvent{}, fmt.Errorf("event %s missing start or end", ge.Uid)
	}

	zone := ge.Start.Location()
	if zone == nil || zone == time.UTC && p.defaultZone != time.UTC {
		zone = p.defaultZone
	}

	var rec recurrence.Recurrence
	var err error
	if len(ge.RecurrenceRule) > 0 {
		parts := make([]string, 0, len(ge.RecurrenceRule))
		for k, v := range ge.RecurrenceRule {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
		rec, err = recurrence.ParseRRule(strings.Join(parts, ";"))
		if err != nil {
			return rawEvent{}, fmt.Errorf("parsing RRULE for %s: %w", ge.Uid, err)
		}
	} else {
		rec = &recurrence.NoRecurrence{}
	}

	lastModified := fallbackModTime
	if ge.LastModified != nil {
		lastModified = *ge.LastModified
	}

	return rawEvent{
		uid:          ge.Uid,
		title:        ge.Summary,
		description:  ge.Description,
		location:     ge.Location,
		start:        *ge.Start,
		end:          *ge.End,
		zone:         zone,
		recurrence:   rec,
		exDates:      append([]time.Time(nil), ge.ExcludeDates...),
		calendarID:   calendarID,
		lastModified: lastModified,
	}, nil
}

// expand turns a rawEvent's recurrence rule into concrete CalendarEvents
// whose start falls within [fromUtc, toUtc]. Each occurrence gets a stable
// id derived from the uid and its own start instant, so rescheduled or
// cancelled single occurrences in a recurring series are addressable
// independently (spec §3's per-event identity requirement).
func (e rawEvent) expand(fromUtc, toUtc time.Time) []CalendarEvent {
	duration := e.end.Sub(e.start)
	allDay := isAllDay(e.start, e.end)

	occurrences := e.recurrence.OccurredWithin(fromUtc, toUtc, e.start, e.exDates)

	out := make([]CalendarEvent, 0, len(occurrences))
	for _, occStart := range occurrences {
		occStartUTC := occStart.UTC()
		occEndUTC := occStart.Add(duration).UTC()
		out = append(out, CalendarEvent{
			ID:             occurrenceID(e.uid, occStartUTC),
			Title:          e.title,
			Start:          occStartUTC,
			End:            occEndUTC,
			CalendarID:     e.calendarID,
			AllDay:         allDay,
			SourceTimezone: zoneName(e.zone),
			LastModified:   e.lastModified.UnixMilli(),
			Description:    e.description,
			Location:       e.location,
		})
	}
	return out
}

func occurrenceID(uid string, start time.Time) string {
	if start.IsZero() {
		return uid
	}
	return fmt.Sprintf("%s@%d", uid, start.Unix())
}

func zoneName(zone *time.Location) string {
	if zone == nil {
		return ""
	}
	return zone.String()
}

// isAllDay mirrors the iCalendar convention that a DATE (not DATE-TIME)
// value has its time-of-day fields zeroed and spans whole midnight-aligned
// days.
func isAllDay(start, end time.Time) bool {
	zeroClock := func(t time.Time) bool {
		return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	}
	return zeroClock(start) && zeroClock(end) && end.Sub(start) >= 24*time.Hour
}
