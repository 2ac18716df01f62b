// Package eventsource implements the EventSource contract from spec §4.3/§6:
// a read-only producer of upcoming calendar event occurrences within a
// lookahead window, backed by parsed ICS directories (spec's "platform
// calendar database" is out of scope; only the abstract contract is
// implemented here, against a concrete ICS/CalDAV-directory source).
package eventsource

import (
	"context"
	"fmt"
	"time"
)

// CalendarEvent is a concrete occurrence as read from the source (spec §3).
// Invariant: Start must not be after End.
type CalendarEvent struct {
	ID             string // stable, scoped to this source
	Title          string
	Start          time.Time // UTC
	End            time.Time // UTC
	CalendarID     string
	AllDay         bool
	SourceTimezone string // IANA zone id, empty if unknown
	LastModified   int64  // monotonic stamp, ms
	Description    string
	Location       string
}

// Validate enforces the CalendarEvent invariant (spec §3: start <= end).
func (e CalendarEvent) Validate() error {
	if e.Start.After(e.End) {
		return fmt.Errorf("event %s: start %s is after end %s", e.ID, e.Start, e.End)
	}
	return nil
}

// CalendarInfo describes one calendar a source knows about (spec §6).
type CalendarInfo struct {
	ID          string
	DisplayName string
	AccountID   string
	Color       string
	Visible     bool
}

// EventSource is the abstract, read-only contract of spec §4.3/§6.
type EventSource interface {
	// Upcoming returns events starting within [fromUtc, toUtc], optionally
	// restricted to calendarIDs (nil/empty means all calendars) and to
	// events modified at or after modifiedSinceUtc (nil means no filter).
	// Results are ordered by Start ascending.
	Upcoming(ctx context.Context, fromUtc, toUtc time.Time, calendarIDs []string, modifiedSinceUtc *time.Time) ([]CalendarEvent, error)

	Calendars(ctx context.Context) ([]CalendarInfo, error)

	HasAccess() bool
}

// LookaheadWindow is the fixed 48h lookahead from spec §4.3/§6.
const LookaheadWindow = 48 * time.Hour
