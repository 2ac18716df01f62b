package eventsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:standup-1@example.com
SUMMARY:Team Standup
DTSTART:20260801T090000Z
DTEND:20260801T093000Z
END:VEVENT
END:VCALENDAR
`

func writeSampleCalendar(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "work.ics"), []byte(sampleICS), 0o644); err != nil {
		t.Fatalf("writing sample ics: %v", err)
	}
}

func TestDirectorySourceUpcomingFindsParsedEvent(t *testing.T) {
	dir := t.TempDir()
	writeSampleCalendar(t, dir)

	src := NewDirectorySource(dir, time.UTC)
	if err := src.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	from := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)

	events, err := src.Upcoming(context.Background(), from, to, nil, nil)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Title != "Team Standup" {
		t.Errorf("unexpected title %q", events[0].Title)
	}
	if events[0].CalendarID != "work" {
		t.Errorf("expected calendar id 'work', got %q", events[0].CalendarID)
	}
}

func TestDirectorySourceUpcomingFiltersByCalendar(t *testing.T) {
	dir := t.TempDir()
	writeSampleCalendar(t, dir)

	src := NewDirectorySource(dir, time.UTC)
	if err := src.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	from := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)

	events, err := src.Upcoming(context.Background(), from, to, []string{"personal"}, nil)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events for unrelated calendar filter, got %d", len(events))
	}
}

func TestDirectorySourceHasAccessFalseWhenDirMissing(t *testing.T) {
	src := NewDirectorySource(filepath.Join(t.TempDir(), "missing"), time.UTC)
	if err := src.Start(nil); err == nil {
		t.Fatal("expected error starting against a missing directory")
	}
	if src.HasAccess() {
		t.Error("expected HasAccess to be false after failed scan")
	}
}

func TestDirectorySourceCalendars(t *testing.T) {
	dir := t.TempDir()
	writeSampleCalendar(t, dir)

	src := NewDirectorySource(dir, time.UTC)
	if err := src.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	calendars, err := src.Calendars(context.Background())
	if err != nil {
		t.Fatalf("Calendars: %v", err)
	}
	if len(calendars) != 1 || calendars[0].ID != "work" {
		t.Fatalf("unexpected calendars: %+v", calendars)
	}
}
