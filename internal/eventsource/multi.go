package eventsource

import (
	"context"
	"time"
)

// MultiSource fans an EventSource out across several configured calendar
// directories, mirroring the teacher's main.go loop that called
// watcher.AddDirectory once per configured DirectoryConfig.
type MultiSource struct {
	sources []*DirectorySource
}

// NewMultiSource builds a MultiSource over dirs, each parsed with zone as
// the default for timestamps that carry no explicit zone.
func NewMultiSource(dirs []string, zone *time.Location) *MultiSource {
	m := &MultiSource{sources: make([]*DirectorySource, 0, len(dirs))}
	for _, dir := range dirs {
		m.sources = append(m.sources, NewDirectorySource(dir, zone))
	}
	return m
}

// Start scans and watches every configured directory, invoking onChange
// after any one of them rescans. A directory that fails to start (e.g. it
// doesn't exist) is logged and skipped rather than failing every other
// configured directory; Start only errors if every directory fails.
func (m *MultiSource) Start(onChange ChangeCallback) error {
	started := 0
	var lastErr error
	for _, s := range m.sources {
		if err := s.Start(onChange); err != nil {
			log.Warn("starting event source %s: %v", s.dir, err)
			lastErr = err
			continue
		}
		started++
	}
	if started == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// Stop tears down every directory watcher.
func (m *MultiSource) Stop() error {
	var firstErr error
	for _, s := range m.sources {
		if err := s.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Upcoming merges results from every underlying source. A source reporting
// ErrAccessDenied is skipped rather than failing the whole call, since one
// inaccessible directory shouldn't blind the scheduler to the rest; the
// aggregate only fails if every source is inaccessible or errors.
func (m *MultiSource) Upcoming(ctx context.Context, fromUtc, toUtc time.Time, calendarIDs []string, modifiedSinceUtc *time.Time) ([]CalendarEvent, error) {
	var out []CalendarEvent
	var lastErr error
	okCount := 0

	for _, s := range m.sources {
		events, err := s.Upcoming(ctx, fromUtc, toUtc, calendarIDs, modifiedSinceUtc)
		if err != nil {
			lastErr = err
			continue
		}
		okCount++
		out = append(out, events...)
	}

	if okCount == 0 && lastErr != nil {
		return nil, lastErr
	}
	sortByStart(out)
	return out, nil
}

// Calendars merges the calendar list across every underlying source.
func (m *MultiSource) Calendars(ctx context.Context) ([]CalendarInfo, error) {
	var out []CalendarInfo
	for _, s := range m.sources {
		cals, err := s.Calendars(ctx)
		if err != nil {
			continue
		}
		out = append(out, cals...)
	}
	return out, nil
}

// HasAccess reports true if at least one underlying directory is accessible.
func (m *MultiSource) HasAccess() bool {
	for _, s := range m.sources {
		if s.HasAccess() {
			return true
		}
	}
	return false
}
