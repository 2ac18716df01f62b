package eventsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"alarmsched/internal/logging"
	"alarmsched/internal/schederr"
)

var log = logging.New("eventsource")

// ChangeCallback is invoked whenever the watched directory's contents
// change in a way that could alter future occurrences; the RefreshDriver
// (spec §4.7) registers one of these as an external trigger.
type ChangeCallback func()

// DirectorySource is the concrete EventSource (spec §4.3/§6) backed by a
// directory of ICS files, scanned at Start and rescanned on fsnotify
// events; Upcoming works from the most recent scan and never rereads.
type DirectorySource struct {
	dir    string
	parser *icsParser

	mutex      sync.RWMutex
	raw        []rawEvent
	registry   *calendarRegistry
	accessible bool

	watcher *directoryWatcher
}

// NewDirectorySource builds a DirectorySource rooted at dir, parsing event
// timestamps that carry no explicit zone as defaultZone.
func NewDirectorySource(dir string, defaultZone *time.Location) *DirectorySource {
	return &DirectorySource{
		dir:        dir,
		parser:     newICSParser(defaultZone),
		registry:   newCalendarRegistry(),
		accessible: true,
	}
}

// Start performs the initial directory scan and begins watching it for
// changes, invoking onChange (if non-nil) after every rescan triggered by
// a file system event.
func (s *DirectorySource) Start(onChange ChangeCallback) error {
	if err := s.rescan(); err != nil {
		return err
	}

	w, err := newDirectoryWatcher(s.dir, func() {
		if err := s.rescan(); err != nil {
			log.Warn("rescan after file change failed: %v", err)
			return
		}
		if onChange != nil {
			onChange()
		}
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	s.watcher = w
	return nil
}

// Stop tears down the underlying file watcher.
func (s *DirectorySource) Stop() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.stop()
}

func (s *DirectorySource) rescan() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		s.mutex.Lock()
		s.accessible = false
		s.mutex.Unlock()
		return fmt.Errorf("%w: %v", schederr.ErrAccessDenied, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", schederr.ErrSourceUnavailable, s.dir)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", schederr.ErrSourceUnavailable, err)
	}

	var all []rawEvent
	registry := newCalendarRegistry()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".ics") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		events, err := s.parser.parseFile(path)
		if err != nil {
			log.Warn("parsing %s: %v", path, err)
			continue
		}
		all = append(all, events...)

		calendarID := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		registry.upsert(CalendarInfo{
			ID:          calendarID,
			DisplayName: calendarID,
			Visible:     true,
		})
	}

	s.mutex.Lock()
	s.raw = all
	s.registry = registry
	s.accessible = true
	s.mutex.Unlock()
	return nil
}

// Upcoming implements EventSource.Upcoming by expanding every parsed
// rawEvent's recurrence within [fromUtc, toUtc], optionally filtering by
// calendar and by last-modified stamp.
func (s *DirectorySource) Upcoming(ctx context.Context, fromUtc, toUtc time.Time, calendarIDs []string, modifiedSinceUtc *time.Time) ([]CalendarEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mutex.RLock()
	raw := s.raw
	accessible := s.accessible
	s.mutex.RUnlock()

	if !accessible {
		return nil, schederr.ErrAccessDenied
	}

	wantCalendar := calendarSet(calendarIDs)

	var out []CalendarEvent
	for _, re := range raw {
		if wantCalendar != nil && !wantCalendar[re.calendarID] {
			continue
		}
		if modifiedSinceUtc != nil && re.lastModified.Before(*modifiedSinceUtc) {
			continue
		}
		out = append(out, re.expand(fromUtc, toUtc)...)
	}

	sortByStart(out)
	return out, nil
}

func (s *DirectorySource) Calendars(ctx context.Context) ([]CalendarInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.accessible {
		return nil, schederr.ErrAccessDenied
	}
	return s.registry.all(), nil
}

func (s *DirectorySource) HasAccess() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.accessible
}

func calendarSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func sortByStart(events []CalendarEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
}
