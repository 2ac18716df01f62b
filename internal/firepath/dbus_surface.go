package firepath

import (
	"fmt"
	"sync"
	"time"

	"alarmsched/internal/config"

	"github.com/esiqveland/notify"
	"github.com/godbus/dbus/v5"
)

const (
	actionDismiss = "dismiss"
	actionSnooze  = "snooze"

	appName = "alarmsched"
)

// DBusSurface presents alarms as real freedesktop desktop notifications
// over D-Bus, replacing the teacher's notify-send subprocess shell-out
// with the esiqveland/notify + godbus/dbus libraries the teacher's go.mod
// carried but never imported.
type DBusSurface struct {
	conn     *dbus.Conn
	notifier notify.Notifier
	handler  ActionHandler

	// notifyCfg carries the teacher's NotificationConfig duration section,
	// so the expire timeout an alarm notification uses honors the
	// configured "timed" vs "until_dismissed" behavior instead of always
	// staying up until dismissed.
	notifyCfg config.NotificationConfig

	mutex    sync.Mutex
	notifIDs map[string]uint32         // alarmId -> D-Bus notification id
	byNotif  map[uint32]presentedAlarm // reverse lookup for action/close signals
}

// presentedAlarm remembers what a live D-Bus notification is about, since
// snoozing needs the original event's title and start time, not just its
// alarm id, to synthesize a new ScheduledAlarm.
type presentedAlarm struct {
	alarmID    string
	eventTitle string
	eventStart time.Time
}

// NewDBusSurface connects to the session bus and registers for
// ActionInvoked/NotificationClosed signals so dismiss/snooze actions and
// out-of-band notification closure reach handler.
func NewDBusSurface(handler ActionHandler) (*DBusSurface, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("authenticating with session bus: %w", err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending Hello to session bus: %w", err)
	}

	s := &DBusSurface{
		conn:     conn,
		handler:  handler,
		notifIDs: make(map[string]uint32),
		byNotif:  make(map[uint32]presentedAlarm),
	}

	n, err := notify.New(conn,
		notify.WithOnAction(s.onAction),
		notify.WithOnClosed(s.onClosed),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("registering notification handler: %w", err)
	}
	s.notifier = n
	return s, nil
}

// Close tears down the D-Bus connection.
func (s *DBusSurface) Close() error {
	return s.conn.Close()
}

// SetHandler assigns the ActionHandler that receives dismiss/snooze
// actions. Useful when the FirePath and its NotificationSurface need to
// be constructed before wiring them to each other.
func (s *DBusSurface) SetHandler(handler ActionHandler) {
	s.handler = handler
}

// SetNotificationConfig assigns the expire-timeout behavior read from
// config's notification section.
func (s *DBusSurface) SetNotificationConfig(cfg config.NotificationConfig) {
	s.notifyCfg = cfg
}

// Present implements NotificationSurface.Present: a critical-urgency
// notification offering dismiss and snooze actions.
func (s *DBusSurface) Present(alarmID, title string, eventStart time.Time) error {
	body := fmt.Sprintf("%s at %s", title, eventStart.Local().Format("15:04"))

	n := notify.Notification{
		AppName:       appName,
		Summary:       title,
		Body:          body,
		ExpireTimeout: s.expireTimeout(),
		Actions:       []string{actionDismiss, "Dismiss", actionSnooze, "Snooze 5m"},
		Hints: map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(2)), // critical
		},
	}

	id, err := s.notifier.SendNotification(n)
	if err != nil {
		return fmt.Errorf("sending D-Bus notification for %s: %w", alarmID, err)
	}

	s.mutex.Lock()
	s.notifIDs[alarmID] = id
	s.byNotif[id] = presentedAlarm{alarmID: alarmID, eventTitle: title, eventStart: eventStart}
	s.mutex.Unlock()
	return nil
}

// Dismiss implements NotificationSurface.Dismiss: closes the notification
// programmatically (e.g. a GUI-side dismissal).
func (s *DBusSurface) Dismiss(alarmID string) error {
	s.mutex.Lock()
	id, ok := s.notifIDs[alarmID]
	s.mutex.Unlock()
	if !ok {
		return nil
	}
	_, err := s.notifier.CloseNotification(id)
	return err
}

// expireTimeout converts the configured notification duration into the
// D-Bus expire-timeout argument, in milliseconds. Zero means "stays until
// dismissed", the notification spec's own convention for that case, so an
// unconfigured or "until_dismissed" duration both map to 0.
func (s *DBusSurface) expireTimeout() int32 {
	if s.notifyCfg.Duration.IsUntilDismissed() {
		return 0
	}
	ms, err := s.notifyCfg.Duration.ToMilliseconds()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms
}

func (s *DBusSurface) onAction(action *notify.ActionInvokedSignal) {
	s.mutex.Lock()
	presented, ok := s.byNotif[action.ID]
	s.mutex.Unlock()
	if !ok {
		return
	}

	switch action.ActionKey {
	case actionDismiss:
		s.handler.OnDismiss(presented.alarmID)
	case actionSnooze:
		if err := s.handler.OnSnooze(presented.alarmID, presented.eventTitle, presented.eventStart); err != nil {
			log.Warn("snoozing %s: %v", presented.alarmID, err)
		}
	}
}

// onClosed treats any notification closure the user didn't act on
// explicitly (notify.ReasonDismissedByUser) as an implicit dismiss; other
// close reasons (expired, closed by us) are ignored here since the
// Reconciler's is_armed probing is the authoritative dismissal detector
// for those.
func (s *DBusSurface) onClosed(closed *notify.NotificationClosedSignal) {
	s.mutex.Lock()
	presented, ok := s.byNotif[closed.ID]
	if ok {
		delete(s.byNotif, closed.ID)
		delete(s.notifIDs, presented.alarmID)
	}
	s.mutex.Unlock()
	if !ok {
		return
	}
	if closed.Reason == notify.ReasonDismissedByUser {
		s.handler.OnDismiss(presented.alarmID)
	}
}
