// Command alarmsched is the rule-driven calendar alarm scheduler daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"alarmsched/internal/clock"
	"alarmsched/internal/config"
	"alarmsched/internal/eventsource"
	"alarmsched/internal/firepath"
	"alarmsched/internal/logging"
	"alarmsched/internal/reconciler"
	"alarmsched/internal/refresh"
	"alarmsched/internal/rule"
	"alarmsched/internal/rulemanager"
	"alarmsched/internal/store"
	"alarmsched/internal/timer"
)

var log = logging.New("main")

// Scheduler wires every component of spec §4 together and owns the
// daemon's lifecycle, mirroring the shape of the teacher's CalWatch
// struct in cmd/calwatch/main.go.
type Scheduler struct {
	config *config.Config
	store  store.Store
	source *eventsource.MultiSource
	tm     timer.Timer

	reconciler *reconciler.Reconciler
	refresh    *refresh.Driver
	firePath   *firepath.FirePath
	ruleMgr    *rulemanager.Manager

	cancel context.CancelFunc
}

// NewScheduler builds a Scheduler from cfg, wiring Store, EventSource,
// Timer, Reconciler, RefreshDriver, FirePath, and RuleAlarmManager.
func NewScheduler(cfg *config.Config) (*Scheduler, error) {
	st, err := store.NewFileStore()
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	settings := st.SettingsGet()
	if settings == (store.Settings{}) || settings == store.DefaultSettings() {
		settings = cfg.ToSettings()
		if err := st.SettingsSet(settings); err != nil {
			return nil, fmt.Errorf("seeding settings: %w", err)
		}
	}

	zone := time.Local
	dirs := make([]string, 0, len(cfg.Directories))
	for _, d := range cfg.Directories {
		if err := (&d).ExpandPath(); err != nil {
			log.Warn("expanding directory path %s: %v", d.Directory, err)
			continue
		}
		dirs = append(dirs, d.Directory)
	}
	source := eventsource.NewMultiSource(dirs, zone)

	sched := &Scheduler{config: cfg, store: st, source: source}

	sched.tm = timer.NewInProcessTimer(sched.dispatchTimerFire, true)
	sched.reconciler = reconciler.New(st, sched.tm, source, clock.SystemClock{}, zone)
	sched.refresh = refresh.New(sched.reconciler, st, sched.tm)
	sched.refresh.SetWakeupPolicy(cfg.WakeupHandling)
	sched.ruleMgr = rulemanager.New(st, source, sched.reconciler, clock.SystemClock{}, zone)

	surface, err := firepath.NewDBusSurface(nil)
	if err != nil {
		log.Warn("D-Bus notification surface unavailable, alarms will fire without presentation: %v", err)
		sched.firePath = firepath.New(st, sched.tm, noopSurface{})
	} else {
		surface.SetNotificationConfig(cfg.Notification)
		sched.firePath = firepath.New(st, sched.tm, surface)
		surface.SetHandler(sched.firePath)
	}

	return sched, nil
}

// dispatchTimerFire routes every Timer fire to the RefreshDriver's cadence
// handler or the FirePath, keyed on the reserved cadence request code.
func (s *Scheduler) dispatchTimerFire(requestCode int32, payload timer.Payload) {
	if requestCode == refresh.CadenceRequestCode {
		s.refresh.OnTimerFire(context.Background(), requestCode)
		return
	}
	s.firePath.OnTimerFire(requestCode, payload)
}

// Start begins watching calendar directories and arms the RefreshDriver's
// cadence, per spec §4.7. If the configuration names a rules file, it is
// imported and its enabled rules cascaded into armed alarms before the
// cadence starts, so a fresh install can come up with alarms already
// scheduled instead of sitting idle until someone runs "rules import".
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.source.Start(func() { s.refresh.TriggerRuleEdit(ctx) }); err != nil {
		return fmt.Errorf("starting event source: %w", err)
	}

	if s.config.Scheduler.RulesFile != "" {
		s.ImportRules(ctx, s.config.Scheduler.RulesFile)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if err := s.refresh.Start(runCtx); err != nil {
		return fmt.Errorf("starting refresh driver: %w", err)
	}
	return nil
}

// ImportRules loads path through the RuleAlarmManager's YAML import, then
// runs an EnableRule cascade for every rule the file left enabled, so one
// import call is enough to get matching events armed (spec §4.9).
func (s *Scheduler) ImportRules(ctx context.Context, path string) {
	imported, skipped, err := s.ruleMgr.ImportRules(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error importing rules from %s: %v\n", path, err)
		return
	}
	fmt.Printf("Imported %d rule(s) from %s\n", imported, path)
	for _, msg := range skipped {
		fmt.Printf("  skipped: %s\n", msg)
	}

	for _, r := range s.store.RulesEnabled() {
		if _, err := s.ruleMgr.EnableRule(ctx, r); err != nil {
			log.Warn("scheduling imported rule %s: %v", r.ID, err)
		}
	}
}

// Stop tears down the event source watchers and cancels the cadence timer.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.refresh.Stop()
	if err := s.source.Stop(); err != nil {
		log.Warn("stopping event source: %v", err)
	}
}

// PrintStatus reports armed-alarm count and settings, mirroring
// CalWatch.PrintStatus.
func (s *Scheduler) PrintStatus() {
	now := time.Now().UTC()
	active := s.store.AlarmsActive(now)
	settings := s.store.SettingsGet()

	fmt.Println("alarmsched status:")
	fmt.Printf("  Armed alarms: %d\n", len(active))
	fmt.Printf("  Refresh interval: %dm\n", settings.RefreshIntervalMinutes)

	var next time.Time
	for _, a := range active {
		if next.IsZero() || a.AlarmTime.Before(next) {
			next = a.AlarmTime
		}
	}
	if !next.IsZero() {
		fmt.Printf("  Next fire: %s\n", next.Local().Format(time.RFC3339))
	} else {
		fmt.Println("  Next fire: none scheduled")
	}
}

type noopSurface struct{}

func (noopSurface) Present(alarmID, title string, eventStart time.Time) error { return nil }
func (noopSurface) Dismiss(alarmID string) error                              { return nil }

func setupSignalHandling(s *Scheduler, done chan<- struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("received signal %v, shutting down", sig)
		s.Stop()
		close(done)
	}()
}

func printHelp() {
	fmt.Println("alarmsched - rule-driven calendar alarm scheduler")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  alarmsched                       Start the daemon")
	fmt.Println("  alarmsched init                  Create default configuration")
	fmt.Println("  alarmsched status                Show daemon status")
	fmt.Println("  alarmsched rules import <path>   Import a YAML ruleset and arm its matches")
	fmt.Println("  alarmsched rules export <path>   Export the current ruleset as YAML")
	fmt.Println("  alarmsched rules edit <id> <name> <pattern> <lead_minutes>")
	fmt.Println("                                   Edit a rule, recascading its alarms")
	fmt.Println("  alarmsched rules enable <id>     Enable a rule and arm its matches")
	fmt.Println("  alarmsched rules disable <id>    Disable a rule and cancel its alarms")
	fmt.Println("  alarmsched help                  Show this help")
}

// runRulesCommand implements the "rules" subcommand family, each of which
// needs a fully wired Scheduler (Store, Reconciler, RuleAlarmManager) but
// none of the daemon's running watchers or cadence timer.
func runRulesCommand(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: alarmsched rules <import|export|edit|enable|disable> ...")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	sched, err := NewScheduler(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing scheduler: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch args[0] {
	case "import":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: alarmsched rules import <path>")
			os.Exit(1)
		}
		sched.ImportRules(ctx, args[1])

	case "export":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: alarmsched rules export <path>")
			os.Exit(1)
		}
		if err := sched.ruleMgr.ExportRules(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting rules: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Exported rules to %s\n", args[1])

	case "edit":
		if len(args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: alarmsched rules edit <id> <name> <pattern> <lead_minutes>")
			os.Exit(1)
		}
		oldR, ok := sched.store.RuleGet(args[1])
		if !ok {
			fmt.Fprintf(os.Stderr, "No such rule: %s\n", args[1])
			os.Exit(1)
		}
		leadMinutes, convErr := strconv.Atoi(args[4])
		if convErr != nil {
			fmt.Fprintf(os.Stderr, "Invalid lead_minutes %q: %v\n", args[4], convErr)
			os.Exit(1)
		}
		newR := rule.New(oldR.ID, args[2], args[3], oldR.CalendarIDs, leadMinutes, oldR.Enabled, oldR.FirstEventOfDayOnly, oldR.CreatedAt)
		result, editErr := sched.ruleMgr.EditRule(ctx, oldR, newR)
		if editErr != nil {
			fmt.Fprintf(os.Stderr, "Error editing rule %s: %v\n", args[1], editErr)
			os.Exit(1)
		}
		fmt.Printf("Edited rule %s: %d cancelled, %d scheduled, %d failed\n",
			args[1], result.Cancelled, result.Scheduled, result.Failed)

	case "enable", "disable":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Usage: alarmsched rules %s <id>\n", args[0])
			os.Exit(1)
		}
		r, ok := sched.store.RuleGet(args[1])
		if !ok {
			fmt.Fprintf(os.Stderr, "No such rule: %s\n", args[1])
			os.Exit(1)
		}

		var result rulemanager.CascadeResult
		if args[0] == "enable" {
			result, err = sched.ruleMgr.EnableRule(ctx, r)
		} else {
			result, err = sched.ruleMgr.DisableRule(r)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error %sing rule %s: %v\n", args[0], args[1], err)
			os.Exit(1)
		}
		verb := "Enabled"
		if args[0] == "disable" {
			verb = "Disabled"
		}
		fmt.Printf("%s rule %s: %d scheduled, %d cancelled, %d failed\n",
			verb, args[1], result.Scheduled, result.Cancelled, result.Failed)

	default:
		fmt.Fprintf(os.Stderr, "Unknown rules subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			configPath, err := config.WriteDefaultConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating default config: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Created default configuration at: %s\n", configPath)
			return
		case "status":
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(1)
			}
			sched, err := NewScheduler(cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error initializing scheduler: %v\n", err)
				os.Exit(1)
			}
			sched.PrintStatus()
			return
		case "rules":
			runRulesCommand(os.Args[2:])
			return
		case "help", "-h", "--help":
			printHelp()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
			printHelp()
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	sched, err := NewScheduler(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize scheduler: %v\n", err)
		os.Exit(1)
	}

	if err := sched.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start scheduler: %v\n", err)
		os.Exit(1)
	}
	sched.PrintStatus()

	done := make(chan struct{})
	setupSignalHandling(sched, done)
	<-done
	log.Info("alarmsched exiting")
}
