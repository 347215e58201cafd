// Package agent runs the watch loop: every window it reads recent
// events, aggregates them into an activity summary, asks the oracle
// whether the user has drifted from the session goal, updates persisted
// session state and fires the notification gate.
package agent

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	rcron "github.com/robfig/cron/v3"

	"github.com/ganeshkumarm1/DriftWatcher/internal/activity"
	"github.com/ganeshkumarm1/DriftWatcher/internal/config"
	"github.com/ganeshkumarm1/DriftWatcher/internal/eventlog"
	"github.com/ganeshkumarm1/DriftWatcher/internal/oracle"
	"github.com/ganeshkumarm1/DriftWatcher/internal/session"
)

const (
	cleanupEveryTicks = 100
	pruneSchedule     = "0 0 3 * * *"
	errorBackoff      = 5 * time.Second
)

// Assessor judges a window of activity against a goal.
type Assessor interface {
	AssessFocus(ctx context.Context, goal string, summary *activity.Summary) (*oracle.Assessment, error)
}

// Alerter is the notification gate.
type Alerter interface {
	NotifyDrift(goal string, confidence float64) bool
}

// Reporter receives the report of each completed cycle.
type Reporter interface {
	PublishCycle(report any)
}

// CycleReport is what the dashboard sees after each cycle.
type CycleReport struct {
	Timestamp  int64             `json:"timestamp"`
	Goal       string            `json:"goal"`
	FocusState oracle.FocusState `json:"focus_state"`
	Confidence float64           `json:"confidence"`
	Reason     string            `json:"reason"`
	DriftCount int               `json:"drift_count"`
	Summary    *activity.Summary `json:"summary"`
}

type Agent struct {
	cfg        config.AgentConfig
	store      *eventlog.Store
	aggregator *activity.Aggregator
	assessor   Assessor
	sessions   *session.Manager
	alerter    Alerter
	reporter   Reporter
	cron       *rcron.Cron

	mu    sync.Mutex
	state *session.State
	ticks int
}

func New(cfg config.AgentConfig, store *eventlog.Store, aggregator *activity.Aggregator, assessor Assessor, sessions *session.Manager, alerter Alerter, reporter Reporter) *Agent {
	return &Agent{
		cfg:        cfg,
		store:      store,
		aggregator: aggregator,
		assessor:   assessor,
		sessions:   sessions,
		alerter:    alerter,
		reporter:   reporter,
	}
}

// Run blocks until ctx is cancelled. One cycle per window; a failed
// cycle is logged and backed off, never fatal.
func (a *Agent) Run(ctx context.Context) error {
	st, err := a.sessions.Load()
	if err != nil {
		return fmt.Errorf("load session state: %w", err)
	}
	a.mu.Lock()
	a.state = st
	a.mu.Unlock()

	retention := time.Duration(a.cfg.LogRetentionDays) * 24 * time.Hour
	if removed, err := a.store.Cleanup(retention); err != nil {
		log.Printf("[agent] startup cleanup: %v", err)
	} else if removed > 0 {
		log.Printf("[agent] startup cleanup removed %d expired events", removed)
	}

	a.cron = rcron.New(rcron.WithSeconds())
	if _, err := a.cron.AddFunc(pruneSchedule, func() {
		if removed, err := a.store.Cleanup(retention); err != nil {
			log.Printf("[agent] nightly prune: %v", err)
		} else {
			log.Printf("[agent] nightly prune removed %d events", removed)
		}
	}); err != nil {
		return fmt.Errorf("schedule nightly prune: %w", err)
	}
	a.cron.Start()
	defer a.cron.Stop()

	stopWatch, err := a.watchGoalFile()
	if err != nil {
		log.Printf("[agent] goal file watch unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	window := time.Duration(a.cfg.WindowSeconds) * time.Second
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	log.Printf("[agent] watching, window %s, goal %q", window, st.Goal)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[agent] stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.runCycle(ctx); err != nil {
				log.Printf("[agent] cycle error: %v", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(errorBackoff):
				}
			}
			a.maybeCleanup(retention)
		}
	}
}

// runCycle executes one watch cycle.
func (a *Agent) runCycle(ctx context.Context) error {
	window := time.Duration(a.cfg.WindowSeconds) * time.Second

	events, err := a.store.ReadRecent(window)
	if err != nil {
		return fmt.Errorf("read recent events: %w", err)
	}
	if len(events) == 0 {
		log.Printf("[agent] no activity in window, skipping")
		return nil
	}

	summary, err := a.aggregator.Aggregate(ctx, events)
	if err != nil {
		return fmt.Errorf("aggregate activity: %w", err)
	}

	a.mu.Lock()
	goal := a.state.Goal
	a.mu.Unlock()

	assessment, err := a.assessor.AssessFocus(ctx, goal, summary)
	if err != nil {
		return fmt.Errorf("assess focus: %w", err)
	}

	a.mu.Lock()
	a.state.FocusState = assessment.State
	a.state.Confidence = assessment.Confidence
	a.state.LastCheckTS = time.Now().UnixMilli()

	if assessment.State == oracle.StateDrifting && assessment.Confidence >= a.cfg.DriftThreshold {
		a.state.DriftCount++
		log.Printf("[agent] drift detected (confidence %.2f): %s", assessment.Confidence, assessment.Reason)
		a.alerter.NotifyDrift(goal, assessment.Confidence)
	} else {
		log.Printf("[agent] %s (confidence %.2f)", assessment.State, assessment.Confidence)
	}

	report := CycleReport{
		Timestamp:  a.state.LastCheckTS,
		Goal:       goal,
		FocusState: assessment.State,
		Confidence: assessment.Confidence,
		Reason:     assessment.Reason,
		DriftCount: a.state.DriftCount,
		Summary:    summary,
	}
	st := *a.state
	a.mu.Unlock()

	if err := a.sessions.Save(&st); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}

	if a.reporter != nil {
		a.reporter.PublishCycle(report)
	}
	return nil
}

func (a *Agent) maybeCleanup(retention time.Duration) {
	a.mu.Lock()
	a.ticks++
	due := a.ticks%cleanupEveryTicks == 0
	a.mu.Unlock()

	if !due {
		return
	}
	if removed, err := a.store.Cleanup(retention); err != nil {
		log.Printf("[agent] periodic cleanup: %v", err)
	} else if removed > 0 {
		log.Printf("[agent] periodic cleanup removed %d events", removed)
	}
}

// watchGoalFile picks up goal changes made by another process (the
// `driftwatcher goal --set` command) while the watch loop is running.
func (a *Agent) watchGoalFile() (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	statePath := a.sessions.StatePath()
	if err := watcher.Add(filepath.Dir(statePath)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != statePath || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				a.reloadGoal()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[agent] goal watch error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}

func (a *Agent) reloadGoal() {
	st, err := a.sessions.Load()
	if err != nil {
		log.Printf("[agent] reload session state: %v", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st.Goal == a.state.Goal {
		return
	}
	log.Printf("[agent] goal changed: %q -> %q", a.state.Goal, st.Goal)
	a.state = st

	// The goal change cleared the event log and cache files on disk; drop
	// the in-memory entries too so a later flush cannot resurrect them.
	a.aggregator.ReloadCache()
}
