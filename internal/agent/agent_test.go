package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ganeshkumarm1/DriftWatcher/internal/activity"
	"github.com/ganeshkumarm1/DriftWatcher/internal/config"
	"github.com/ganeshkumarm1/DriftWatcher/internal/eventlog"
	"github.com/ganeshkumarm1/DriftWatcher/internal/oracle"
	"github.com/ganeshkumarm1/DriftWatcher/internal/session"
)

type fakeAssessor struct {
	assessment *oracle.Assessment
	err        error
	calls      int
	lastGoal   string
}

func (f *fakeAssessor) AssessFocus(ctx context.Context, goal string, summary *activity.Summary) (*oracle.Assessment, error) {
	f.calls++
	f.lastGoal = goal
	if f.err != nil {
		return nil, f.err
	}
	return f.assessment, nil
}

type fakeAlerter struct {
	calls []float64
}

func (f *fakeAlerter) NotifyDrift(goal string, confidence float64) bool {
	f.calls = append(f.calls, confidence)
	return true
}

type fakeReporter struct {
	reports []CycleReport
}

func (f *fakeReporter) PublishCycle(report any) {
	f.reports = append(f.reports, report.(CycleReport))
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(ctx context.Context, s activity.Slice) (string, error) {
	return "IMPLEMENTATION", nil
}

type fixture struct {
	agent    *Agent
	store    *eventlog.Store
	cache    *activity.Cache
	sessions *session.Manager
	assessor *fakeAssessor
	alerter  *fakeAlerter
	reporter *fakeReporter
}

func newFixture(t *testing.T, assessment *oracle.Assessment) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := eventlog.NewStore(filepath.Join(dir, "events.log"))
	sessions := session.NewManager(
		filepath.Join(dir, "state.json"),
		filepath.Join(dir, "history.jsonl"),
	)
	assessor := &fakeAssessor{assessment: assessment}
	alerter := &fakeAlerter{}
	reporter := &fakeReporter{}
	cache := activity.LoadCache(filepath.Join(dir, "cache.json"))
	aggregator := activity.NewAggregator(fakeClassifier{}, cache)

	cfg := config.AgentConfig{
		WindowSeconds:    30,
		DriftThreshold:   0.7,
		LogRetentionDays: 7,
	}

	a := New(cfg, store, aggregator, assessor, sessions, alerter, reporter)
	st, err := sessions.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a.state = st

	return &fixture{agent: a, store: store, cache: cache, sessions: sessions, assessor: assessor, alerter: alerter, reporter: reporter}
}

func appendEvent(t *testing.T, store *eventlog.Store) {
	t.Helper()
	err := store.Append(eventlog.Event{
		URL:        "https://go.dev/doc",
		Title:      "Documentation",
		Content:    "Effective Go",
		DurationMs: 20000,
		ServerTS:   time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestRunCycle_Focused(t *testing.T) {
	f := newFixture(t, &oracle.Assessment{
		State:      oracle.StateFocused,
		Confidence: 0.9,
		Reason:     "reading language docs",
	})
	appendEvent(t, f.store)

	if err := f.agent.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	st, err := f.sessions.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.FocusState != oracle.StateFocused {
		t.Errorf("focus state = %s, want FOCUSED", st.FocusState)
	}
	if st.Confidence != 0.9 {
		t.Errorf("confidence = %v", st.Confidence)
	}
	if st.DriftCount != 0 {
		t.Errorf("drift count = %d, want 0", st.DriftCount)
	}
	if st.LastCheckTS == 0 {
		t.Error("last check timestamp not updated")
	}
	if len(f.alerter.calls) != 0 {
		t.Errorf("alerter fired %d times, want 0", len(f.alerter.calls))
	}
	if len(f.reporter.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(f.reporter.reports))
	}
	if f.reporter.reports[0].Summary == nil || f.reporter.reports[0].Summary.TotalMinutes <= 0 {
		t.Errorf("report summary = %+v", f.reporter.reports[0].Summary)
	}
}

func TestRunCycle_DriftAboveThreshold(t *testing.T) {
	f := newFixture(t, &oracle.Assessment{
		State:      oracle.StateDrifting,
		Confidence: 0.85,
		Reason:     "shopping instead",
	})
	appendEvent(t, f.store)

	if err := f.agent.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	st, _ := f.sessions.Load()
	if st.DriftCount != 1 {
		t.Errorf("drift count = %d, want 1", st.DriftCount)
	}
	if len(f.alerter.calls) != 1 {
		t.Fatalf("alerter fired %d times, want 1", len(f.alerter.calls))
	}
	if f.alerter.calls[0] != 0.85 {
		t.Errorf("alert confidence = %v", f.alerter.calls[0])
	}
}

func TestRunCycle_DriftBelowThreshold(t *testing.T) {
	f := newFixture(t, &oracle.Assessment{
		State:      oracle.StateDrifting,
		Confidence: 0.5,
	})
	appendEvent(t, f.store)

	if err := f.agent.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	st, _ := f.sessions.Load()
	if st.FocusState != oracle.StateDrifting {
		t.Errorf("focus state = %s, want DRIFTING", st.FocusState)
	}
	if st.DriftCount != 0 {
		t.Errorf("drift count = %d, want 0", st.DriftCount)
	}
	if len(f.alerter.calls) != 0 {
		t.Errorf("alerter fired %d times, want 0", len(f.alerter.calls))
	}
}

func TestRunCycle_EmptyWindowSkips(t *testing.T) {
	f := newFixture(t, &oracle.Assessment{State: oracle.StateFocused, Confidence: 0.9})

	if err := f.agent.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if f.assessor.calls != 0 {
		t.Errorf("assessor called %d times for empty window", f.assessor.calls)
	}
	if len(f.reporter.reports) != 0 {
		t.Errorf("reports = %d, want 0", len(f.reporter.reports))
	}
}

func TestRunCycle_AssessorErrorPropagates(t *testing.T) {
	f := newFixture(t, nil)
	f.assessor.err = errors.New("oracle unavailable")
	appendEvent(t, f.store)

	if err := f.agent.runCycle(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	// A failed cycle must not touch persisted state.
	st, _ := f.sessions.Load()
	if st.LastCheckTS != 0 {
		t.Errorf("last check timestamp = %d, want 0", st.LastCheckTS)
	}
}

func TestRunCycle_UsesCurrentGoal(t *testing.T) {
	f := newFixture(t, &oracle.Assessment{State: oracle.StateFocused, Confidence: 0.8})
	appendEvent(t, f.store)

	f.agent.state.Goal = "Learn Go generics"
	if err := f.agent.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if f.assessor.lastGoal != "Learn Go generics" {
		t.Errorf("assessor goal = %q", f.assessor.lastGoal)
	}
}

func TestReloadGoal_AdoptsExternalChange(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.sessions.ChangeGoal("Ship the release", func() error { return nil }); err != nil {
		t.Fatalf("ChangeGoal: %v", err)
	}

	f.agent.reloadGoal()

	f.agent.mu.Lock()
	goal := f.agent.state.Goal
	f.agent.mu.Unlock()
	if goal != "Ship the release" {
		t.Errorf("goal = %q, want %q", goal, "Ship the release")
	}
}

func TestReloadGoal_DropsStaleCacheEntries(t *testing.T) {
	f := newFixture(t, nil)

	fp := activity.Fingerprint(activity.Slice{Title: "Old Goal Page", URL: "https://old.example.com"})
	f.cache.Put(fp, activity.CategoryBrowsing)
	if err := f.cache.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Another process changes the goal: it archives the session and
	// removes the event log and cache files.
	if _, err := f.sessions.ChangeGoal("Write the report", func() error {
		if err := f.store.Clear(); err != nil {
			return err
		}
		return f.cache.Clear()
	}); err != nil {
		t.Fatalf("ChangeGoal: %v", err)
	}
	// Simulate the watcher process still holding the old entries.
	f.cache.Put(fp, activity.CategoryBrowsing)

	f.agent.reloadGoal()

	if _, ok := f.cache.Get(fp); ok {
		t.Error("stale cache entry survived goal change")
	}
	if err := f.cache.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if reloaded := activity.LoadCache(f.cache.Path()); reloaded.Len() != 0 {
		t.Errorf("cache file has %d entries after goal change, want 0", reloaded.Len())
	}
}

func TestReloadGoal_SameGoalKeepsState(t *testing.T) {
	f := newFixture(t, nil)

	f.agent.mu.Lock()
	f.agent.state.DriftCount = 3
	f.agent.mu.Unlock()

	f.agent.reloadGoal()

	f.agent.mu.Lock()
	count := f.agent.state.DriftCount
	f.agent.mu.Unlock()
	if count != 3 {
		t.Errorf("drift count = %d, want 3", count)
	}
}
