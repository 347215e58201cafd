// Package session persists the focus-tracking state for the current goal
// and the archival history of past goals.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ganeshkumarm1/DriftWatcher/internal/oracle"
)

const defaultGoal = "No goal set"

// State is the live session record. Exactly one exists per process; only
// the watch loop mutates it, and every mutation is persisted so a restart
// resumes the same session.
type State struct {
	Goal           string            `json:"goal"`
	FocusState     oracle.FocusState `json:"focus_state"`
	Confidence     float64           `json:"confidence"`
	DriftCount     int               `json:"drift_count"`
	SessionStartTS int64             `json:"session_start_ts"`
	LastCheckTS    int64             `json:"last_check_ts"`
}

// HistoryEntry is the immutable archive of one finished goal session.
type HistoryEntry struct {
	ID         string            `json:"id"`
	Goal       string            `json:"goal"`
	StartTS    int64             `json:"start_ts"`
	EndTS      int64             `json:"end_ts"`
	DriftCount int               `json:"drift_count"`
	FinalState oracle.FocusState `json:"final_state"`
	Confidence float64           `json:"confidence"`
}

type Manager struct {
	statePath   string
	historyPath string
	mu          sync.Mutex
}

func NewManager(statePath, historyPath string) *Manager {
	return &Manager{statePath: statePath, historyPath: historyPath}
}

func defaultState() *State {
	return &State{
		Goal:           defaultGoal,
		FocusState:     oracle.StateExploring,
		Confidence:     0.5,
		SessionStartTS: time.Now().UnixMilli(),
	}
}

// Load returns the persisted state, or the default state when no file
// exists yet. First-run and post-cleanup are indistinguishable.
func (m *Manager) Load() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *Manager) load() (*State, error) {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	st := defaultState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return st, nil
}

// Save persists the state with a whole-file atomic replace so a crash
// mid-write leaves the previous state intact.
func (m *Manager) Save(st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(st)
}

func (m *Manager) save(st *State) error {
	dir := filepath.Dir(m.statePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpPath, m.statePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// ChangeGoal installs a new goal. When it differs from the persisted one,
// the current session is archived to history, goal-scoped artifacts are
// removed via cleanup (event log, classification cache), and drift
// tracking restarts. First run or an unchanged goal changes nothing else.
func (m *Manager) ChangeGoal(goal string, cleanup func() error) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load()
	if err != nil {
		return nil, err
	}

	if st.Goal == goal {
		return st, nil
	}

	if st.Goal != "" && st.Goal != defaultGoal {
		if err := m.appendHistory(HistoryEntry{
			ID:         uuid.NewString(),
			Goal:       st.Goal,
			StartTS:    st.SessionStartTS,
			EndTS:      time.Now().UnixMilli(),
			DriftCount: st.DriftCount,
			FinalState: st.FocusState,
			Confidence: st.Confidence,
		}); err != nil {
			return nil, err
		}
		if cleanup != nil {
			if err := cleanup(); err != nil {
				return nil, fmt.Errorf("clear goal artifacts: %w", err)
			}
		}
		log.Printf("[session] archived session for goal %q (drift count %d)", st.Goal, st.DriftCount)
	}

	st.Goal = goal
	st.FocusState = oracle.StateExploring
	st.Confidence = 0.5
	st.DriftCount = 0
	st.SessionStartTS = time.Now().UnixMilli()
	st.LastCheckTS = 0

	if err := m.save(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (m *Manager) appendHistory(entry HistoryEntry) error {
	if err := os.MkdirAll(filepath.Dir(m.historyPath), 0755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.OpenFile(m.historyPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns archived sessions in archival order. Corrupt lines are
// skipped, a missing file is an empty history.
func (m *Manager) History() ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(m.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry HistoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan history: %w", err)
	}
	return entries, nil
}

// StatePath exposes the state file location for the goal-change watcher.
func (m *Manager) StatePath() string {
	return m.statePath
}
