// Package eventlog is the append-only record store for browser events.
// One JSON record per line; the ingestion handler is the only writer and
// the watch loop is the only reader.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Lines longer than this are treated as corrupt records and skipped.
const maxLineBytes = 1024 * 1024

// forEachLine calls fn for every newline-delimited line in r. A line over
// maxLineBytes is fully consumed and dropped like any other corrupt
// record, so one oversized line cannot poison every later read.
func forEachLine(r io.Reader, fn func(line []byte)) error {
	br := bufio.NewReaderSize(r, maxLineBytes)
	for {
		line, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			for err == bufio.ErrBufferFull {
				_, err = br.ReadSlice('\n')
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		if len(line) > 0 {
			fn(line)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Event is one observed browser interaction. ServerTS is stamped by the
// ingestion boundary, never by the client, so append order is monotonic.
type Event struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Content     string `json:"content,omitempty"`
	DurationMs  int64  `json:"durationMs"`
	ScrollCount int    `json:"scrollCount"`
	KeyCount    int    `json:"keyCount"`
	ServerTS    int64  `json:"server_ts"`
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Append writes one event as a JSON line, flushed and fsynced before
// returning. Once Append returns nil the record survives a crash.
func (s *Store) Append(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}
	return nil
}

// ReadRecent returns events with server_ts inside the trailing window, in
// log order. Malformed lines are skipped; a missing log file is an empty
// result, not an error.
func (s *Store) ReadRecent(window time.Duration) ([]Event, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	err = forEachLine(f, func(line []byte) {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return
		}
		if ev.ServerTS >= cutoff {
			events = append(events, ev)
		}
	})
	if err != nil {
		return events, fmt.Errorf("read event log: %w", err)
	}
	return events, nil
}

// Cleanup removes records older than maxAge by rewriting the store to the
// retained suffix. The rewrite is a point-in-time snapshot: the store lock
// blocks appends for its duration, so no in-retention record is lost, and
// the temp-file/rename swap keeps the log whole if the process dies mid
// rewrite. Returns the number of records removed.
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open event log: %w", err)
	}

	cutoff := time.Now().UnixMilli() - maxAge.Milliseconds()
	var kept [][]byte
	removed := 0

	scanErr := forEachLine(f, func(line []byte) {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return
		}
		if ev.ServerTS >= cutoff {
			kept = append(kept, append([]byte(nil), line...))
		} else {
			removed++
		}
	})
	f.Close()
	if scanErr != nil {
		return 0, fmt.Errorf("read event log: %w", scanErr)
	}

	if removed == 0 {
		return 0, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".events-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp log: %w", err)
	}
	tmpPath := tmp.Name()
	for _, line := range kept {
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return 0, fmt.Errorf("write temp log: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("sync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("replace event log: %w", err)
	}
	return removed, nil
}

// Clear removes the log file entirely. Used on goal change so activity
// from the previous goal never leaks into the next one.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear event log: %w", err)
	}
	return nil
}
