// Package journal is an append-only, fsync'd log of applied feedback.
// Replaying it into a fresh orchestrator restores learned state.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
)

const (
	filePrefix = "feedback-"
	fileSuffix = ".jsonl"
	dayLayout  = "20060102"

	maxLineBytes = 1 << 20
)

// Entry is one applied feedback event
type Entry struct {
	DecisionID string       `json:"decision_id,omitempty"`
	Feedback   api.Feedback `json:"feedback"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Journal writes one JSON line per entry into a file per UTC day
type Journal struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
	now  func() time.Time
}

// Open creates dir if needed and opens today's journal file for append.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	j := &Journal{dir: dir, now: time.Now}
	if err := j.rotate(j.now().UTC().Format(dayLayout)); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns the file currently being appended to.
func (j *Journal) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.path(j.day)
}

func (j *Journal) path(day string) string {
	return filepath.Join(j.dir, filePrefix+day+fileSuffix)
}

// rotate switches to the file for day. Caller holds j.mu or owns j.
func (j *Journal) rotate(day string) error {
	if j.file != nil {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal: %w", err)
		}
		j.file = nil
	}

	file, err := os.OpenFile(j.path(day), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	j.file = file
	j.day = day
	return nil
}

// Append writes e and fsyncs before returning. The file rolls over when the
// UTC day changes.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("journal closed")
	}

	now := j.now().UTC()
	if e.RecordedAt.IsZero() {
		e.RecordedAt = now
	}
	if day := now.Format(dayLayout); day != j.day {
		if err := j.rotate(day); err != nil {
			return err
		}
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// ReplayStats reports what a replay read
type ReplayStats struct {
	Files     int `json:"files"`
	Entries   int `json:"entries"`
	Malformed int `json:"malformed"`
}

// Files lists the journal files in dir in chronological order.
func Files(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	// day-stamped names sort chronologically
	slices.Sort(paths)
	return paths, nil
}

// Replay feeds every entry in dir to fn, oldest file first. Malformed lines
// are skipped and counted; an error from fn stops the replay. A missing dir
// replays nothing.
func Replay(dir string, fn func(Entry) error) (ReplayStats, error) {
	var stats ReplayStats

	paths, err := Files(dir)
	if err != nil {
		return stats, err
	}
	for _, p := range paths {
		stats.Files++
		if err := replayFile(p, fn, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func replayFile(path string, fn func(Entry) error, stats *ReplayStats) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// torn final write after a crash
			stats.Malformed++
			continue
		}
		stats.Entries++
		if err := fn(e); err != nil {
			return fmt.Errorf("replay %s: %w", filepath.Base(path), err)
		}
	}
	return scanner.Err()
}
