package journal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
)

func testFeedback(actionID string, reward float64) api.Feedback {
	c := api.NewContext("u1", "content_analysis", map[string]float64{"priority": 0.9})
	return api.NewFeedback(c, api.Action{ActionID: actionID, Algorithm: api.AlgorithmDoublyRobust}, reward)
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i, r := range []float64{0.1, 0.5, 0.9} {
		if err := j.Append(Entry{DecisionID: api.ActionID(i), Feedback: testFeedback(api.ActionID(i), r)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []Entry
	stats, err := Replay(dir, func(e Entry) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if stats.Files != 1 || stats.Entries != 3 || stats.Malformed != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[2].Feedback.Reward != 0.9 {
		t.Errorf("expected last reward 0.9, got %v", got[2].Feedback.Reward)
	}
	if got[1].Feedback.Action.ActionID != "1" || got[1].Feedback.Context.Domain != "content_analysis" {
		t.Errorf("entry did not round-trip: %+v", got[1])
	}
	if got[0].RecordedAt.IsZero() {
		t.Error("RecordedAt should be stamped on append")
	}
}

func TestDailyRotation(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	day1 := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	j.now = func() time.Time { return day1 }
	if err := j.Append(Entry{Feedback: testFeedback("0", 1)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	j.now = func() time.Time { return day1.Add(2 * time.Minute) }
	if err := j.Append(Entry{Feedback: testFeedback("1", 0)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if filepath.Base(j.Path()) != "feedback-20250602.jsonl" {
		t.Errorf("unexpected current path %s", j.Path())
	}

	files, err := Files(dir)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	// today's file from Open plus the two explicit days
	want := map[string]bool{"feedback-20250601.jsonl": true, "feedback-20250602.jsonl": true}
	seen := 0
	for _, f := range files {
		if want[filepath.Base(f)] {
			seen++
		}
	}
	if seen != 2 {
		t.Errorf("expected both day files, got %v", files)
	}

	var order []string
	if _, err := Replay(dir, func(e Entry) error {
		order = append(order, e.Feedback.Action.ActionID)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(order) != 2 || order[0] != "0" || order[1] != "1" {
		t.Errorf("expected chronological replay [0 1], got %v", order)
	}
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"decision_id":"a","feedback":{"reward":1,"action":{"action_id":"0","algorithm":"offset_tree"},"context":{"domain":"model_routing"}}}
not json
{"decision_id":"b","feedback":{"reward":0,"action":{"action_id":"1","algorithm":"offset_tree"},"context":{"domain":"model_routing"}}}
{"decision_id":"c","feedb`
	if err := os.WriteFile(filepath.Join(dir, "feedback-20250101.jsonl"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	count := 0
	stats, err := Replay(dir, func(Entry) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 2 || stats.Malformed != 2 {
		t.Errorf("expected 2 entries and 2 malformed, got %d and %+v", count, stats)
	}
}

func TestReplayStopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.Append(Entry{Feedback: testFeedback("0", 1)})
	j.Append(Entry{Feedback: testFeedback("1", 1)})
	j.Close()

	boom := errors.New("boom")
	calls := 0
	_, err = Replay(dir, func(Entry) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected replay to stop after 1 call, got %d", calls)
	}
}

func TestReplayMissingDir(t *testing.T) {
	stats, err := Replay(filepath.Join(t.TempDir(), "absent"), func(Entry) error { return nil })
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if stats.Files != 0 {
		t.Errorf("expected no files, got %d", stats.Files)
	}
}

func TestAppendAfterClose(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.Close()

	if err := j.Append(Entry{Feedback: testFeedback("0", 1)}); err == nil {
		t.Error("expected error appending to closed journal")
	}
}
