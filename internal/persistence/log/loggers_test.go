package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"gridpilot.ai/internal/nav/navigator"
)

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, nil, func(ev navigator.Event) string {
		if ev.Ship == 7 {
			return "Miner 1"
		}
		return ""
	})
	events := []navigator.Event{
		{Tick: 3, Ship: 7, Navigator: "FlyToGrid", Kind: navigator.EventTransition, From: "None", To: "Approach"},
		{Tick: 9, Ship: 7, Navigator: "FlyToGrid", Kind: navigator.EventReserve, Target: 12},
		{Tick: 40, Ship: 8, Navigator: "Stopper", Kind: navigator.EventComplete, To: "Move", Detail: "stopped"},
	}
	for _, ev := range events {
		j.Record(ev)
	}
	path := j.Path()
	if filepath.Dir(path) != filepath.Join(dir, "journal") {
		t.Fatalf("path=%s", path)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if j.Failed() != 0 {
		t.Fatalf("failed=%d", j.Failed())
	}

	got, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("got %d entries: %s", len(got), spew.Sdump(got))
	}
	for i := range events {
		if got[i].Event != events[i] {
			t.Fatalf("entry %d: %s", i, spew.Sdump(got[i]))
		}
	}
	if got[0].Ship != "Miner 1" || got[2].Ship != "" {
		t.Fatalf("names %q %q", got[0].Ship, got[2].Ship)
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "nav")
	at := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	first := w.Path()
	at = at.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	second := w.Path()
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if first == second || filepath.Base(second) != "nav-2026-03-01-11.jsonl.zst" {
		t.Fatalf("paths %s %s", first, second)
	}
	for _, p := range []string{first, second} {
		if st, err := os.Stat(p); err != nil || st.Size() == 0 {
			t.Fatalf("%s: %v", p, err)
		}
	}
}
