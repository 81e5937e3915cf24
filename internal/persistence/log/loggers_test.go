package log

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"advtrack/internal/tracker"
)

func TestTickLogger_RoundTripAndRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	clock := time.Date(2024, 3, 1, 12, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	p := uuid.New()
	if err := l.WriteTick(tracker.TickLogEntry{Tick: 1, Role: "host", Invalidated: true,
		Changes: []tracker.DesignationChange{{ObjectiveID: "O", To: p}}}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	if err := l.WriteTick(tracker.TickLogEntry{Tick: 2, Role: "host", NetChanged: true}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := l.WriteTick(tracker.TickLogEntry{Tick: 3, Role: "idle"}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := Files(filepath.Join(dir, "ticks"), "ticks")
	if err != nil || len(files) != 2 {
		t.Fatalf("files: %v err=%v", files, err)
	}
	first, err := ReadTicks(files[0])
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(first) != 2 || first[0].Tick != 1 || first[0].Changes[0].To != p || !first[1].NetChanged {
		t.Fatalf("first file: %+v", first)
	}
	second, err := ReadTicks(files[1])
	if err != nil || len(second) != 1 || second[0].Role != "idle" {
		t.Fatalf("second file: %+v err=%v", second, err)
	}
}

func TestHourlyWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	fixed := func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	for i := 0; i < 2; i++ {
		w := NewHourlyWriter(dir, "ticks")
		w.now = fixed
		if err := w.Write(tracker.TickLogEntry{Tick: uint64(i)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	files, _ := Files(dir, "ticks")
	if len(files) != 1 {
		t.Fatalf("files: %v", files)
	}
	got, err := ReadTicks(files[0])
	if err != nil || len(got) != 2 {
		t.Fatalf("entries: %d err=%v", len(got), err)
	}
}
