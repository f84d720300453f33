package watcher

import (
	"sync"
	"testing"
	"time"
)

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      string
	}{
		{EventCreate, "create"},
		{EventModify, "modify"},
		{EventDelete, "delete"},
		{EventRename, "rename"},
		{EventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.eventType.String()
			if got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DebounceMs != 200 {
		t.Errorf("DebounceMs = %d, want 200", cfg.DebounceMs)
	}
	if cfg.MaxDelayMs != 2000 {
		t.Errorf("MaxDelayMs = %d, want 2000", cfg.MaxDelayMs)
	}
}

func TestBatchDebouncerCoalesces(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Event

	b := NewBatchDebouncer(30*time.Millisecond, time.Second, func(events []Event) {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
	})

	b.Add(Event{Path: "a"})
	b.Add(Event{Path: "b"})
	b.Add(Event{Path: "c"})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Errorf("batch size = %d, want 3", len(batches[0]))
	}
}

func TestBatchDebouncerWindowRestarts(t *testing.T) {
	var mu sync.Mutex
	count := 0

	b := NewBatchDebouncer(50*time.Millisecond, time.Second, func([]Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	// Keep adding within the quiet window; nothing should fire yet.
	for i := 0; i < 4; i++ {
		b.Add(Event{Path: "x"})
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		if count != 0 {
			mu.Unlock()
			t.Fatal("emitted during active window")
		}
		mu.Unlock()
	}

	time.Sleep(120 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestBatchDebouncerMaxDelayBoundsLatency(t *testing.T) {
	var mu sync.Mutex
	count := 0

	b := NewBatchDebouncer(40*time.Millisecond, 120*time.Millisecond, func([]Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	// A steady event stream that always restarts the quiet window; the
	// deadline must force an emission anyway.
	stop := time.After(300 * time.Millisecond)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-tick.C:
			b.Add(Event{Path: "x"})
		case <-stop:
			break loop
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		t.Error("deadline never forced an emission under a steady event stream")
	}
}

func TestBatchDebouncerCancel(t *testing.T) {
	fired := false
	b := NewBatchDebouncer(20*time.Millisecond, time.Second, func([]Event) {
		fired = true
	})

	b.Add(Event{Path: "a"})
	if b.EventCount() != 1 {
		t.Errorf("EventCount = %d, want 1", b.EventCount())
	}
	b.Cancel()

	time.Sleep(60 * time.Millisecond)
	if fired {
		t.Error("cancelled batch must not emit")
	}
	if b.EventCount() != 0 {
		t.Errorf("EventCount = %d, want 0", b.EventCount())
	}
}

func TestBatchDebouncerFlush(t *testing.T) {
	var got []Event
	b := NewBatchDebouncer(time.Hour, 0, func(events []Event) {
		got = events
	})

	b.Add(Event{Path: "a"})
	b.Flush()

	if len(got) != 1 || got[0].Path != "a" {
		t.Errorf("flushed events = %+v", got)
	}
}
