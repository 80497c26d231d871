package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"domator-go/internal/store"
)

func TestSweepBoundary(t *testing.T) {
	timeout := 30 * time.Second
	t0 := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name        string
		at          time.Time
		wantOffline bool
	}{
		{"before timeout", t0.Add(timeout - time.Second), false},
		{"at timeout", t0.Add(timeout), false},
		{"after timeout", t0.Add(timeout + time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(timeout)
			tr.MarkOnline(7, store.KindSwitch, t0)
			changed := tr.Sweep(tt.at)
			if got := len(changed) == 1; got != tt.wantOffline {
				t.Errorf("changed = %v, want offline=%v", changed, tt.wantOffline)
			}
			if online := tr.Snapshot().Online(7); online == tt.wantOffline {
				t.Errorf("online = %v after sweep", online)
			}
		})
	}
}

func TestMarkOnlineTransitions(t *testing.T) {
	tr := New(time.Second)
	t0 := time.Unix(0, 0)

	if !tr.MarkOnline(1, store.KindRelay, t0) {
		t.Error("first sighting did not report a transition")
	}
	if tr.MarkOnline(1, store.KindRelay, t0.Add(time.Millisecond)) {
		t.Error("repeated sighting reported a transition")
	}
	if !tr.MarkOffline(1) {
		t.Error("mark offline of online device returned false")
	}
	if tr.MarkOffline(1) {
		t.Error("mark offline twice returned true")
	}
	if tr.MarkOffline(99) {
		t.Error("mark offline of unknown device returned true")
	}
	if !tr.MarkOnline(1, store.KindRelay, t0.Add(time.Second)) {
		t.Error("coming back online did not report a transition")
	}
	if seen, ok := tr.LastSeen(1); !ok || !seen.Equal(t0.Add(time.Second)) {
		t.Errorf("last seen = %v/%v", seen, ok)
	}
}

func TestSnapshotByKind(t *testing.T) {
	tr := New(time.Minute)
	now := time.Now()
	tr.MarkOnline(30, store.KindRelay, now)
	tr.MarkOnline(10, store.KindRelay, now)
	tr.MarkOnline(5, store.KindSwitch, now)
	tr.MarkOnline(1, store.KindRoot, now)
	tr.MarkOnline(6, store.KindSwitch, now)
	tr.MarkOffline(6)

	s := tr.Snapshot()
	if len(s.Relays) != 2 || s.Relays[0] != 10 || s.Relays[1] != 30 {
		t.Errorf("relays = %v, want [10 30]", s.Relays)
	}
	if len(s.Switches) != 1 || s.Switches[0] != 5 {
		t.Errorf("switches = %v, want [5]", s.Switches)
	}
	if !s.RootSeen || s.Root != 1 {
		t.Errorf("root = %d/%v", s.Root, s.RootSeen)
	}
	if s.Online(6) {
		t.Error("offline switch reported online")
	}
}

func TestRunSweeps(t *testing.T) {
	tr := New(time.Second)
	t0 := time.Unix(0, 0)
	tr.MarkOnline(3, store.KindRelay, t0)
	tr.SetClock(func() time.Time { return t0.Add(time.Hour) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	done := make(chan []uint64, 1)
	go tr.Run(ctx, 5*time.Millisecond, func(ids []uint64) {
		once.Do(func() { done <- ids })
	})

	select {
	case ids := <-done:
		if len(ids) != 1 || ids[0] != 3 {
			t.Errorf("offline = %v, want [3]", ids)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never reported")
	}
}
