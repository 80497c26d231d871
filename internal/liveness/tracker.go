// Package liveness tracks which mesh devices have reported recently.
package liveness

import (
	"context"
	"slices"
	"sync"
	"time"

	"domator-go/internal/store"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 30 * time.Second
)

type entry struct {
	kind     store.Kind
	lastSeen time.Time
	online   bool
}

// Snapshot is a consistent view of the online set.
type Snapshot struct {
	Relays   []uint64
	Switches []uint64
	Root     uint64
	RootSeen bool
}

// Online reports whether id is in the snapshot's online set.
func (s Snapshot) Online(id uint64) bool {
	if s.RootSeen && s.Root == id {
		return true
	}
	_, ok := slices.BinarySearch(s.Relays, id)
	if ok {
		return true
	}
	_, ok = slices.BinarySearch(s.Switches, id)
	return ok
}

// Tracker holds last-seen timestamps. Devices never seen are absent.
type Tracker struct {
	mu      sync.Mutex
	timeout time.Duration
	entries map[uint64]*entry
	now     func() time.Time
}

func New(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		timeout: timeout,
		entries: make(map[uint64]*entry),
		now:     time.Now,
	}
}

// SetClock replaces the time source used by Run.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// MarkOnline records a sighting and reports whether the device just came online.
func (t *Tracker) MarkOnline(id uint64, kind store.Kind, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &entry{}
		t.entries[id] = e
	}
	if kind != "" {
		e.kind = kind
	}
	if now.After(e.lastSeen) {
		e.lastSeen = now
	}
	if e.online {
		return false
	}
	e.online = true
	return true
}

// MarkOffline forces a device offline and reports whether it was online.
func (t *Tracker) MarkOffline(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || !e.online {
		return false
	}
	e.online = false
	return true
}

// Forget removes a device entirely.
func (t *Tracker) Forget(id uint64) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Sweep moves every device not seen within the timeout offline and returns
// the ids that changed.
func (t *Tracker) Sweep(now time.Time) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var changed []uint64
	for id, e := range t.entries {
		if e.online && now.Sub(e.lastSeen) > t.timeout {
			e.online = false
			changed = append(changed, id)
		}
	}
	slices.Sort(changed)
	return changed
}

// LastSeen returns the last sighting of a device.
func (t *Tracker) LastSeen(id uint64) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s Snapshot
	for id, e := range t.entries {
		if !e.online {
			continue
		}
		switch e.kind {
		case store.KindRoot:
			s.Root, s.RootSeen = id, true
		case store.KindRelay:
			s.Relays = append(s.Relays, id)
		default:
			s.Switches = append(s.Switches, id)
		}
	}
	slices.Sort(s.Relays)
	slices.Sort(s.Switches)
	return s
}

// Run sweeps every interval until ctx is done. onChange is called outside
// the tracker lock with the ids that went offline.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, onChange func(offline []uint64)) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			now := t.now()
			t.mu.Unlock()
			if changed := t.Sweep(now); len(changed) > 0 && onChange != nil {
				onChange(changed)
			}
		}
	}
}
