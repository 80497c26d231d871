package hub

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func newTestHub(queue int) *Hub {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(logger, queue, time.Second)
}

type fakeSink struct {
	mu      sync.Mutex
	msgs    []string
	closed  bool
	fail    error
	block   chan struct{}
	entered chan struct{}
	got     chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{got: make(chan struct{}, 128)}
}

func (f *fakeSink) Send(ctx context.Context, data []byte) error {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, string(data))
	select {
	case f.got <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

func (f *fakeSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestBroadcastScopedByChannel(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	lights, rcm := newFakeSink(), newFakeSink()
	if _, err := h.Subscribe(lights, Lights); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Subscribe(rcm, Topology); err != nil {
		t.Fatal(err)
	}

	h.Broadcast(Lights, map[string]string{"type": "test"})
	waitFor(t, func() bool { return len(lights.messages()) == 1 })

	time.Sleep(20 * time.Millisecond)
	if n := len(rcm.messages()); n != 0 {
		t.Errorf("rcm received %d messages, want 0", n)
	}
	if got := lights.messages()[0]; got != `{"type":"test"}` {
		t.Errorf("message = %s", got)
	}
}

func TestSendDirect(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	a, b := newFakeSink(), newFakeSink()
	subA, _ := h.Subscribe(a, Lights)
	h.Subscribe(b, Lights)

	if err := h.SendDirect(subA, "hello"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(a.messages()) == 1 })
	if len(b.messages()) != 0 {
		t.Error("direct message leaked to another subscriber")
	}

	h.Unsubscribe(subA)
	if err := h.SendDirect(subA, "again"); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if !a.isClosed() {
		t.Error("unsubscribe did not close the sink")
	}
}

func TestFailedSubscriberRemoved(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	bad := newFakeSink()
	bad.fail = errors.New("broken pipe")
	good := newFakeSink()
	badSub, _ := h.Subscribe(bad, Lights)
	h.Subscribe(good, Lights)

	h.Broadcast(Lights, 1)
	waitFor(t, func() bool { return len(good.messages()) == 1 })

	select {
	case <-badSub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("failed subscriber was not removed")
	}
	if h.Count(Lights) != 1 {
		t.Errorf("count = %d, want 1", h.Count(Lights))
	}

	h.Broadcast(Lights, 2)
	waitFor(t, func() bool { return len(good.messages()) == 2 })
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := newTestHub(4)
	defer h.Close()

	slow := newFakeSink()
	slow.block = make(chan struct{})
	slow.entered = make(chan struct{}, 1)
	fast := newFakeSink()
	slowSub, _ := h.Subscribe(slow, Topology)
	h.Subscribe(fast, Topology)

	h.Broadcast(Topology, 0)
	select {
	case <-slow.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("slow sink never started writing")
	}
	for i := 1; i < 20; i++ {
		h.Broadcast(Topology, i)
	}
	// The fast sink has its own queue of 4 and may drop under this burst
	// too, but it keeps draining while the slow one is stuck.
	waitFor(t, func() bool {
		msgs := fast.messages()
		return len(msgs) > 0 && msgs[len(msgs)-1] == "19"
	})

	// The first message is in flight, the rest overflowed a queue of 4.
	waitFor(t, func() bool { return slowSub.Dropped() > 0 })
	close(slow.block)
	waitFor(t, func() bool { return len(slow.messages()) == 5 })

	msgs := slow.messages()
	if msgs[len(msgs)-1] != "19" {
		t.Errorf("last delivered = %s, want 19 (newest kept)", msgs[len(msgs)-1])
	}
}

func TestCloseClosesSinks(t *testing.T) {
	h := newTestHub(4)
	sinks := []*fakeSink{newFakeSink(), newFakeSink(), newFakeSink()}
	for i, s := range sinks {
		h.Subscribe(s, Channels()[i])
	}
	h.Close()
	for i, s := range sinks {
		if !s.isClosed() {
			t.Errorf("sink %d not closed", i)
		}
	}
	if _, err := h.Subscribe(newFakeSink(), Lights); !errors.Is(err, ErrClosed) {
		t.Errorf("subscribe after close err = %v", err)
	}
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		path string
		want Channel
		ok   bool
	}{
		{"/lights/ws/42", Lights, true},
		{"/rcm/ws/abc", Topology, true},
		{"/heating/ws/1", Heating, true},
		{"/blinds/ws/", Blinds, true},
		{"/garage/ws/1", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseChannel(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseChannel(%q) = %v/%v, want %v/%v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDirectMessagesSurviveOverflow(t *testing.T) {
	h := newTestHub(4)
	defer h.Close()

	sink := newFakeSink()
	sink.block = make(chan struct{})
	sink.entered = make(chan struct{}, 1)
	sub, _ := h.Subscribe(sink, Lights)

	h.Broadcast(Lights, 0)
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never started writing")
	}
	if err := h.SendDirect(sub, "dump"); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 10; i++ {
		h.Broadcast(Lights, i)
	}
	close(sink.block)
	waitFor(t, func() bool { return len(sink.messages()) == 5 })

	msgs := sink.messages()
	if msgs[1] != `"dump"` {
		t.Errorf("messages = %v, want direct message kept", msgs)
	}
	if msgs[len(msgs)-1] != "10" {
		t.Errorf("last delivered = %s, want 10", msgs[len(msgs)-1])
	}
	if sub.Dropped() != 7 {
		t.Errorf("dropped = %d, want 7", sub.Dropped())
	}
}
