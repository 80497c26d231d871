// Package hub fans messages out to subscribers grouped by channel. Each
// subscriber has its own bounded queue and writer goroutine, so a slow or
// broken subscriber never delays the others.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed hub or subscriber.
var ErrClosed = errors.New("hub closed")

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 10 * time.Second
)

// Sink is the transport end of one subscriber.
type Sink interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Subscriber is a registered sink.
type Subscriber struct {
	ID      string
	Channel Channel

	sink  Sink
	limit int

	mu      sync.Mutex
	queue   []queued
	dropped int

	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// Done is closed once the subscriber has been removed from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Dropped returns how many queued messages were discarded on overflow.
func (s *Subscriber) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

type queued struct {
	data   []byte
	direct bool
}

// enqueue appends data. When the queue is full the oldest broadcast entry
// is discarded; direct messages are never dropped.
func (s *Subscriber) enqueue(data []byte, direct bool) {
	s.mu.Lock()
	if len(s.queue) >= s.limit {
		for i, q := range s.queue {
			if !q.direct {
				s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
				s.dropped++
				break
			}
		}
	}
	s.queue = append(s.queue, queued{data: data, direct: direct})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscriber) pop() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	data := s.queue[0].data
	s.queue = s.queue[1:]
	return data, true
}

// Hub manages subscribers and broadcasts messages to them.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
	wg     sync.WaitGroup

	queueSize    int
	writeTimeout time.Duration
	logger       *slog.Logger
}

func New(logger *slog.Logger, queueSize int, writeTimeout time.Duration) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{
		subs:         make(map[*Subscriber]struct{}),
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "hub"),
	}
}

// Subscribe registers sink on ch and starts its writer.
func (h *Hub) Subscribe(sink Sink, ch Channel) (*Subscriber, error) {
	sub := &Subscriber{
		ID:      uuid.NewString(),
		Channel: ch,
		sink:    sink,
		limit:   h.queueSize,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs[sub] = struct{}{}
	total := len(h.subs)
	h.wg.Add(1)
	h.mu.Unlock()

	go h.writeLoop(sub)
	h.logger.Debug("subscriber added", "id", sub.ID, "channel", ch, "total", total)
	return sub, nil
}

// Unsubscribe removes sub and closes its sink. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if h.remove(sub) {
		h.logger.Debug("subscriber removed", "id", sub.ID, "channel", sub.Channel)
	}
}

func (h *Hub) remove(sub *Subscriber) bool {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if !ok {
		return false
	}
	sub.doneOnce.Do(func() { close(sub.done) })
	sub.sink.Close()
	return true
}

// Broadcast delivers msg, encoded as JSON, to every subscriber of ch.
func (h *Hub) Broadcast(ch Channel, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("broadcast marshal", "channel", ch, "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.Channel == ch {
			sub.enqueue(data, false)
		}
	}
}

// SendDirect delivers msg to a single subscriber. Direct messages survive
// queue overflow.
func (h *Hub) SendDirect(sub *Subscriber, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subs[sub]; !ok {
		return ErrClosed
	}
	sub.enqueue(data, true)
	return nil
}

// Count returns the number of subscribers on ch.
func (h *Hub) Count(ch Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.subs {
		if sub.Channel == ch {
			n++
		}
	}
	return n
}

// Close removes every subscriber, closing their sinks, and waits for the
// writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub)
	}
	h.wg.Wait()
}

func (h *Hub) writeLoop(sub *Subscriber) {
	defer h.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}
		for {
			data, ok := sub.pop()
			if !ok {
				break
			}
			ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
			err := sub.sink.Send(ctx, data)
			cancel()
			if err != nil {
				if h.remove(sub) {
					h.logger.Warn("delivery failed, subscriber removed", "id", sub.ID, "channel", sub.Channel, "err", err)
				}
				return
			}
		}
	}
}
