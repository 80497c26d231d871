// Package state keeps the last reported value of every relay output.
package state

import (
	"sync"
	"time"
)

type outputKey struct {
	relay  uint64
	output string
}

// Cache holds output states and ping bookkeeping. It is never persisted;
// devices repopulate it with their next report.
type Cache struct {
	mu      sync.RWMutex
	outputs map[outputKey]bool

	pingMu    sync.Mutex
	pingSent  map[uint64]time.Time
	latencies map[uint64]time.Duration
}

func NewCache() *Cache {
	return &Cache{
		outputs:   make(map[outputKey]bool),
		pingSent:  make(map[uint64]time.Time),
		latencies: make(map[uint64]time.Duration),
	}
}

// SetOutputState overwrites the cached value unconditionally.
func (c *Cache) SetOutputState(relayID uint64, outputID string, on bool) {
	c.mu.Lock()
	c.outputs[outputKey{relayID, outputID}] = on
	c.mu.Unlock()
}

// OutputState returns the cached value and whether one was ever reported.
func (c *Cache) OutputState(relayID uint64, outputID string) (on, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	on, known = c.outputs[outputKey{relayID, outputID}]
	return on, known
}

// AllStates returns a copy of every cached value keyed by relay then output.
func (c *Cache) AllStates() map[uint64]map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint64]map[string]bool)
	for k, v := range c.outputs {
		m, ok := out[k.relay]
		if !ok {
			m = make(map[string]bool)
			out[k.relay] = m
		}
		m[k.output] = v
	}
	return out
}

// ForgetRelay drops every cached output of a relay.
func (c *Cache) ForgetRelay(relayID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.outputs {
		if k.relay == relayID {
			delete(c.outputs, k)
		}
	}
}

// PingSent records when a ping command was published to a relay.
func (c *Cache) PingSent(relayID uint64, at time.Time) {
	c.pingMu.Lock()
	c.pingSent[relayID] = at
	c.pingMu.Unlock()
}

// PingReceived completes an outstanding ping and returns its round-trip time.
// ok is false for unsolicited pings.
func (c *Cache) PingReceived(relayID uint64, at time.Time) (latency time.Duration, ok bool) {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	sent, ok := c.pingSent[relayID]
	if !ok {
		return 0, false
	}
	delete(c.pingSent, relayID)
	latency = at.Sub(sent)
	c.latencies[relayID] = latency
	return latency, true
}

// Latencies returns the last round-trip sample per relay.
func (c *Cache) Latencies() map[uint64]time.Duration {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	out := make(map[uint64]time.Duration, len(c.latencies))
	for k, v := range c.latencies {
		out[k] = v
	}
	return out
}
