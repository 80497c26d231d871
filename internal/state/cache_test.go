package state

import (
	"sync"
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	c := NewCache()

	if _, known := c.OutputState(1, "a"); known {
		t.Fatal("empty cache reported a known state")
	}

	c.SetOutputState(1074130365, "b", true)
	on, known := c.OutputState(1074130365, "b")
	if !known || !on {
		t.Errorf("state = %v/%v, want true/true", on, known)
	}

	c.SetOutputState(1074130365, "b", false)
	if on, _ := c.OutputState(1074130365, "b"); on {
		t.Error("overwrite to false did not stick")
	}
}

func TestAllStatesIsCopy(t *testing.T) {
	c := NewCache()
	c.SetOutputState(1, "a", true)
	c.SetOutputState(1, "b", false)
	c.SetOutputState(2, "a", true)

	all := c.AllStates()
	if len(all) != 2 || len(all[1]) != 2 || !all[2]["a"] {
		t.Fatalf("all = %v", all)
	}

	all[1]["a"] = false
	if on, _ := c.OutputState(1, "a"); !on {
		t.Error("cache observed mutation of snapshot")
	}
}

func TestForgetRelay(t *testing.T) {
	c := NewCache()
	c.SetOutputState(1, "a", true)
	c.SetOutputState(2, "a", true)
	c.ForgetRelay(1)

	if _, known := c.OutputState(1, "a"); known {
		t.Error("relay 1 still cached")
	}
	if _, known := c.OutputState(2, "a"); !known {
		t.Error("relay 2 forgotten")
	}
}

func TestPingLatency(t *testing.T) {
	c := NewCache()
	t0 := time.Unix(1000, 0)

	if _, ok := c.PingReceived(1, t0); ok {
		t.Fatal("unsolicited ping produced a sample")
	}

	c.PingSent(1, t0)
	lat, ok := c.PingReceived(1, t0.Add(40*time.Millisecond))
	if !ok || lat != 40*time.Millisecond {
		t.Errorf("latency = %v/%v, want 40ms", lat, ok)
	}
	if _, ok := c.PingReceived(1, t0.Add(time.Second)); ok {
		t.Error("duplicate pong produced a second sample")
	}
	if got := c.Latencies()[1]; got != 40*time.Millisecond {
		t.Errorf("stored latency = %v", got)
	}
}

func TestConcurrentWrites(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.SetOutputState(uint64(i), "a", j%2 == 0)
				c.AllStates()
			}
		}(i)
	}
	wg.Wait()
	if len(c.AllStates()) != 16 {
		t.Errorf("relays = %d, want 16", len(c.AllStates()))
	}
}
