package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"domator-go/internal/hub"
	"domator-go/internal/protocol"
	"domator-go/internal/store"
)

func TestOnSubscribeLights(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddRelay(2, "r", 8)
	env.cache.SetOutputState(2, "b", true)
	env.cache.SetOutputState(2, "a", false)
	sub := &hub.Subscriber{Channel: hub.Lights}

	env.router.OnSubscribe(sub)

	got := env.hub.direct(sub)
	if len(got) != 2 {
		t.Fatalf("initial dump = %v", got)
	}
	if !strings.Contains(got[0], `"type":"configuration"`) || !strings.Contains(got[0], `"name":"Output 1"`) {
		t.Errorf("configuration = %s", got[0])
	}
	want := `{"type":"states","states":[` +
		`{"type":"light_state","relay_id":2,"output_id":"a","state":0},` +
		`{"type":"light_state","relay_id":2,"output_id":"b","state":1}]}`
	if got[1] != want {
		t.Errorf("states = %s", got[1])
	}
}

func TestOnSubscribeTopologyAndBlinds(t *testing.T) {
	env := newTestEnv(t)
	rcm := &hub.Subscriber{Channel: hub.Topology}
	env.router.OnSubscribe(rcm)
	got := env.hub.direct(rcm)
	if len(got) != 2 || !strings.Contains(got[0], `"online_status"`) || got[1] != `{"type":"states","states":[]}` {
		t.Errorf("topology dump = %v", got)
	}

	env.router.OnSubscribe(&hub.Subscriber{Channel: hub.Blinds})
	if pubs := env.tr.published(); len(pubs) != 1 || pubs[0] != (published{"blind/cmd", "S"}) {
		t.Errorf("blind refresh = %v", pubs)
	}
}

func TestHandleClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		channel hub.Channel
		msg     string
		want    []published
	}{
		{"set output", hub.Lights, `{"relay_id":1074130365,"output_id":"c","state":1}`,
			[]published{{"relay/cmd/1074130365", "c1"}}},
		{"set output string id", hub.Lights, `{"type":"set","relay_id":"7","output_id":"a","state":0}`,
			[]published{{"relay/cmd/7", "a0"}}},
		{"toggle", hub.Lights, `{"type":"toggle","relay_id":7,"output_id":"a"}`,
			[]published{{"relay/cmd/7", "a1"}}},
		{"update device", hub.Topology, `{"type":"update_device","device_id":12,"device_type":"switch"}`,
			[]published{{"switch/cmd/12", "U"}}},
		{"update relays", hub.Topology, `{"type":"update_all_relays"}`,
			[]published{{"relay/cmd", "U"}}},
		{"update switches", hub.Topology, `{"type":"update_all_switches"}`,
			[]published{{"switch/cmd", "U"}}},
		{"update root", hub.Topology, `{"type":"update_root"}`,
			[]published{{"switch/cmd/root", "U"}}},
		{"blind", hub.Blinds, `{"blind":"b2","position":30}`,
			[]published{{"blind/cmd", "b30"}}},
		{"heating", hub.Heating, `{"target":45}`,
			[]published{{"heating/cmd", `{"target":45}`}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if err := env.router.HandleClientMessage(&hub.Subscriber{Channel: tt.channel}, []byte(tt.msg)); err != nil {
				t.Fatalf("HandleClientMessage: %v", err)
			}
			got := env.tr.published()
			if len(got) != len(tt.want) {
				t.Fatalf("published = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("publish %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHandleClientMessageErrors(t *testing.T) {
	tests := []struct {
		name    string
		channel hub.Channel
		msg     string
		target  error
	}{
		{"bad json", hub.Lights, `{`, nil},
		{"unknown lights type", hub.Lights, `{"type":"dance"}`, ErrUnknownCommand},
		{"unknown topology type", hub.Topology, `{"type":"dance"}`, ErrUnknownCommand},
		{"missing state", hub.Lights, `{"relay_id":1,"output_id":"a"}`, nil},
		{"bad device type", hub.Topology, `{"type":"update_device","device_id":1,"device_type":"toaster"}`, store.ErrInvalid},
		{"blind out of range", hub.Blinds, `{"blind":"b1","position":140}`, nil},
		{"heating not json", hub.Heating, `target=4`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			err := env.router.HandleClientMessage(&hub.Subscriber{Channel: tt.channel}, []byte(tt.msg))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("err = %v, want %v", err, tt.target)
			}
			if pubs := env.tr.published(); len(pubs) != 0 {
				t.Errorf("published on error: %v", pubs)
			}
		})
	}
}

func TestClientSectionCommands(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddRelay(3, "r", 8)
	sub := &hub.Subscriber{Channel: hub.Lights}

	if err := env.router.HandleClientMessage(sub, []byte(`{"type":"add_section","name":"Kitchen"}`)); err != nil {
		t.Fatal(err)
	}
	sections, _ := env.store.AllSections()
	if len(sections) != 2 {
		t.Fatalf("sections = %v", sections)
	}
	id := sections[1].ID

	msg := `{"type":"change_section","relay_id":3,"output_id":"b","section":` + strconv.Itoa(id) + `}`
	if err := env.router.HandleClientMessage(sub, []byte(msg)); err != nil {
		t.Fatal(err)
	}
	outputs, _ := env.store.AllOutputs()
	for _, o := range outputs {
		if o.OutputID == "b" && o.SectionID != id {
			t.Errorf("output b section = %d, want %d", o.SectionID, id)
		}
	}
	if got := env.hub.on(hub.Lights, `"configuration"`); len(got) != 2 {
		t.Errorf("configuration broadcasts = %d, want 2", len(got))
	}
}

func TestClientButtonTypes(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddSwitch(5, "s", 2)
	sub := &hub.Subscriber{Channel: hub.Topology}

	err := env.router.HandleClientMessage(sub, []byte(`{"type":"button_types","data":{"5":{"b":1}}}`))
	if err != nil {
		t.Fatal(err)
	}
	buttons, _ := env.store.AllButtons()
	for _, b := range buttons {
		if b.ButtonID == "b" && b.Type != 1 {
			t.Errorf("button b type = %d", b.Type)
		}
	}
	pubs := env.tr.published()
	if len(pubs) != 1 || pubs[0].payload != `{"type":"button_types","data":{"5":{"a":0,"b":1}}}` {
		t.Errorf("push = %v", pubs)
	}
}

func TestClientGetStates(t *testing.T) {
	env := newTestEnv(t)
	env.cache.SetOutputState(9, "a", true)
	sub := &hub.Subscriber{Channel: hub.Topology}

	if err := env.router.HandleClientMessage(sub, []byte(`{"type":"get_states"}`)); err != nil {
		t.Fatal(err)
	}
	got := env.hub.direct(sub)
	if len(got) != 2 || !strings.Contains(got[0], "online_status") || !strings.Contains(got[1], `"states":[{"type":"light_state","relay_id":9`) {
		t.Errorf("direct = %v", got)
	}
}

// slowSink records every message after a short write delay.
type slowSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *slowSink) Send(_ context.Context, data []byte) error {
	time.Sleep(100 * time.Microsecond)
	s.mu.Lock()
	s.msgs = append(s.msgs, string(data))
	s.mu.Unlock()
	return nil
}

func (s *slowSink) Close() error { return nil }

func (s *slowSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func TestInitialDumpFitsSmallQueue(t *testing.T) {
	env := newTestEnv(t)
	h := hub.New(quietLogger(), 64, time.Second)
	defer h.Close()
	router := New(Config{}, Deps{
		Store:     env.store,
		Cache:     env.cache,
		Liveness:  env.live,
		Hub:       h,
		Transport: env.tr,
		Logger:    quietLogger(),
	})
	defer router.Stop()

	for id := uint64(1); id <= 9; id++ {
		env.store.AddRelay(id, "r", 8)
		for i := 0; i < 8; i++ {
			env.cache.SetOutputState(id, store.OutputLetter(i), i%2 == 0)
		}
	}

	sink := &slowSink{}
	sub, err := h.Subscribe(sink, hub.Lights)
	if err != nil {
		t.Fatal(err)
	}
	router.OnSubscribe(sub)

	deadline := time.Now().Add(5 * time.Second)
	for len(sink.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	msgs := sink.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want configuration and states", len(msgs))
	}
	if !strings.Contains(msgs[0], `"type":"configuration"`) {
		t.Errorf("first message = %.60s", msgs[0])
	}
	var dump StateDump
	if err := json.Unmarshal([]byte(msgs[1]), &dump); err != nil {
		t.Fatal(err)
	}
	if dump.Type != "states" || len(dump.States) != 72 {
		t.Errorf("dump type %q with %d states, want 72", dump.Type, len(dump.States))
	}
	if sub.Dropped() != 0 {
		t.Errorf("dropped = %d", sub.Dropped())
	}
}

func TestStateDumpOrderedAgainstBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	sub := &hub.Subscriber{Channel: hub.Lights}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			env.router.handleRelayOutputState(protocol.RelayOutputState{RelayID: 4, OutputID: "a", State: i%2 == 0})
		}
	}()
	for i := 0; i < 20; i++ {
		env.router.sendStates(sub)
	}
	wg.Wait()

	// Replay the subscriber's view: dumps and broadcasts in queue order.
	// The last value seen must equal the cache.
	var last *int
	env.hub.mu.Lock()
	for _, m := range env.hub.sent {
		if m.ch != hub.Lights || (m.sub != nil && m.sub != sub) {
			continue
		}
		if m.sub == sub {
			var dump StateDump
			json.Unmarshal([]byte(m.msg), &dump)
			for _, st := range dump.States {
				v := st.State
				last = &v
			}
			continue
		}
		var ls LightState
		json.Unmarshal([]byte(m.msg), &ls)
		v := ls.State
		last = &v
	}
	env.hub.mu.Unlock()

	on, _ := env.cache.OutputState(4, "a")
	want := 0
	if on {
		want = 1
	}
	if last == nil || *last != want {
		t.Errorf("subscriber view = %v, cache = %d", last, want)
	}
}
