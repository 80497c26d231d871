package mesh

import (
	"fmt"
	"sort"
	"time"

	"domator-go/internal/protocol"
	"domator-go/internal/store"
)

// SetOutput commands a relay output on or off. The cache is left alone; the
// relay's own report updates it.
func (r *Router) SetOutput(relayID uint64, outputID string, on bool) error {
	msg, err := r.encoder.RelayOutput(relayID, outputID, on)
	if err != nil {
		return err
	}
	return r.publish(msg)
}

// ToggleOutput inverts the last reported state of an output. Outputs that
// never reported are treated as off.
func (r *Router) ToggleOutput(relayID uint64, outputID string) error {
	on, _ := r.cache.OutputState(relayID, outputID)
	return r.SetOutput(relayID, outputID, !on)
}

// OutputState returns the cached state of an output.
func (r *Router) OutputState(relayID uint64, outputID string) (on, known bool) {
	return r.cache.OutputState(relayID, outputID)
}

// PushTopology sends the wiring graph and button types to the root.
// Connections to missing outputs are left out.
func (r *Router) PushTopology() error {
	conns, err := r.store.AllConnections()
	if err != nil {
		return fmt.Errorf("load connections: %w", err)
	}
	// The root routes presses from this map on its own.
	if conns, err = r.resolvable(conns); err != nil {
		return fmt.Errorf("load outputs: %w", err)
	}
	msg, err := r.encoder.Connections(store.Index(conns))
	if err != nil {
		return err
	}
	if err := r.publish(msg); err != nil {
		return err
	}
	return r.PushButtonTypes()
}

// PushButtonTypes sends button classifications to the root.
func (r *Router) PushButtonTypes() error {
	buttons, err := r.store.AllButtons()
	if err != nil {
		return fmt.Errorf("load buttons: %w", err)
	}
	msg, err := r.encoder.ButtonTypes(buttons)
	if err != nil {
		return err
	}
	return r.publish(msg)
}

// RequestUpdate asks one device to fetch new firmware.
func (r *Router) RequestUpdate(kind store.Kind, id uint64) error {
	return r.publish(r.encoder.Command(kind, id, protocol.CmdUpdate))
}

// RequestUpdateAll asks every device of a kind to fetch new firmware.
func (r *Router) RequestUpdateAll(kind store.Kind) error {
	if kind == store.KindRoot {
		return r.publish(r.encoder.Command(store.KindRoot, 0, protocol.CmdUpdate))
	}
	return r.publish(r.encoder.BroadcastCommand(kind, protocol.CmdUpdate))
}

// Refresh asks every relay and switch to report its state.
func (r *Router) Refresh() error {
	if err := r.publish(r.encoder.BroadcastCommand(store.KindRelay, protocol.CmdRefresh)); err != nil {
		return err
	}
	return r.publish(r.encoder.BroadcastCommand(store.KindSwitch, protocol.CmdRefresh))
}

// Ping sends a ping to a relay and starts the latency measurement.
func (r *Router) Ping(relayID uint64) error {
	r.cache.PingSent(relayID, r.now())
	return r.publish(r.encoder.Command(store.KindRelay, relayID, protocol.CmdPing))
}

// MoveBlind commands a blind to a position.
func (r *Router) MoveBlind(blind string, position int) error {
	msg, err := r.encoder.BlindCommand(blind, position)
	if err != nil {
		return err
	}
	return r.publish(msg)
}

// SetHeating forwards a heating controller setting.
func (r *Router) SetHeating(payload []byte) error {
	return r.publish(r.encoder.HeatingCommand(payload))
}

// States returns every cached output state as light_state messages,
// ordered by relay and output.
func (r *Router) States() []LightState {
	all := r.cache.AllStates()
	out := make([]LightState, 0, len(all))
	for id, outputs := range all {
		for o, on := range outputs {
			out = append(out, lightState(id, o, on))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelayID != out[j].RelayID {
			return out[i].RelayID < out[j].RelayID
		}
		return out[i].OutputID < out[j].OutputID
	})
	return out
}

// Latencies returns the last measured ping round trip per relay.
func (r *Router) Latencies() map[uint64]time.Duration {
	return r.cache.Latencies()
}
