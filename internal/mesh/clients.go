package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"domator-go/internal/hub"
	"domator-go/internal/store"
)

// ErrUnknownCommand is returned for subscriber messages the router does not understand.
var ErrUnknownCommand = errors.New("unknown command")

// OnSubscribe sends a new subscriber the current state of its channel.
func (r *Router) OnSubscribe(sub *hub.Subscriber) {
	switch sub.Channel {
	case hub.Lights:
		cfg, err := r.Configuration()
		if err != nil {
			r.logger.Error("build configuration", "err", err)
		} else {
			r.hub.SendDirect(sub, cfg)
		}
		r.sendStates(sub)
	case hub.Topology:
		r.hub.SendDirect(sub, r.OnlineStatus())
		r.sendStates(sub)
	case hub.Blinds:
		if err := r.MoveBlind("", 0); err != nil {
			r.logger.Debug("blind refresh", "err", err)
		}
	}
}

// sendStates pushes every cached output state to one subscriber as a single
// message. No light_state broadcast can fall between the snapshot and the
// queued dump, so later broadcasts always follow it.
func (r *Router) sendStates(sub *hub.Subscriber) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if err := r.hub.SendDirect(sub, StateDump{Type: "states", States: r.States()}); err != nil {
		r.logger.Debug("state dump", "sub", sub.ID, "err", err)
	}
}

// HandleClientMessage executes a command sent by a subscriber.
func (r *Router) HandleClientMessage(sub *hub.Subscriber, data []byte) error {
	if sub.Channel == hub.Heating {
		if !json.Valid(data) {
			return fmt.Errorf("heating command: invalid json")
		}
		return r.SetHeating(data)
	}

	var cmd clientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}

	switch sub.Channel {
	case hub.Lights:
		return r.lightsCommand(cmd)
	case hub.Topology:
		return r.topologyCommand(sub, cmd)
	case hub.Blinds:
		if cmd.Position == nil {
			return fmt.Errorf("blind command: missing position")
		}
		return r.MoveBlind(cmd.Blind, *cmd.Position)
	}
	return ErrUnknownCommand
}

func (r *Router) lightsCommand(cmd clientCommand) error {
	switch cmd.Type {
	case "", "set":
		relayID, err := parseNumberID(cmd.RelayID)
		if err != nil {
			return fmt.Errorf("relay_id: %w", err)
		}
		if cmd.State == nil {
			return fmt.Errorf("set output: missing state")
		}
		return r.SetOutput(relayID, cmd.OutputID, *cmd.State != 0)
	case "toggle":
		relayID, err := parseNumberID(cmd.RelayID)
		if err != nil {
			return fmt.Errorf("relay_id: %w", err)
		}
		return r.ToggleOutput(relayID, cmd.OutputID)
	case "change_section":
		relayID, err := parseNumberID(cmd.RelayID)
		if err != nil {
			return fmt.Errorf("relay_id: %w", err)
		}
		if cmd.Section == nil {
			return fmt.Errorf("change section: missing section")
		}
		return r.ChangeOutputSection(relayID, cmd.OutputID, *cmd.Section)
	case "add_section":
		if cmd.Name == "" {
			return fmt.Errorf("add section: missing name")
		}
		_, err := r.AddSection(cmd.Name)
		return err
	}
	return fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Type)
}

func (r *Router) topologyCommand(sub *hub.Subscriber, cmd clientCommand) error {
	switch cmd.Type {
	case "update_device":
		id, err := parseNumberID(cmd.DeviceID)
		if err != nil {
			return fmt.Errorf("device_id: %w", err)
		}
		kind, ok := store.ParseKind(cmd.DeviceType)
		if !ok {
			return fmt.Errorf("device_type %q: %w", cmd.DeviceType, store.ErrInvalid)
		}
		return r.RequestUpdate(kind, id)
	case "update_all_relays":
		return r.RequestUpdateAll(store.KindRelay)
	case "update_all_switches":
		return r.RequestUpdateAll(store.KindSwitch)
	case "update_root":
		return r.RequestUpdateAll(store.KindRoot)
	case "get_states":
		r.hub.SendDirect(sub, r.OnlineStatus())
		r.sendStates(sub)
		return nil
	case "button_types":
		return r.applyButtonTypes(cmd.Data)
	case "update":
		r.hub.Broadcast(hub.Topology, updateMsg)
		return nil
	}
	return fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Type)
}

// applyButtonTypes stores {"<switch>":{"<button>":type}} and pushes the
// result to the root once.
func (r *Router) applyButtonTypes(data json.RawMessage) error {
	var types map[string]map[string]int
	if err := json.Unmarshal(data, &types); err != nil {
		return fmt.Errorf("button types: %w", err)
	}
	var errs []error
	for sw, buttons := range types {
		id, err := strconv.ParseUint(sw, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("switch id %q: %w", sw, err))
			continue
		}
		for btn, typ := range buttons {
			if err := r.store.SetButtonType(id, btn, typ); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := r.PushButtonTypes(); err != nil {
		errs = append(errs, err)
	}
	r.topologyChanged(false)
	return errors.Join(errs...)
}
