package mesh

import (
	"encoding/json"
	"strconv"

	"domator-go/internal/store"
)

// Messages pushed to subscribers. Every message carries a "type" field.

// LightState goes to Lights and Topology subscribers.
type LightState struct {
	Type     string `json:"type"`
	RelayID  uint64 `json:"relay_id"`
	OutputID string `json:"output_id"`
	State    int    `json:"state"`
}

func lightState(relayID uint64, outputID string, on bool) LightState {
	s := 0
	if on {
		s = 1
	}
	return LightState{Type: "light_state", RelayID: relayID, OutputID: outputID, State: s}
}

// StateDump carries every cached output state in one message, sent to a
// subscriber when it connects or asks for states.
type StateDump struct {
	Type   string       `json:"type"`
	States []LightState `json:"states"`
}

// SwitchState highlights a pressed button on Topology subscribers.
type SwitchState struct {
	Type     string `json:"type"`
	SwitchID uint64 `json:"switch_id"`
	ButtonID string `json:"button_id"`
}

// Update tells Topology subscribers to reload the configuration.
type Update struct {
	Type string `json:"type"`
}

var updateMsg = Update{Type: "update"}

// OnlineStatus is the liveness projection for Topology subscribers.
type OnlineStatus struct {
	Type            string           `json:"type"`
	OnlineRelays    []uint64         `json:"online_relays"`
	OnlineSwitches  []uint64         `json:"online_switches"`
	UpToDateDevices map[string]bool  `json:"up_to_date_devices"`
	RootID          *uint64          `json:"root_id"`
	DevicesRSSI     map[string]int64 `json:"devices_rssi"`
}

// NamedOutput is one relay output as shown to Lights subscribers.
type NamedOutput struct {
	RelayID   uint64 `json:"relay_id"`
	OutputID  string `json:"output_id"`
	Name      string `json:"name"`
	SectionID int    `json:"section_id"`
}

// Configuration is the initial dump sent to a Lights subscriber.
type Configuration struct {
	Type         string          `json:"type"`
	NamedOutputs []NamedOutput   `json:"named_outputs"`
	Sections     []store.Section `json:"sections"`
}

// BlindState reports a blind position to Blinds subscribers.
type BlindState struct {
	Blind           string `json:"blind"`
	CurrentPosition int    `json:"current_position"`
}

// ErrorReply answers a subscriber command that could not be executed.
type ErrorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// clientCommand is the envelope of messages received from subscribers.
// Lights clients may omit Type when switching an output.
type clientCommand struct {
	Type       string          `json:"type"`
	RelayID    json.Number     `json:"relay_id"`
	OutputID   string          `json:"output_id"`
	State      *int            `json:"state"`
	Section    *int            `json:"section"`
	Name       string          `json:"name"`
	DeviceID   json.Number     `json:"device_id"`
	DeviceType string          `json:"device_type"`
	Data       json.RawMessage `json:"data"`
	Blind      string          `json:"blind"`
	Position   *int            `json:"position"`
}

func parseNumberID(n json.Number) (uint64, error) {
	return strconv.ParseUint(n.String(), 10, 64)
}
