package store

import "time"

// Kind is the role a device plays in the mesh.
type Kind string

const (
	KindRoot   Kind = "root"
	KindRelay  Kind = "relay"
	KindSwitch Kind = "switch"
)

// ParseKind maps a wire "type" value onto a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindRoot, KindRelay, KindSwitch:
		return Kind(s), true
	}
	return "", false
}

// DefaultSection is the section outputs fall back to when theirs is removed.
const DefaultSection = 0

// Relay is a relay board with 8 or 16 outputs.
type Relay struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	OutputCount int    `json:"output_count"`
}

// Output is a single relay output, addressed by a lowercase letter 'a'..'p'.
type Output struct {
	RelayID   uint64 `json:"relay_id"`
	OutputID  string `json:"output_id"`
	Name      string `json:"name"`
	SectionID int    `json:"section_id"`
}

// Switch is a wall switch.
type Switch struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	ButtonCount int    `json:"button_count"`
}

// Button belongs to a switch. Type is an operator-assigned classification.
type Button struct {
	SwitchID uint64 `json:"switch_id"`
	ButtonID string `json:"button_id"`
	Type     int    `json:"type"`
}

// Target is one relay output driven by a button.
type Target struct {
	RelayID  uint64 `json:"relay_id"`
	OutputID string `json:"output_id"`
}

// Connection wires a switch button to a relay output.
type Connection struct {
	SwitchID uint64 `json:"switch_id"`
	ButtonID string `json:"button_id"`
	Target
}

// Section groups outputs for display.
type Section struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DeviceRecord is the last persisted self-report of a device.
type DeviceRecord struct {
	ID        uint64    `json:"id"`
	Kind      Kind      `json:"kind"`
	Firmware  string    `json:"firmware,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// ConnectionMap indexes connections by switch and button.
type ConnectionMap map[uint64]map[string][]Target

// Index groups a flat connection list into a ConnectionMap.
func Index(conns []Connection) ConnectionMap {
	m := make(ConnectionMap)
	for _, c := range conns {
		buttons, ok := m[c.SwitchID]
		if !ok {
			buttons = make(map[string][]Target)
			m[c.SwitchID] = buttons
		}
		buttons[c.ButtonID] = append(buttons[c.ButtonID], c.Target)
	}
	return m
}

// OutputLetter returns the letter of the n-th output or button, starting at 0.
func OutputLetter(n int) string {
	return string(rune('a' + n))
}

// ValidOutput reports whether id names an output of a relay with count outputs.
func ValidOutput(id string, count int) bool {
	if len(id) != 1 {
		return false
	}
	n := int(id[0] - 'a')
	return n >= 0 && n < count
}
