package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"domator-go/internal/store"
)

// Single-byte commands understood by relays and switches.
const (
	CmdRefresh = 'S'
	CmdUpdate  = 'U'
	CmdPing    = 'P'
)

// Message is an outbound publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Encoder builds outbound messages for topics under a prefix.
type Encoder struct {
	prefix string
}

func NewEncoder(prefix string) *Encoder {
	return &Encoder{prefix: prefix}
}

func (e *Encoder) topic(rel string) string { return e.prefix + rel }

// RelayTopic is the command topic of a single relay.
func (e *Encoder) RelayTopic(id uint64) string {
	return e.topic("relay/cmd/" + strconv.FormatUint(id, 10))
}

// SwitchTopic is the command topic of a single switch, or of the root when id is 0.
func (e *Encoder) SwitchTopic(id uint64) string {
	if id == 0 {
		return e.topic("switch/cmd/root")
	}
	return e.topic("switch/cmd/" + strconv.FormatUint(id, 10))
}

// RelayOutput commands one output: lowercase letter then '0' or '1'.
func (e *Encoder) RelayOutput(relayID uint64, outputID string, on bool) (Message, error) {
	if len(outputID) != 1 {
		return Message{}, fmt.Errorf("output id %q: want one letter", outputID)
	}
	idx, ok := outputIndex(outputID[0])
	if !ok {
		return Message{}, fmt.Errorf("output id %q: out of range", outputID)
	}
	digit := byte('0')
	if on {
		digit = '1'
	}
	return Message{Topic: e.RelayTopic(relayID), Payload: []byte{byte('a' + idx), digit}}, nil
}

// Command addresses a single-byte command to one device. Root devices are
// addressed through the root command topic.
func (e *Encoder) Command(kind store.Kind, id uint64, cmd byte) Message {
	var topic string
	switch kind {
	case store.KindRelay:
		topic = e.RelayTopic(id)
	case store.KindRoot:
		topic = e.SwitchTopic(0)
	default:
		topic = e.SwitchTopic(id)
	}
	return Message{Topic: topic, Payload: []byte{cmd}}
}

// BroadcastCommand sends cmd to every device of a kind.
func (e *Encoder) BroadcastCommand(kind store.Kind, cmd byte) Message {
	topic := e.topic("switch/cmd")
	if kind == store.KindRelay {
		topic = e.topic("relay/cmd")
	}
	return Message{Topic: topic, Payload: []byte{cmd}}
}

// BlindCommand moves blind "b<n>" to position; firmware addresses blinds by
// letter, so "b1" becomes "a". An empty blind id requests a position refresh.
func (e *Encoder) BlindCommand(blind string, position int) (Message, error) {
	topic := e.topic("blind/cmd")
	if blind == "" {
		return Message{Topic: topic, Payload: []byte{CmdRefresh}}, nil
	}
	if len(blind) != 2 || blind[1] < '1' || blind[1] > '9' {
		return Message{}, fmt.Errorf("blind id %q: want b1..b9", blind)
	}
	if position < 0 || position > 100 {
		return Message{}, fmt.Errorf("blind position %d: out of range", position)
	}
	return Message{Topic: topic, Payload: fmt.Appendf(nil, "%c%d", 'a'+blind[1]-'1', position)}, nil
}

// HeatingCommand forwards a controller setting unchanged.
func (e *Encoder) HeatingCommand(payload []byte) Message {
	return Message{Topic: e.topic("heating/cmd"), Payload: payload}
}

type rootPush struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Connections serializes the wiring graph for the root gateway:
// {"type":"connections","data":{"<switch>":{"<button>":[["<relay>","<output>"],...]}}}.
func (e *Encoder) Connections(m store.ConnectionMap) (Message, error) {
	data := make(map[string]map[string][][2]string, len(m))
	for sw, buttons := range m {
		byButton := make(map[string][][2]string, len(buttons))
		for btn, targets := range buttons {
			pairs := make([][2]string, 0, len(targets))
			for _, t := range targets {
				pairs = append(pairs, [2]string{strconv.FormatUint(t.RelayID, 10), t.OutputID})
			}
			byButton[btn] = pairs
		}
		data[strconv.FormatUint(sw, 10)] = byButton
	}
	return e.rootMessage("connections", data)
}

// ButtonTypes serializes button classifications for the root gateway.
func (e *Encoder) ButtonTypes(buttons []store.Button) (Message, error) {
	data := make(map[string]map[string]int)
	for _, b := range buttons {
		sw := strconv.FormatUint(b.SwitchID, 10)
		if data[sw] == nil {
			data[sw] = make(map[string]int)
		}
		data[sw][b.ButtonID] = b.Type
	}
	return e.rootMessage("button_types", data)
}

func (e *Encoder) rootMessage(typ string, data any) (Message, error) {
	payload, err := json.Marshal(rootPush{Type: typ, Data: data})
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return Message{Topic: e.SwitchTopic(0), Payload: payload}, nil
}
