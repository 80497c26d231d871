package protocol

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"domator-go/internal/store"
)

type handlerFunc func(topic string, args []string, payload []byte) (Event, error)

type route struct {
	pattern []string
	handle  handlerFunc
}

// Decoder turns inbound topic/payload pairs into Events. Topics are matched
// segment by segment against a fixed table after stripping the prefix.
type Decoder struct {
	prefix string
	routes []route
}

// NewDecoder builds the route table for topics under prefix.
func NewDecoder(prefix string) *Decoder {
	d := &Decoder{prefix: prefix}
	d.add("blind/pos", decodeBlindPosition)
	d.add("heating/metrics", decodeHeatingMetrics)
	d.add("relay/state/+", decodeRelayState)
	d.add("relay/state/+/+", decodeRelayOutputTopic)
	d.add("switch/state/root", decodeRootState)
	d.add("switch/state/+", decodeButtonPress)
	return d
}

func (d *Decoder) add(pattern string, h handlerFunc) {
	d.routes = append(d.routes, route{pattern: strings.Split(pattern, "/"), handle: h})
}

// Subscriptions returns the topic filters the decoder understands.
func (d *Decoder) Subscriptions() []string {
	out := make([]string, 0, len(d.routes))
	for _, r := range d.routes {
		out = append(out, d.prefix+strings.Join(r.pattern, "/"))
	}
	return out
}

// Decode resolves topic against the route table and parses payload.
// It never has side effects; malformed input yields a *DecodeError.
func (d *Decoder) Decode(topic string, payload []byte) (Event, error) {
	rel, ok := strings.CutPrefix(topic, d.prefix)
	if !ok {
		return nil, decodeErr(topic, "outside prefix %q", d.prefix)
	}
	segs := strings.Split(rel, "/")
	for _, r := range d.routes {
		if args, ok := match(r.pattern, segs); ok {
			return r.handle(topic, args, payload)
		}
	}
	return nil, decodeErr(topic, "no handler")
}

func match(pattern, segs []string) ([]string, bool) {
	if len(pattern) != len(segs) {
		return nil, false
	}
	var args []string
	for i, p := range pattern {
		if p == "+" {
			if segs[i] == "" {
				return nil, false
			}
			args = append(args, segs[i])
			continue
		}
		if p != segs[i] {
			return nil, false
		}
	}
	return args, true
}

func parseID(topic, s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, decodeErr(topic, "bad device id %q", s)
	}
	return id, nil
}

func decodeBlindPosition(topic string, _ []string, payload []byte) (Event, error) {
	parts := strings.Fields(string(payload))
	if len(parts) != 2 {
		return nil, decodeErr(topic, "want \"<blind> <position>\", got %q", payload)
	}
	pos, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, decodeErr(topic, "bad position %q", parts[1])
	}
	return BlindPosition{Blind: parts[0], Position: pos}, nil
}

var heatingFields = []string{"cold", "mixed", "hot", "integral", "pid_output", "target", "kp", "ki", "kd"}

func decodeHeatingMetrics(topic string, _ []string, payload []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, decodeErr(topic, "invalid json: %v", err)
	}
	for _, f := range heatingFields {
		if _, ok := raw[f]; !ok {
			return nil, decodeErr(topic, "missing field %q", f)
		}
	}
	var m HeatingMetrics
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, decodeErr(topic, "invalid field: %v", err)
	}
	return m, nil
}

// outputIndex maps 'a'..'p' (either case) to 0..15.
func outputIndex(b byte) (int, bool) {
	switch {
	case b >= 'A' && b <= 'P':
		return int(b - 'A'), true
	case b >= 'a' && b <= 'p':
		return int(b - 'a'), true
	}
	return 0, false
}

func decodeRelayState(topic string, args []string, payload []byte) (Event, error) {
	id, err := parseID(topic, args[0])
	if err != nil {
		return nil, err
	}
	if len(payload) == 1 && payload[0] == CmdPing {
		return RelayPing{RelayID: id}, nil
	}
	if len(payload) != 2 || payload[0] < 'A' || payload[0] > 'P' {
		return nil, decodeErr(topic, "want <A..P><0|1>, got %q", payload)
	}
	state, ok := parseBit(payload[1])
	if !ok {
		return nil, decodeErr(topic, "bad state digit %q", payload[1])
	}
	return RelayOutputState{RelayID: id, OutputID: store.OutputLetter(int(payload[0] - 'A')), State: state}, nil
}

// decodeRelayOutputTopic handles firmware that puts the output letter in the
// topic and only the state digit in the payload.
func decodeRelayOutputTopic(topic string, args []string, payload []byte) (Event, error) {
	id, err := parseID(topic, args[0])
	if err != nil {
		return nil, err
	}
	if len(args[1]) != 1 {
		return nil, decodeErr(topic, "bad output %q", args[1])
	}
	idx, ok := outputIndex(args[1][0])
	if !ok {
		return nil, decodeErr(topic, "bad output %q", args[1])
	}
	if len(payload) != 1 {
		return nil, decodeErr(topic, "want 0|1, got %q", payload)
	}
	state, ok := parseBit(payload[0])
	if !ok {
		return nil, decodeErr(topic, "bad state digit %q", payload[0])
	}
	return RelayOutputState{RelayID: id, OutputID: store.OutputLetter(idx), State: state}, nil
}

func parseBit(b byte) (bool, bool) {
	switch b {
	case '0':
		return false, true
	case '1':
		return true, true
	}
	return false, false
}

func decodeButtonPress(topic string, args []string, payload []byte) (Event, error) {
	id, err := parseID(topic, args[0])
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, decodeErr(topic, "empty payload")
	}
	idx, ok := outputIndex(payload[0])
	if !ok {
		return nil, decodeErr(topic, "bad button %q", payload[0])
	}
	return ButtonPress{SwitchID: id, ButtonID: store.OutputLetter(idx)}, nil
}

const rootConnected = "connected"

func decodeRootState(topic string, _ []string, payload []byte) (Event, error) {
	if string(bytes.TrimSpace(payload)) == rootConnected {
		return RootBooted{}, nil
	}
	return decodeDeviceStatus(topic, payload)
}

type rawStatus struct {
	Type        *string      `json:"type"`
	DeviceID    *json.Number `json:"deviceId"`
	ParentID    *json.Number `json:"parentId"`
	Firmware    *string      `json:"firmware"`
	Uptime      *json.Number `json:"uptime"`
	Clicks      *json.Number `json:"clicks"`
	FreeHeap    *json.Number `json:"freeHeap"`
	Disconnects *json.Number `json:"disconnects"`
	RSSI        *json.Number `json:"rssi"`
	MeshLayer   *json.Number `json:"meshLayer"`
	PeerCount   *json.Number `json:"peerCount"`
	LowHeap     *json.Number `json:"lowHeap"`
}

func decodeDeviceStatus(topic string, payload []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw rawStatus
	if err := dec.Decode(&raw); err != nil {
		return nil, decodeErr(topic, "invalid status json: %v", err)
	}
	if raw.Type == nil {
		return nil, decodeErr(topic, "missing field \"type\"")
	}
	kind, ok := store.ParseKind(*raw.Type)
	if !ok {
		return nil, decodeErr(topic, "unknown device type %q", *raw.Type)
	}
	if raw.DeviceID == nil {
		return nil, decodeErr(topic, "missing field \"deviceId\"")
	}
	if raw.Firmware == nil {
		return nil, decodeErr(topic, "missing field \"firmware\"")
	}

	st := DeviceStatus{Kind: kind, Firmware: *raw.Firmware}
	id, err := unsigned(raw.DeviceID)
	if err != nil {
		return nil, decodeErr(topic, "bad deviceId %q", *raw.DeviceID)
	}
	st.DeviceID = id

	if raw.ParentID != nil {
		parent, err := unsigned(raw.ParentID)
		if err != nil {
			return nil, decodeErr(topic, "bad parentId %q", *raw.ParentID)
		}
		st.ParentID = &parent
	}

	optional := []struct {
		name string
		in   *json.Number
		out  **int64
	}{
		{"uptime", raw.Uptime, &st.Uptime},
		{"clicks", raw.Clicks, &st.Clicks},
		{"freeHeap", raw.FreeHeap, &st.FreeHeap},
		{"disconnects", raw.Disconnects, &st.Disconnects},
		{"rssi", raw.RSSI, &st.RSSI},
		{"meshLayer", raw.MeshLayer, &st.MeshLayer},
		{"peerCount", raw.PeerCount, &st.PeerCount},
		{"lowHeap", raw.LowHeap, &st.LowHeap},
	}
	for _, f := range optional {
		if f.in == nil {
			continue
		}
		v, err := number(f.in)
		if err != nil {
			return nil, decodeErr(topic, "bad %s %q", f.name, *f.in)
		}
		*f.out = &v
	}

	switch kind {
	case store.KindRoot:
		if st.Uptime == nil {
			return nil, decodeErr(topic, "root status missing \"uptime\"")
		}
	case store.KindRelay, store.KindSwitch:
		if st.ParentID == nil {
			return nil, decodeErr(topic, "%s status missing \"parentId\"", kind)
		}
	}
	return st, nil
}

// number accepts integers and integral floats, as emitted by cJSON.
func number(n *json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return 0, strconv.ErrRange
	}
	return int64(f), nil
}

// unsigned is number for device ids, which use the full uint64 range.
func unsigned(n *json.Number) (uint64, error) {
	if v, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < 0 || f >= 1<<64 {
		return 0, strconv.ErrRange
	}
	return uint64(f), nil
}
