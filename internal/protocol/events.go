// Package protocol translates mesh MQTT topics and payloads to and from
// structured events.
package protocol

import (
	"fmt"

	"domator-go/internal/store"
)

// Event is a decoded inbound message.
type Event interface {
	// DeviceKey identifies the device whose state the event touches. Events
	// that do not belong to a mesh device return 0.
	DeviceKey() uint64
}

// BlindPosition reports the current position of a roller blind.
type BlindPosition struct {
	Blind    string `json:"blind"`
	Position int    `json:"current_position"`
}

// HeatingMetrics is the periodic report of the heating controller.
type HeatingMetrics struct {
	Cold      float64 `json:"cold"`
	Mixed     float64 `json:"mixed"`
	Hot       float64 `json:"hot"`
	Integral  float64 `json:"integral"`
	PIDOutput float64 `json:"pid_output"`
	Target    float64 `json:"target"`
	Kp        float64 `json:"kp"`
	Ki        float64 `json:"ki"`
	Kd        float64 `json:"kd"`
}

// RelayOutputState is a relay's self-report of one output.
type RelayOutputState struct {
	RelayID  uint64
	OutputID string
	State    bool
}

// RelayPing is a relay's answer to a ping command.
type RelayPing struct {
	RelayID uint64
}

// RootBooted is sent by the root gateway after it (re)joins the broker.
type RootBooted struct{}

// ButtonPress is a switch button click.
type ButtonPress struct {
	SwitchID uint64
	ButtonID string
}

// DeviceStatus is a periodic device self-report forwarded by the root.
// Optional numeric fields are nil when absent from the payload.
type DeviceStatus struct {
	Kind        store.Kind
	DeviceID    uint64
	ParentID    *uint64
	Firmware    string
	Uptime      *int64
	Clicks      *int64
	FreeHeap    *int64
	Disconnects *int64
	RSSI        *int64
	MeshLayer   *int64
	PeerCount   *int64
	LowHeap     *int64
}

func (BlindPosition) DeviceKey() uint64      { return 0 }
func (HeatingMetrics) DeviceKey() uint64     { return 0 }
func (RootBooted) DeviceKey() uint64         { return 0 }
func (e RelayOutputState) DeviceKey() uint64 { return e.RelayID }
func (e RelayPing) DeviceKey() uint64        { return e.RelayID }
func (e ButtonPress) DeviceKey() uint64      { return e.SwitchID }
func (e DeviceStatus) DeviceKey() uint64     { return e.DeviceID }

// DecodeError reports a malformed or unexpected inbound message.
type DecodeError struct {
	Topic  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Topic, e.Reason)
}

func decodeErr(topic, format string, args ...any) error {
	return &DecodeError{Topic: topic, Reason: fmt.Sprintf(format, args...)}
}
