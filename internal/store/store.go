package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for arguments the topology cannot represent.
	ErrInvalid = errors.New("invalid argument")
)

// NotFoundError names the entity an operation could not find.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// MaxButtons bounds the number of buttons a switch may carry.
const MaxButtons = 16

// Store defines the topology persistence interface. All reads return copies.
type Store interface {
	// Relays and outputs
	AddRelay(id uint64, name string, outputCount int) error
	RemoveRelay(id uint64) error
	RenameRelay(id uint64, name string) error
	Relay(id uint64) (*Relay, error)
	AllRelays() ([]Relay, error)
	AllOutputs() ([]Output, error)
	NameOutput(relayID uint64, outputID, name string) error
	ChangeOutputSection(relayID uint64, outputID string, sectionID int) error

	// Switches and buttons
	AddSwitch(id uint64, name string, buttonCount int) error
	RemoveSwitch(id uint64) error
	RenameSwitch(id uint64, name string) error
	Switch(id uint64) (*Switch, error)
	AllSwitches() ([]Switch, error)
	AllButtons() ([]Button, error)
	SetButtonType(switchID uint64, buttonID string, typ int) error

	// Connections
	AddConnection(c Connection) error
	RemoveConnection(c Connection) error
	AllConnections() ([]Connection, error)

	// Sections
	AddSection(name string) (int, error)
	RemoveSection(id int) error
	AllSections() ([]Section, error)

	// Device self-reports
	SaveDeviceRecord(rec DeviceRecord) error
	DeviceRecord(id uint64) (*DeviceRecord, error)

	// Close the store
	Close() error
}
