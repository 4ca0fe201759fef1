package model

import "github.com/pkg/errors"

// CurrentDoorState mirrors the HomeKit CurrentDoorState characteristic values.
type CurrentDoorState int

const (
	CurrentDoorStateOpen CurrentDoorState = iota
	CurrentDoorStateClosed
	CurrentDoorStateOpening
	CurrentDoorStateClosing
)

func (s CurrentDoorState) String() string {
	switch s {
	case CurrentDoorStateOpen:
		return "open"
	case CurrentDoorStateClosed:
		return "closed"
	case CurrentDoorStateOpening:
		return "opening"
	case CurrentDoorStateClosing:
		return "closing"
	}
	return "unknown"
}

// Matches reports whether the door has settled in the target position.
// Opening and closing never match.
func (s CurrentDoorState) Matches(t TargetDoorState) bool {
	return int(s) == int(t)
}

// TargetDoorState mirrors the HomeKit TargetDoorState characteristic values.
type TargetDoorState int

const (
	TargetDoorStateOpen TargetDoorState = iota
	TargetDoorStateClosed
)

func (s TargetDoorState) String() string {
	switch s {
	case TargetDoorStateOpen:
		return "open"
	case TargetDoorStateClosed:
		return "closed"
	}
	return "unknown"
}

// Origin tags a state write with who made it.
type Origin int

const (
	// OriginBridge is a write requested by the HomeKit controller.
	OriginBridge Origin = iota
	// OriginDevice is a write coming from a fetch against the vendor API.
	OriginDevice
	// OriginSync is the reconciler aligning the target with a new current state.
	// Writes with this origin never issue a device command.
	OriginSync
)

func (o Origin) String() string {
	switch o {
	case OriginBridge:
		return "bridge"
	case OriginDevice:
		return "device"
	case OriginSync:
		return "sync"
	}
	return "unknown"
}

var (
	ErrUnknownDoorState   = errors.New("unknown door state")
	ErrUnknownTargetState = errors.New("unknown target door state")
)
