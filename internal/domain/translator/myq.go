package translator

import (
	"garage-bridge/internal/domain/model"

	"github.com/pkg/errors"
)

const (
	ActionOpen  = "open"
	ActionClose = "close"
)

var vendorToCurrent = map[string]model.CurrentDoorState{
	"open":    model.CurrentDoorStateOpen,
	"closed":  model.CurrentDoorStateClosed,
	"opening": model.CurrentDoorStateOpening,
	"closing": model.CurrentDoorStateClosing,
}

var targetToAction = map[model.TargetDoorState]string{
	model.TargetDoorStateOpen:   ActionOpen,
	model.TargetDoorStateClosed: ActionClose,
}

var currentToTarget = map[model.CurrentDoorState]model.TargetDoorState{
	model.CurrentDoorStateOpen:    model.TargetDoorStateOpen,
	model.CurrentDoorStateClosed:  model.TargetDoorStateClosed,
	model.CurrentDoorStateOpening: model.TargetDoorStateOpen,
	model.CurrentDoorStateClosing: model.TargetDoorStateClosed,
}

// MyQStrategy maps the MyQ door_state vocabulary onto HomeKit values.
type MyQStrategy struct{}

func (s *MyQStrategy) ToCurrent(vendorState string) (model.CurrentDoorState, error) {
	if v, ok := vendorToCurrent[vendorState]; ok {
		return v, nil
	}
	return model.CurrentDoorStateClosed, errors.Wrapf(model.ErrUnknownDoorState, "vendor state %q", vendorState)
}

func (s *MyQStrategy) ToAction(target model.TargetDoorState) (string, error) {
	if a, ok := targetToAction[target]; ok {
		return a, nil
	}
	return "", errors.Wrapf(model.ErrUnknownTargetState, "target %d", int(target))
}

// TargetFor returns the target a door in the given state is heading to.
func (s *MyQStrategy) TargetFor(current model.CurrentDoorState) model.TargetDoorState {
	if t, ok := currentToTarget[current]; ok {
		return t
	}
	return model.TargetDoorStateClosed
}
