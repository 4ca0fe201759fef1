package translator

import (
	"garage-bridge/internal/domain/model"
)

// Translator defines the interface for translating between vendor and HomeKit door states
type Translator interface {
	ToCurrent(vendorState string) (model.CurrentDoorState, error)
	ToAction(target model.TargetDoorState) (string, error)
	TargetFor(current model.CurrentDoorState) model.TargetDoorState
}
