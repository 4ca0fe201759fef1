package ports

import (
	"context"
	"garage-bridge/internal/domain/model"
)

// DoorPort is what the HomeKit and status adapters consume.
type DoorPort interface {
	CurrentValue() model.CurrentDoorState
	TargetValue() model.TargetDoorState
	PendingTarget() (model.TargetDoorState, bool)

	CurrentDoorState(ctx context.Context) (model.CurrentDoorState, error)
	SetTargetDoorState(ctx context.Context, value model.TargetDoorState, origin model.Origin) error

	OnCurrentChange(fn func(old, new model.CurrentDoorState, origin model.Origin))
	OnTargetChange(fn func(old, new model.TargetDoorState, origin model.Origin))
}
