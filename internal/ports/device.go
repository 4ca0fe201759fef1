package ports

import (
	"context"
)

// DevicePort is the vendor cloud API for a single door.
type DevicePort interface {
	GetDeviceAttribute(ctx context.Context, name string) (string, error)
	ActOnDevice(ctx context.Context, actionType string) error
}
