package homekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"garage-bridge/internal/domain/model"
	"garage-bridge/internal/ports"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HAP status code returned when the vendor cloud could not be reached.
const statusCommunicationFailure = -70402

// serialNamespace seeds serial numbers derived from the MyQ device id.
var serialNamespace = uuid.MustParse("5b0f3c2e-8d8a-4c55-9b0e-6a1f1c9d2e47")

type Info struct {
	Name         string
	DeviceID     string
	SerialNumber string
	Manufacturer string
	Model        string
	Firmware     string
}

// Accessory exposes one door as a HomeKit GarageDoorOpener.
type Accessory struct {
	door ports.DoorPort
	log  zerolog.Logger
	name string
	a    *accessory.GarageDoorOpener
}

func NewAccessory(door ports.DoorPort, info Info, log zerolog.Logger) *Accessory {
	serial := info.SerialNumber
	if serial == "" {
		serial = SerialFor(info.DeviceID)
	}

	acc := &Accessory{
		door: door,
		log:  log,
		name: info.Name,
		a: accessory.NewGarageDoorOpener(accessory.Info{
			Name:         info.Name,
			SerialNumber: serial,
			Manufacturer: info.Manufacturer,
			Model:        info.Model,
			Firmware:     info.Firmware,
		}),
	}
	acc.wire()
	return acc
}

// SerialFor derives a stable serial number from the vendor device id.
func SerialFor(deviceID string) string {
	return uuid.NewSHA1(serialNamespace, []byte(deviceID)).String()
}

func (a *Accessory) wire() {
	svc := a.a.GarageDoorOpener

	svc.CurrentDoorState.SetValue(int(a.door.CurrentValue()))
	svc.TargetDoorState.SetValue(int(a.door.TargetValue()))

	// Only controller reads reach the cloud. Local reads (r == nil) use the
	// last known value.
	svc.CurrentDoorState.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		if r == nil {
			return int(a.door.CurrentValue()), 0
		}
		v, err := a.door.CurrentDoorState(r.Context())
		if err != nil {
			return nil, statusCommunicationFailure
		}
		return int(v), 0
	}

	svc.TargetDoorState.SetValueRequestFunc = func(v interface{}, r *http.Request) (interface{}, int) {
		target, ok := toInt(v)
		if !ok {
			a.log.Warn().Interface("value", v).Msg("Ignoring malformed target door state")
			return nil, statusCommunicationFailure
		}
		if err := a.door.SetTargetDoorState(r.Context(), model.TargetDoorState(target), model.OriginBridge); err != nil {
			return nil, statusCommunicationFailure
		}
		return nil, 0
	}

	// Push every committed change to subscribed controllers
	a.door.OnCurrentChange(func(old, new model.CurrentDoorState, origin model.Origin) {
		svc.CurrentDoorState.SetValue(int(new))
	})
	a.door.OnTargetChange(func(old, new model.TargetDoorState, origin model.Origin) {
		svc.TargetDoorState.SetValue(int(new))
	})
}

// Services returns the services exposed for discovery: the door opener.
func (a *Accessory) Services() []*service.S {
	return []*service.S{a.a.GarageDoorOpener.S}
}

// ServiceTypes lists the HAP type of each exposed service.
func (a *Accessory) ServiceTypes() []string {
	services := a.Services()
	types := make([]string, 0, len(services))
	for _, s := range services {
		types = append(types, s.Type)
	}
	return types
}

// ListenAndServe publishes the accessory until ctx is done.
func (a *Accessory) ListenAndServe(ctx context.Context, cfg model.HomeKitConfig) error {
	store := hap.NewFsStore(cfg.StoragePath)

	server, err := hap.NewServer(store, a.a.A)
	if err != nil {
		return err
	}
	server.Pin = cfg.Pin
	server.Addr = fmt.Sprintf(":%d", cfg.Port)

	a.log.Info().Str("addr", server.Addr).Str("name", a.name).Msg("HomeKit accessory published")
	err = server.ListenAndServe(ctx)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
