package service

import (
	"context"
	"sync"
	"time"

	"garage-bridge/internal/domain/model"
	"garage-bridge/internal/domain/translator"
	"garage-bridge/internal/ports"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const attributeDoorState = "door_state"

// Reconciler keeps the HomeKit view of one garage door in line with the
// vendor cloud. It owns the CurrentDoorState and TargetDoorState slots and a
// single self-rescheduling poll timer.
type Reconciler struct {
	device     ports.DevicePort
	translator translator.Translator
	scheduler  ports.Scheduler
	policy     PollPolicy
	log        zerolog.Logger

	current *Slot[model.CurrentDoorState]
	target  *Slot[model.TargetDoorState]

	mu      sync.Mutex
	pending *model.TargetDoorState
	timer   ports.Timer
	seq     uint64 // invalidates callbacks of timers that were already replaced
	ctx     context.Context
	release func() bool
	stopped bool
}

type Option func(*Reconciler)

func WithScheduler(s ports.Scheduler) Option {
	return func(r *Reconciler) { r.scheduler = s }
}

func WithPolicy(p PollPolicy) Option {
	return func(r *Reconciler) { r.policy = p }
}

func WithTranslator(t translator.Translator) Option {
	return func(r *Reconciler) { r.translator = t }
}

func NewReconciler(log zerolog.Logger, device ports.DevicePort, opts ...Option) *Reconciler {
	r := &Reconciler{
		device:     device,
		translator: &translator.MyQStrategy{},
		scheduler:  timeScheduler{},
		policy:     DefaultPollPolicy(),
		log:        log,
		current:    NewSlot(model.CurrentDoorStateClosed),
		target:     NewSlot(model.TargetDoorStateClosed),
		ctx:        context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.current.OnChange(r.onCurrentChange)
	r.target.OnChange(func(old, new model.TargetDoorState, origin model.Origin) {
		r.log.Info().Str("origin", origin.String()).Msgf("desireddoorstate changed from %s to %s", old, new)
	})
	return r
}

// Start runs the first poll right away. Later polls reschedule themselves
// until Stop is called or ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.stopped = false
	r.release = context.AfterFunc(ctx, r.Stop)
	r.mu.Unlock()

	r.schedule(0)
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.cancelLocked()
	if r.release != nil {
		r.release()
		r.release = nil
	}
}

func (r *Reconciler) CurrentValue() model.CurrentDoorState {
	return r.current.Value()
}

func (r *Reconciler) TargetValue() model.TargetDoorState {
	return r.target.Value()
}

// PendingTarget returns the target of the last command that has not
// completed successfully.
func (r *Reconciler) PendingTarget() (model.TargetDoorState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return 0, false
	}
	return *r.pending, true
}

func (r *Reconciler) OnCurrentChange(fn func(old, new model.CurrentDoorState, origin model.Origin)) {
	r.current.OnChange(fn)
}

func (r *Reconciler) OnTargetChange(fn func(old, new model.TargetDoorState, origin model.Origin)) {
	r.target.OnChange(fn)
}

// CurrentDoorState fetches the door state from the vendor API and stores it.
// On failure the stored value is left untouched and the error is returned.
func (r *Reconciler) CurrentDoorState(ctx context.Context) (model.CurrentDoorState, error) {
	raw, err := r.device.GetDeviceAttribute(ctx, attributeDoorState)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to fetch door state")
		return r.current.Value(), err
	}

	state, err := r.translator.ToCurrent(raw)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to map door state")
		return r.current.Value(), err
	}

	r.current.Set(state, model.OriginDevice)
	return state, nil
}

// SetTargetDoorState handles a target write. Sync writes are committed
// without touching the device; any other origin issues the matching action
// and, once it succeeded, commits the target and polls immediately.
func (r *Reconciler) SetTargetDoorState(ctx context.Context, value model.TargetDoorState, origin model.Origin) error {
	if origin == model.OriginSync {
		r.target.Set(value, origin)
		return nil
	}

	action, err := r.translator.ToAction(value)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.pending = &value
	r.mu.Unlock()

	if err := r.device.ActOnDevice(ctx, action); err != nil {
		r.log.Error().Err(err).Str("action", action).Msg("Failed to act on door")
		return errors.Wrapf(err, "act %q", action)
	}

	r.target.Set(value, origin)

	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()

	r.schedule(0)
	return nil
}

// Poll refreshes the current state and schedules the next poll. It returns
// the delay that was scheduled.
func (r *Reconciler) Poll(ctx context.Context) time.Duration {
	r.mu.Lock()
	r.cancelLocked()
	r.mu.Unlock()

	_, err := r.CurrentDoorState(ctx)
	delay := r.policy.NextDelay(r.current.Value(), r.target.Value(), err)

	r.schedule(delay)
	return delay
}

func (r *Reconciler) onCurrentChange(old, new model.CurrentDoorState, origin model.Origin) {
	r.log.Info().Str("origin", origin.String()).Msgf("doorstate changed from %s to %s", old, new)

	// Keeps the target from going stale when the door was moved outside HomeKit.
	_ = r.SetTargetDoorState(context.Background(), r.translator.TargetFor(new), model.OriginSync)
}

func (r *Reconciler) schedule(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.cancelLocked()
	seq := r.seq
	r.timer = r.scheduler.AfterFunc(d, func() { r.fire(seq) })
	r.log.Debug().Dur("delay", d).Msg("Next poll scheduled")
}

func (r *Reconciler) fire(seq uint64) {
	r.mu.Lock()
	if seq != r.seq || r.stopped {
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	r.mu.Unlock()

	r.Poll(ctx)
}

func (r *Reconciler) cancelLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.seq++
}
