package service

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"garage-bridge/internal/domain/model"
	"garage-bridge/internal/ports"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) GetDeviceAttribute(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

func (m *MockDevice) ActOnDevice(ctx context.Context, actionType string) error {
	args := m.Called(ctx, actionType)
	return args.Error(0)
}

type fakeTimer struct {
	s       *fakeScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) ports.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

func (s *fakeScheduler) active() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			res = append(res, t)
		}
	}
	return res
}

func (s *fakeScheduler) fire(t *fakeTimer) {
	s.mu.Lock()
	t.fired = true
	s.mu.Unlock()
	t.f()
}

func newTestReconciler(dev *MockDevice) (*Reconciler, *fakeScheduler) {
	sched := &fakeScheduler{}
	r := NewReconciler(zerolog.Nop(), dev, WithScheduler(sched))
	return r, sched
}

func TestReconciler_Defaults(t *testing.T) {
	r, sched := newTestReconciler(new(MockDevice))

	assert.Equal(t, model.CurrentDoorStateClosed, r.CurrentValue())
	assert.Equal(t, model.TargetDoorStateClosed, r.TargetValue())
	_, pending := r.PendingTarget()
	assert.False(t, pending)
	assert.Nil(t, sched.last())
}

func TestReconciler_CurrentDoorState(t *testing.T) {
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("open", nil).Once()
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closed", nil).Once()

	r, _ := newTestReconciler(dev)

	v, err := r.CurrentDoorState(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.CurrentDoorStateOpen, v)
	assert.Equal(t, model.CurrentDoorStateOpen, r.CurrentValue())

	v, err = r.CurrentDoorState(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.CurrentDoorStateClosed, v)
	dev.AssertExpectations(t)
}

func TestReconciler_CurrentDoorState_UnknownValue(t *testing.T) {
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("stopped", nil)

	r, _ := newTestReconciler(dev)

	_, err := r.CurrentDoorState(context.Background())
	assert.Error(t, err)
	assert.Equal(t, model.ErrUnknownDoorState, errors.Cause(err))
	assert.Equal(t, model.CurrentDoorStateClosed, r.CurrentValue())
}

func TestReconciler_CurrentDoorState_APIError(t *testing.T) {
	dev := new(MockDevice)
	apiErr := errors.New("cloud unreachable")
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("", apiErr)

	r, _ := newTestReconciler(dev)

	_, err := r.CurrentDoorState(context.Background())
	assert.Equal(t, apiErr, err)
	dev.AssertNumberOfCalls(t, "GetDeviceAttribute", 1)
}

func TestReconciler_SetTargetDoorState_Actions(t *testing.T) {
	dev := new(MockDevice)
	dev.On("ActOnDevice", mock.Anything, "open").Return(nil).Once()
	dev.On("ActOnDevice", mock.Anything, "close").Return(nil).Once()

	r, _ := newTestReconciler(dev)

	require.NoError(t, r.SetTargetDoorState(context.Background(), model.TargetDoorStateOpen, model.OriginBridge))
	assert.Equal(t, model.TargetDoorStateOpen, r.TargetValue())

	require.NoError(t, r.SetTargetDoorState(context.Background(), model.TargetDoorStateClosed, model.OriginBridge))
	assert.Equal(t, model.TargetDoorStateClosed, r.TargetValue())

	dev.AssertExpectations(t)
}

func TestReconciler_SetTargetDoorState_PollsImmediately(t *testing.T) {
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closed", nil)
	dev.On("ActOnDevice", mock.Anything, "open").Return(nil)

	r, sched := newTestReconciler(dev)

	// Idle schedule in place before the command
	assert.Equal(t, DefaultIdleDelay, r.Poll(context.Background()))
	idle := sched.last()

	require.NoError(t, r.SetTargetDoorState(context.Background(), model.TargetDoorStateOpen, model.OriginBridge))

	_, pending := r.PendingTarget()
	assert.False(t, pending)
	assert.True(t, idle.stopped)

	active := sched.active()
	require.Len(t, active, 1)
	assert.Equal(t, time.Duration(0), active[0].delay)
}

func TestReconciler_SetTargetDoorState_Failure(t *testing.T) {
	dev := new(MockDevice)
	dev.On("ActOnDevice", mock.Anything, "open").Return(errors.New("forbidden"))

	r, sched := newTestReconciler(dev)

	err := r.SetTargetDoorState(context.Background(), model.TargetDoorStateOpen, model.OriginBridge)
	assert.Error(t, err)

	pending, ok := r.PendingTarget()
	assert.True(t, ok)
	assert.Equal(t, model.TargetDoorStateOpen, pending)
	assert.Equal(t, model.TargetDoorStateClosed, r.TargetValue())
	assert.Nil(t, sched.last())
}

func TestReconciler_SyncOriginNeverActs(t *testing.T) {
	dev := new(MockDevice)
	r, sched := newTestReconciler(dev)

	require.NoError(t, r.SetTargetDoorState(context.Background(), model.TargetDoorStateOpen, model.OriginSync))

	assert.Equal(t, model.TargetDoorStateOpen, r.TargetValue())
	dev.AssertNotCalled(t, "ActOnDevice", mock.Anything, mock.Anything)
	assert.Nil(t, sched.last())
}

func TestReconciler_OpeningSyncsTargetWithoutCommand(t *testing.T) {
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("opening", nil)

	var buf bytes.Buffer
	r := NewReconciler(zerolog.New(&buf), dev, WithScheduler(&fakeScheduler{}))

	var targetOrigins []model.Origin
	r.OnTargetChange(func(old, new model.TargetDoorState, origin model.Origin) {
		targetOrigins = append(targetOrigins, origin)
	})

	_, err := r.CurrentDoorState(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.CurrentDoorStateOpening, r.CurrentValue())
	assert.Equal(t, model.TargetDoorStateOpen, r.TargetValue())
	assert.Equal(t, []model.Origin{model.OriginSync}, targetOrigins)
	dev.AssertNotCalled(t, "ActOnDevice", mock.Anything, mock.Anything)

	assert.Contains(t, buf.String(), "doorstate changed from closed to opening")
	assert.Contains(t, buf.String(), "desireddoorstate changed from closed to open")
}

func TestReconciler_ClosedSyncsTarget(t *testing.T) {
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("open", nil).Once()
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closing", nil).Once()
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closed", nil).Once()

	r, _ := newTestReconciler(dev)

	_, _ = r.CurrentDoorState(context.Background())
	assert.Equal(t, model.TargetDoorStateOpen, r.TargetValue())

	_, _ = r.CurrentDoorState(context.Background())
	assert.Equal(t, model.TargetDoorStateClosed, r.TargetValue())

	_, _ = r.CurrentDoorState(context.Background())
	assert.Equal(t, model.CurrentDoorStateClosed, r.CurrentValue())
	assert.Equal(t, model.TargetDoorStateClosed, r.TargetValue())
	dev.AssertNotCalled(t, "ActOnDevice", mock.Anything, mock.Anything)
}

func TestReconciler_ConcurrentFetchesKeepTargetInLine(t *testing.T) {
	fetched := make(chan struct{}, 4)
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("opening", nil).Once()
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closed", nil).Run(func(mock.Arguments) {
		fetched <- struct{}{}
	})

	r, _ := newTestReconciler(dev)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var calls int32
	var mu sync.Mutex
	pushed := r.CurrentValue()
	r.OnCurrentChange(func(old, new model.CurrentDoorState, origin model.Origin) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-unblock
		}
		mu.Lock()
		pushed = new
		mu.Unlock()
	})

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = r.CurrentDoorState(context.Background())
	}()
	<-entered

	second := make(chan struct{})
	go func() {
		defer close(second)
		_, _ = r.CurrentDoorState(context.Background())
	}()
	<-fetched

	// The newer write waits for the older notification to finish
	assert.Never(t, func() bool {
		select {
		case <-second:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(unblock)
	<-first
	<-second

	assert.Equal(t, model.CurrentDoorStateClosed, r.CurrentValue())
	assert.Equal(t, model.TargetDoorStateClosed, r.TargetValue())
	mu.Lock()
	assert.Equal(t, model.CurrentDoorStateClosed, pushed)
	mu.Unlock()

	// A settled door goes back to the idle delay
	assert.Equal(t, DefaultIdleDelay, r.Poll(context.Background()))
	dev.AssertNotCalled(t, "ActOnDevice", mock.Anything, mock.Anything)
}

func TestReconciler_PollDelays(t *testing.T) {
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closed", nil).Once()
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("opening", nil).Once()
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("", errors.New("timeout")).Once()

	r, sched := newTestReconciler(dev)

	assert.Equal(t, 10*time.Second, r.Poll(context.Background()))
	assert.Equal(t, 2*time.Second, r.Poll(context.Background()))
	assert.Equal(t, 10*time.Second, r.Poll(context.Background()))

	// Every poll replaced the previous timer
	assert.Len(t, sched.active(), 1)
	assert.Equal(t, 10*time.Second, sched.last().delay)
}

func TestReconciler_StartSettledDoor(t *testing.T) {
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closed", nil)

	r, sched := newTestReconciler(dev)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	first := sched.last()
	require.NotNil(t, first)
	assert.Equal(t, time.Duration(0), first.delay)

	sched.fire(first)

	assert.Equal(t, model.CurrentDoorStateClosed, r.CurrentValue())
	assert.Equal(t, model.TargetDoorStateClosed, r.TargetValue())
	assert.Equal(t, 10*time.Second, sched.last().delay)
	assert.Len(t, sched.active(), 1)
}

func TestReconciler_OpenScenario(t *testing.T) {
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closed", nil).Once()
	dev.On("ActOnDevice", mock.Anything, "open").Return(nil).Once()
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("opening", nil).Once()
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("open", nil).Once()

	r, sched := newTestReconciler(dev)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	sched.fire(sched.last())
	assert.Equal(t, 10*time.Second, sched.last().delay)

	require.NoError(t, r.SetTargetDoorState(ctx, model.TargetDoorStateOpen, model.OriginBridge))
	immediate := sched.last()
	assert.Equal(t, time.Duration(0), immediate.delay)

	sched.fire(immediate)
	assert.Equal(t, model.CurrentDoorStateOpening, r.CurrentValue())
	assert.Equal(t, model.TargetDoorStateOpen, r.TargetValue())
	assert.Equal(t, 2*time.Second, sched.last().delay)

	sched.fire(sched.last())
	assert.Equal(t, model.CurrentDoorStateOpen, r.CurrentValue())
	assert.Equal(t, 10*time.Second, sched.last().delay)

	dev.AssertExpectations(t)
	dev.AssertNumberOfCalls(t, "ActOnDevice", 1)
}

func TestReconciler_ReplacedTimerDoesNotPoll(t *testing.T) {
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closed", nil)
	dev.On("ActOnDevice", mock.Anything, "open").Return(nil)

	r, sched := newTestReconciler(dev)
	r.Start(context.Background())
	stale := sched.last()

	require.NoError(t, r.SetTargetDoorState(context.Background(), model.TargetDoorStateOpen, model.OriginBridge))

	sched.fire(stale)
	dev.AssertNotCalled(t, "GetDeviceAttribute", mock.Anything, mock.Anything)
	r.Stop()
}

func TestReconciler_StopCancelsTimer(t *testing.T) {
	dev := new(MockDevice)
	r, sched := newTestReconciler(dev)

	r.Start(context.Background())
	timer := sched.last()
	r.Stop()

	assert.True(t, timer.stopped)
	sched.fire(timer)
	dev.AssertNotCalled(t, "GetDeviceAttribute", mock.Anything, mock.Anything)
}

func TestReconciler_RealTimerLoop(t *testing.T) {
	defer leaktest.Check(t)()

	var fetches int32
	dev := new(MockDevice)
	dev.On("GetDeviceAttribute", mock.Anything, "door_state").Return("closed", nil).Run(func(mock.Arguments) {
		atomic.AddInt32(&fetches, 1)
	})

	r := NewReconciler(zerolog.Nop(), dev, WithPolicy(PollPolicy{
		ActiveDelay: time.Millisecond,
		IdleDelay:   5 * time.Millisecond,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fetches) >= 3
	}, time.Second, time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.stopped
	}, time.Second, time.Millisecond)
}
