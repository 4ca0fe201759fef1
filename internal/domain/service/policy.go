package service

import (
	"time"

	"garage-bridge/internal/domain/model"
)

const (
	DefaultActiveDelay = 2 * time.Second
	DefaultIdleDelay   = 10 * time.Second
)

// PollPolicy picks the delay before the next poll.
type PollPolicy struct {
	ActiveDelay time.Duration
	IdleDelay   time.Duration
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{ActiveDelay: DefaultActiveDelay, IdleDelay: DefaultIdleDelay}
}

// NextDelay polls fast while the door is still moving towards its target
// and falls back to the idle delay once settled or when the fetch failed.
func (p PollPolicy) NextDelay(current model.CurrentDoorState, target model.TargetDoorState, fetchErr error) time.Duration {
	if fetchErr != nil {
		return p.IdleDelay
	}
	if !current.Matches(target) {
		return p.ActiveDelay
	}
	return p.IdleDelay
}
