package service

import (
	"time"

	"garage-bridge/internal/ports"
)

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) ports.Timer {
	return time.AfterFunc(d, f)
}
