package ports

import "time"

type Timer interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}
