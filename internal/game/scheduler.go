package game

import "time"

// Timer is the handle of a scheduled task. Stop is best effort; tasks must
// still check that they are current when they run.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on the runtime timer heap.
var RealScheduler Scheduler = realScheduler{}
