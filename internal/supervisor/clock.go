package supervisor

import "time"

// Timer is the subset of *time.Timer the supervisor uses.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock to fire
// restart and timeout timers deterministically.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
func (realClock) Now() time.Time                            { return time.Now() }
