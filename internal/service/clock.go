package service

import "time"

// Clock supplies the current time to period derivation and the statistics
// reads. Injecting it keeps month-boundary behavior testable.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

func SystemClock() Clock {
	return ClockFunc(func() time.Time {
		return time.Now().UTC()
	})
}
