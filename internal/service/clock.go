package service

import "time"

// Clock supplies wall-clock time for age checks and the vote spam window.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
