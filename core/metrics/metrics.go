// Package metrics holds the instrumentation interfaces core packages report
// through. adapters/prometheus implements them.
package metrics

import "time"

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes:
//
//	defer m.StoreAppendDuration().ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// TimerFunc adapts a function to Timer.
type TimerFunc func()

func (f TimerFunc) ObserveDuration() { f() }

// NewTimer starts a timer that reports the elapsed time to observe.
func NewTimer(observe func(time.Duration)) Timer {
	start := time.Now()
	return TimerFunc(func() { observe(time.Since(start)) })
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }
