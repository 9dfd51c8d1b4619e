package worker

import (
	"context"
	"sync/atomic"
	"time"
)

// Activity records when a worker last produced output.
type Activity struct {
	last atomic.Int64
}

// NewActivity starts the clock at t.
func NewActivity(t time.Time) *Activity {
	a := &Activity{}
	a.Touch(t)
	return a
}

func (a *Activity) Touch(t time.Time) { a.last.Store(t.UnixNano()) }

func (a *Activity) Last() time.Time { return time.Unix(0, a.last.Load()) }

// Watchdog kills workers that stay silent for longer than Timeout.
type Watchdog struct {
	Timeout  time.Duration
	Interval time.Duration // Default Timeout/4, capped at 1s
	Now      func() time.Time
}

func (w Watchdog) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w Watchdog) interval() time.Duration {
	if w.Interval > 0 {
		return w.Interval
	}
	iv := w.Timeout / 4
	if iv > time.Second || iv <= 0 {
		iv = time.Second
	}
	return iv
}

// Watch blocks until h is done. It returns true when the watchdog killed the
// worker for inactivity. Cancelling ctx kills the worker too, but is not
// reported as an inactivity kill.
func (w Watchdog) Watch(ctx context.Context, h Handle, a *Activity) bool {
	if w.Timeout <= 0 {
		select {
		case <-h.Done():
		case <-ctx.Done():
			_ = h.Kill()
			<-h.Done()
		}
		return false
	}

	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-h.Done():
			return false
		case <-ctx.Done():
			_ = h.Kill()
			<-h.Done()
			return false
		case <-ticker.C:
			if w.now().Sub(a.Last()) > w.Timeout {
				_ = h.Kill()
				<-h.Done()
				return true
			}
		}
	}
}
