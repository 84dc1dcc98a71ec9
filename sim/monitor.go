package sim

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// CancelMonitor is a Monitor whose only behavior is an externally triggered cancel flag.
// It is safe for concurrent use.
type CancelMonitor struct {
	cancelled atomic.Bool
}

// Cancel marks the monitor as cancelled.
func (m *CancelMonitor) Cancel() { m.cancelled.Store(true) }

func (m *CancelMonitor) Cancelled() bool    { return m.cancelled.Load() }
func (m *CancelMonitor) StartIteration(int) {}
func (m *CancelMonitor) EndSimulation(int)  {}
func (m *CancelMonitor) Update(float64)     {}

// ProgressMonitor logs batch progress through logrus every Every completed iterations.
type ProgressMonitor struct {
	Every int // log period in iterations (default 50)

	started   time.Time
	completed atomic.Int64
	cancelled atomic.Bool
}

// NewProgressMonitor creates a progress monitor logging every n iterations.
func NewProgressMonitor(n int) *ProgressMonitor {
	return &ProgressMonitor{Every: n}
}

// Cancel stops the batch at the next check.
func (m *ProgressMonitor) Cancel() { m.cancelled.Store(true) }

func (m *ProgressMonitor) Cancelled() bool { return m.cancelled.Load() }

func (m *ProgressMonitor) StartIteration(i int) {
	if i == 0 {
		m.started = time.Now()
	}
	logrus.Tracef("iteration %d started", i)
}

func (m *ProgressMonitor) EndSimulation(i int) {
	done := m.completed.Add(1)
	every := m.Every
	if every <= 0 {
		every = 50
	}
	if done%int64(every) == 0 {
		logrus.Infof("%d iterations completed (%s elapsed)", done, time.Since(m.started).Round(time.Millisecond))
	}
}

func (m *ProgressMonitor) Update(float64) {}

// Completed returns the number of iterations reported as ended.
func (m *ProgressMonitor) Completed() int {
	return int(m.completed.Load())
}

// contextMonitor joins a caller monitor with context cancellation.
type contextMonitor struct {
	ctx   context.Context
	inner Monitor
}

func withContext(ctx context.Context, inner Monitor) Monitor {
	return &contextMonitor{ctx: ctx, inner: inner}
}

func (m *contextMonitor) Cancelled() bool {
	if m.ctx.Err() != nil {
		return true
	}
	return m.inner != nil && m.inner.Cancelled()
}

func (m *contextMonitor) StartIteration(i int) {
	if m.inner != nil {
		m.inner.StartIteration(i)
	}
}

func (m *contextMonitor) EndSimulation(i int) {
	if m.inner != nil {
		m.inner.EndSimulation(i)
	}
}

func (m *contextMonitor) Update(time float64) {
	if m.inner != nil {
		m.inner.Update(time)
	}
}
