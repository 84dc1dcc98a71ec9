package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressMonitor_CountsCompletedIterations(t *testing.T) {
	m := NewProgressMonitor(2)
	for i := 0; i < 5; i++ {
		m.StartIteration(i)
		m.EndSimulation(i)
	}
	assert.Equal(t, 5, m.Completed())
	assert.False(t, m.Cancelled())
	m.Cancel()
	assert.True(t, m.Cancelled())
}

func TestContextMonitor_JoinsContextAndInner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := &CancelMonitor{}
	m := withContext(ctx, inner)
	assert.False(t, m.Cancelled())

	inner.Cancel()
	assert.True(t, m.Cancelled())

	bare := withContext(ctx, nil)
	assert.False(t, bare.Cancelled())
	bare.StartIteration(0)
	bare.Update(1)
	bare.EndSimulation(0)
	cancel()
	assert.True(t, bare.Cancelled())
}
