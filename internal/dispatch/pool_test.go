package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsJobsAndSurvivesPanics(t *testing.T) {
	p := NewPool(2, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- p.Run(ctx) }()

	var ran atomic.Int32
	require.NoError(t, p.Submit(func(context.Context) { panic("job panic") }))
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(context.Context) { ran.Add(1) }))
	}
	require.Eventually(t, func() bool { return ran.Load() == 10 }, 2*time.Second, 5*time.Millisecond)

	p.Close()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrPoolClosed)
}

func TestPool_Defaults(t *testing.T) {
	p := NewPool(0, 0)
	assert.Equal(t, DefaultWorkers, p.Size())
	assert.Equal(t, DefaultBacklog, cap(p.jobs))
}
