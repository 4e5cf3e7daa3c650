// --- File: internal/dispatcher/scheduler_test.go ---
package dispatcher_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JULAME/trianglerh-web/internal/dispatcher"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (c *countingRunner) RunCycle(context.Context) (dispatcher.CycleReport, error) {
	c.calls.Add(1)
	return dispatcher.CycleReport{}, c.err
}

func TestScheduler_RunsImmediatelyThenOnInterval(t *testing.T) {
	runner := &countingRunner{}
	s := dispatcher.NewScheduler(runner, 20*time.Millisecond, newTestLogger())

	s.Start(context.Background())
	s.Start(context.Background()) // second start is ignored

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	stopped := runner.calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, runner.calls.Load())

	// Stopping twice is harmless.
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_FirstTickIsImmediate(t *testing.T) {
	runner := &countingRunner{err: errors.New("query failed")}
	s := dispatcher.NewScheduler(runner, time.Hour, newTestLogger())

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
}

type parkedRunner struct {
	entered  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func (p *parkedRunner) RunCycle(context.Context) (dispatcher.CycleReport, error) {
	close(p.entered)
	<-p.release
	p.finished.Store(true)
	return dispatcher.CycleReport{}, nil
}

func TestScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	runner := &parkedRunner{entered: make(chan struct{}), release: make(chan struct{})}
	s := dispatcher.NewScheduler(runner, time.Hour, newTestLogger())
	s.Start(context.Background())
	<-runner.entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	require.NoError(t, <-stopped)
	assert.True(t, runner.finished.Load())
}
