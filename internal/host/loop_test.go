package host

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop() *Loop {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return NewLoop(logger)
}

func waitDone(t *testing.T, l *Loop) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not stop")
	}
}

func TestLoopRunsWorkInOrder(t *testing.T) {
	l := newTestLoop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Schedule(func() { got = append(got, i) }))
	}
	require.True(t, l.Schedule(l.Stop))

	go l.Run()
	waitDone(t, l)

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopScheduleFromManyGoroutines(t *testing.T) {
	l := newTestLoop()
	go l.Run()

	const producers, perProducer = 4, 50
	seen := make(map[int][]int)
	finished := make(chan struct{}, producers)

	for p := 0; p < producers; p++ {
		p := p
		go func() {
			for i := 0; i < perProducer; i++ {
				i := i
				l.Schedule(func() { seen[p] = append(seen[p], i) })
			}
			finished <- struct{}{}
		}()
	}
	for p := 0; p < producers; p++ {
		<-finished
	}

	// Invoke queues behind everything the producers scheduled.
	require.NoError(t, l.Invoke(func() {}))
	l.Stop()
	waitDone(t, l)

	for p := 0; p < producers; p++ {
		require.Len(t, seen[p], perProducer)
		for i, v := range seen[p] {
			assert.Equal(t, i, v, "producer %d out of order", p)
		}
	}
}

func TestLoopStopBeforeRun(t *testing.T) {
	l := newTestLoop()

	ran := false
	require.True(t, l.Schedule(func() { ran = true }))
	l.Stop()
	l.Stop()

	assert.False(t, l.Schedule(func() { ran = true }))

	l.Run()
	waitDone(t, l)

	assert.False(t, ran)
	assert.Zero(t, l.Pending())
}

func TestLoopRunOnlyOnce(t *testing.T) {
	l := newTestLoop()
	l.Stop()
	l.Run()
	waitDone(t, l)

	// A second Run must not panic on the closed done channel.
	l.Run()
}

func TestLoopDiscardsPendingWorkOnStop(t *testing.T) {
	l := newTestLoop()

	ran := 0
	l.Schedule(func() { ran++ })
	l.Schedule(l.Stop)
	l.Schedule(func() { ran++ })
	l.Schedule(func() { ran++ })

	go l.Run()
	waitDone(t, l)

	assert.Equal(t, 1, ran)
	assert.Zero(t, l.Pending())
}

func TestLoopRecoversFromPanics(t *testing.T) {
	l := newTestLoop()

	after := false
	l.Schedule(func() { panic("boom") })
	l.Schedule(func() { after = true })
	l.Schedule(l.Stop)

	go l.Run()
	waitDone(t, l)

	assert.True(t, after)
}

func TestLoopInvoke(t *testing.T) {
	l := newTestLoop()
	go l.Run()
	defer func() {
		l.Stop()
		waitDone(t, l)
	}()

	value := 0
	require.NoError(t, l.Invoke(func() { value = 42 }))
	assert.Equal(t, 42, value)

	err := l.Invoke(func() { panic("bad call") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad call")

	// The loop keeps serving after a panicking call.
	require.NoError(t, l.Invoke(func() { value = 7 }))
	assert.Equal(t, 7, value)
}

func TestLoopInvokeAfterStop(t *testing.T) {
	l := newTestLoop()
	l.Stop()

	err := l.Invoke(func() {})
	assert.True(t, errors.Is(err, ErrLoopStopped))
}

func TestLoopInvokeDiscardedOnStop(t *testing.T) {
	l := newTestLoop()

	gate := make(chan struct{})
	l.Schedule(func() {
		<-gate
		l.Stop()
	})
	go l.Run()

	result := make(chan error, 1)
	go func() {
		result <- l.Invoke(func() {})
	}()

	require.Eventually(t, func() bool { return l.Pending() >= 1 }, time.Second, time.Millisecond)
	close(gate)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrLoopStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Invoke did not return after stop")
	}
}
