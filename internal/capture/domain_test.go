package capture

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMailbox_OrderAndCoalescing(t *testing.T) {
	m := newMailbox()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		m.post(func() { got = append(got, i) })
	}
	for _, task := range m.drain() {
		task()
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Empty(t, m.drain())

	// Ready signal coalesces: many posts, one pending token.
	select {
	case <-m.ready:
	default:
		t.Fatal("expected a pending ready token")
	}
	select {
	case <-m.ready:
		t.Fatal("expected at most one ready token")
	default:
	}
}

func TestMixDomain_SignalRunsBody(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int32
	d := newMixDomain(func() { runs.Add(1) })
	d.activate()
	defer d.deactivate()

	d.signal()
	require.Eventually(t, func() bool { return runs.Load() >= 1 },
		time.Second, time.Millisecond)

	// Coalesced signals trigger at most one extra run once idle.
	d.signal()
	d.signal()
	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		time.Second, time.Millisecond)
}

func TestMixDomain_TimerWake(t *testing.T) {
	defer goleak.VerifyNone(t)

	var armed sync.Once
	var runs atomic.Int32
	var d *mixDomain
	d = newMixDomain(func() {
		runs.Add(1)
		// Arm from the body, the only place that owns the timer.
		armed.Do(func() { d.armTimer(5 * time.Millisecond) })
	})
	d.activate()
	defer d.deactivate()

	d.signal()
	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		time.Second, time.Millisecond)
}

func TestMixDomain_PostedTasksDoNotRunBody(t *testing.T) {
	defer goleak.VerifyNone(t)

	var bodyRuns, taskRuns atomic.Int32
	d := newMixDomain(func() { bodyRuns.Add(1) })
	d.activate()
	defer d.deactivate()

	d.post(func() { taskRuns.Add(1) })
	require.Eventually(t, func() bool { return taskRuns.Load() == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, int32(0), bodyRuns.Load())
}

func TestMixDomain_DeactivateIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newMixDomain(func() {})
	d.activate()
	d.deactivate()
	d.deactivate()
}

func TestControlDomain_DrainsOnDeactivate(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newControlDomain()
	d.activate()

	var ran atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	d.post(func() { defer wg.Done(); ran.Add(1) })
	d.deactivate()
	wg.Wait()
	assert.Equal(t, int32(1), ran.Load())
}
