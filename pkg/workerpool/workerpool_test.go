package workerpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	n *int32
}

func (j countingJob) Run() { atomic.AddInt32(j.n, 1) }

func TestPoolRunsAllSubmittedJobs(t *testing.T) {
	var n int32
	p := New(4, 16)

	const total = 100
	for i := 0; i < total; i++ {
		p.Submit(countingJob{n: &n})
	}
	p.Stop()

	require.EqualValues(t, total, atomic.LoadInt32(&n))
}

func TestPoolStopIsIdempotent(t *testing.T) {
	p := New(2, 4)
	p.Stop()
	p.Stop() // must not panic or deadlock on a second call
}

func TestSubmitAfterStopIsNoop(t *testing.T) {
	p := New(1, 1)
	p.Stop()

	var n int32
	done := make(chan struct{})
	go func() {
		p.Submit(countingJob{n: &n})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit after Stop blocked instead of returning")
	}
	require.Zero(t, n, "job ran after pool stopped")
}

func TestTrySubmitReportsFullQueue(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	p := New(1, 1)
	defer func() {
		close(block)
		p.Stop()
	}()

	// Occupy the single worker so the next job has to sit in the queue.
	p.Submit(blockingJob{block: block, started: started})
	<-started

	var n int32
	require.True(t, p.TrySubmit(countingJob{&n}), "expected TrySubmit to succeed while the queue still has room")
	require.False(t, p.TrySubmit(countingJob{&n}), "expected TrySubmit to fail once queue and worker are both occupied")
}

type blockingJob struct {
	block   chan struct{}
	started chan struct{}
}

func (j blockingJob) Run() {
	close(j.started)
	<-j.block
}

func TestTrySubmitFailsAfterStop(t *testing.T) {
	p := New(1, 1)
	p.Stop()
	require.False(t, p.TrySubmit(countingJob{new(int32)}), "expected TrySubmit to fail after Stop")
}
