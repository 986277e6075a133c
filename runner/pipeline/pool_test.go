package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitResolvesFuture(t *testing.T) {
	p := NewPool(2, 0)
	defer p.Shutdown(time.Second)

	f := Submit(p, func() (int, error) { return 42, nil })
	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.IsReady())

	boom := errors.New("boom")
	_, err = Submit(p, func() (string, error) { return "", boom }).Get(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSubmitRecoversPanic(t *testing.T) {
	p := NewPool(1, 0)
	defer p.Shutdown(time.Second)

	_, err := Submit(p, func() (int, error) { panic("stage exploded") }).Get(context.Background())

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "stage exploded", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	// the worker survives the panic
	v, err := Submit(p, func() (int, error) { return 1, nil }).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, 16)
	defer p.Shutdown(time.Second)

	var running, peak atomic.Int32
	futures := make([]*Future[struct{}], 8)
	for i := range futures {
		futures[i] = Submit(p, func() (struct{}, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return struct{}{}, nil
		})
	}
	for _, f := range futures {
		_, err := f.Get(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := NewPool(1, 0)
	require.NoError(t, p.Shutdown(time.Second))

	f := Submit(p, func() (int, error) { return 1, nil })
	assert.True(t, f.IsReady())
	_, err := f.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	assert.ErrorIs(t, p.Shutdown(time.Second), ErrPoolClosed)
}

func TestSubmitQueueFull(t *testing.T) {
	p := NewPool(1, 1)
	release := make(chan struct{})
	defer func() {
		close(release)
		p.Shutdown(time.Second)
	}()

	started := make(chan struct{})
	Submit(p, func() (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started
	Submit(p, func() (int, error) { return 0, nil })

	_, err := Submit(p, func() (int, error) { return 0, nil }).Get(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitWaitQueuesBehindFullQueue(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Shutdown(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	Submit(p, func() (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started
	Submit(p, func() (int, error) { return 0, nil })

	waiting := make(chan *Future[int], 1)
	go func() {
		waiting <- SubmitWait(context.Background(), p, func() (int, error) { return 3, nil })
	}()

	select {
	case <-waiting:
		t.Fatal("SubmitWait returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := (<-waiting).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Zero(t, p.Stats().Rejected)
}

func TestSubmitWaitGivesUp(t *testing.T) {
	p := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	Submit(p, func() (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started
	Submit(p, func() (int, error) { return 0, nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := SubmitWait(ctx, p, func() (int, error) { return 0, nil }).Get(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	waiting := make(chan error, 1)
	go func() {
		_, err := SubmitWait(context.Background(), p, func() (int, error) { return 0, nil }).Get(context.Background())
		waiting <- err
	}()
	time.Sleep(20 * time.Millisecond)

	assert.ErrorIs(t, p.Shutdown(20*time.Millisecond), ErrShutdownTimeout)
	assert.ErrorIs(t, <-waiting, ErrPoolClosed)
	close(release)
}

func TestShutdownGrace(t *testing.T) {
	p := NewPool(1, 0)
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	Submit(p, func() (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started

	assert.ErrorIs(t, p.Shutdown(20*time.Millisecond), ErrShutdownTimeout)
}

func TestShutdownDrainsQueue(t *testing.T) {
	p := NewPool(1, 8)
	var done atomic.Int32
	for i := 0; i < 5; i++ {
		Submit(p, func() (int, error) {
			time.Sleep(time.Millisecond)
			done.Add(1)
			return 0, nil
		})
	}

	require.NoError(t, p.Shutdown(5*time.Second))
	assert.Equal(t, int32(5), done.Load())
}

func TestFutureGetRespectsContext(t *testing.T) {
	f, complete := NewPromise[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.IsReady())

	complete(7, nil)
	complete(8, nil)
	<-f.Done()
	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
