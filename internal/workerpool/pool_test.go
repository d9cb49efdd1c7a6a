package workerpool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRunsAllTasks(t *testing.T) {
	p := New(4)
	defer p.Close()

	var count int64
	g := p.NewGroup()
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 100, count)
}

func TestGroupPropagatesFirstError(t *testing.T) {
	p := New(2)
	defer p.Close()

	boom := errors.New("boom")
	g := p.NewGroup()
	g.Go(func() error { return nil })
	g.Go(func() error { return boom })
	g.Go(func() error { return nil })

	err := g.Wait()
	assert.ErrorIs(t, err, boom)
}

// TestNestedDispatchDoesNotDeadlock exercises spec §4.2's requirement
// that a worker running inside the pool may enqueue and await child
// tasks without starving the pool. A pool of 1 worker running a task
// that spawns and awaits a child group would deadlock a naive
// implementation (the single worker sits blocked in Wait while nobody
// is left to run the child).
func TestNestedDispatchDoesNotDeadlock(t *testing.T) {
	p := New(1)
	defer p.Close()

	done := make(chan struct{})
	outer := p.NewGroup()
	outer.Go(func() error {
		inner := p.NewGroup()
		var ran int64
		inner.Go(func() error {
			atomic.AddInt64(&ran, 1)
			return nil
		})
		if err := inner.Wait(); err != nil {
			return err
		}
		if atomic.LoadInt64(&ran) != 1 {
			return errors.New("child task did not run")
		}
		return nil
	})

	go func() {
		_ = outer.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested dispatch deadlocked")
	}
}

func TestPoolSizeAtLeastOne(t *testing.T) {
	p := New(0)
	defer p.Close()

	g := p.NewGroup()
	g.Go(func() error { return nil })
	assert.NoError(t, g.Wait())
}
