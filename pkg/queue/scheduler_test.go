package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerDropsDuplicateKeyWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int32

	source := func(ctx context.Context) ([]Task, error) {
		return []Task{{
			Key: "node:1",
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&runs, 1)
				select {
				case started <- struct{}{}:
				default:
				}
				<-release
				return nil
			},
		}}, nil
	}

	s := NewScheduler(nil, Job{Name: "poll", Interval: 5 * time.Millisecond, Source: source})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never started")
	}

	// Several ticks elapse while the first run is still blocked on release;
	// the key must stay held, so no second goroutine should start.
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))

	close(release)
}

func TestSchedulerRunsDistinctKeysConcurrently(t *testing.T) {
	var seen atomic.Int32
	done := make(chan struct{})

	source := func(ctx context.Context) ([]Task, error) {
		return []Task{
			{Key: "a", Run: func(ctx context.Context) error { seen.Add(1); return nil }},
			{Key: "b", Run: func(ctx context.Context) error {
				if seen.Add(1) == 2 {
					close(done)
				}
				return nil
			}},
		}, nil
	}

	s := NewScheduler(nil, Job{Name: "fanout", Interval: time.Hour, Source: source})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("both keyed tasks never ran")
	}
}

func TestSchedulerStopWaitsForInFlightTasks(t *testing.T) {
	finished := make(chan struct{})
	source := func(ctx context.Context) ([]Task, error) {
		return []Task{{Key: "x", Run: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			close(finished)
			return nil
		}}}, nil
	}

	s := NewScheduler(nil, Job{Name: "once", Interval: time.Hour, Source: source})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Stop()

	select {
	case <-finished:
	default:
		require.Fail(t, "Stop returned before the in-flight task finished")
	}
}
