package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStatusMap struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeStatusMap() *fakeStatusMap {
	return &fakeStatusMap{values: make(map[string]string)}
}

func (f *fakeStatusMap) Set(ctx context.Context, key, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.values[key]
	f.values[key] = value
	return prev, nil
}

func (f *fakeStatusMap) get(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key]
}

func TestRunStopsAllWorkersOnCancel(t *testing.T) {
	var started int32
	worker := Worker{Name: "w1", Run: func(ctx context.Context) error {
		atomic.AddInt32(&started, 1)
		<-ctx.Done()
		return ctx.Err()
	}}
	sm := newFakeStatusMap()
	s := New(Options{StatusMap: sm, ShutdownGrace: time.Second}, worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&started) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.Equal(t, string(StatusStopped), sm.get(":w1"))
}

func TestSuperviseRestartsCrashedWorkerWithBackoff(t *testing.T) {
	var calls int32
	worker := Worker{Name: "flaky", Run: func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	sm := newFakeStatusMap()
	s := New(Options{
		StatusMap:      sm,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		ShutdownGrace:  time.Second,
	}, worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done

	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestRunTimesOutIfWorkerIgnoresCancellation(t *testing.T) {
	worker := Worker{Name: "stubborn", Run: func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return ctx.Err()
	}}
	s := New(Options{ShutdownGrace: 5 * time.Millisecond}, worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err, "Run must give up and return an error once the grace period elapses")
	case <-time.After(time.Second):
		t.Fatal("Run did not give up after the grace period")
	}
}

func TestRestartsAfterCrashesFollowingSustainedUptime(t *testing.T) {
	var calls int32
	var timestamps []time.Time
	var mu sync.Mutex
	worker := Worker{Name: "sustained", Run: func(ctx context.Context) error {
		mu.Lock()
		timestamps = append(timestamps, time.Now())
		mu.Unlock()
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			// The first two runs "survive" long enough to count as sustained uptime.
			time.Sleep(12 * time.Millisecond)
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	s := New(Options{
		InitialBackoff:  2 * time.Millisecond,
		MaxBackoff:      100 * time.Millisecond,
		SustainedUptime: 10 * time.Millisecond,
		ShutdownGrace:   time.Second,
	}, worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
