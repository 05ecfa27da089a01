package engine

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbot/internal/errors"
	"postbot/internal/eventbus"
	logx "postbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, *eventbus.MemBus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func fastRetry() TaskOptions {
	return TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 3})
	events, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	require.NoError(t, s.Enqueue(Task{Name: "deliver", Opt: fastRetry(), Run: func(ctx context.Context, attempt int) error {
		calls.Add(1)
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	}}))

	ev := waitEvent(t, events, eventbus.TaskFinished)
	assert.Equal(t, 3, ev.Data.(HistoryItem).Attempts)
	assert.EqualValues(t, 3, calls.Load())
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 5})
	events, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	require.NoError(t, s.Enqueue(Task{Name: "deliver", Opt: fastRetry(), Run: func(context.Context, int) error {
		calls.Add(1)
		return NoRetry(errors.New("chat not found"))
	}}))

	ev := waitEvent(t, events, eventbus.TaskFailed)
	item := ev.Data.(HistoryItem)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, "chat not found", item.Error)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPanicIsIsolated(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: -1})
	events, unsub := bus.Subscribe(16)
	defer unsub()

	require.NoError(t, s.Enqueue(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context, int) error {
		panic("bad payload")
	}}))
	ev := waitEvent(t, events, eventbus.TaskFailed)
	assert.Contains(t, ev.Data.(HistoryItem).Error, "bad payload")

	done := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "after", Run: func(context.Context, int) error {
		close(done)
		return nil
	}}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{Name: "deliver", Key: "recurring_a", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context, int) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, s.Enqueue(task))
	<-started
	assert.True(t, errors.Is(s.Enqueue(task), ErrOverlapSkip))

	other := task
	other.Key = "recurring_b"
	other.Run = func(context.Context, int) error { return nil }
	assert.NoError(t, s.Enqueue(other))
	close(release)
}

func TestAttemptTimeout(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	events, unsub := bus.Subscribe(16)
	defer unsub()

	require.NoError(t, s.Enqueue(Task{Name: "slow", Opt: TaskOptions{RetryMax: -1}, Run: func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	ev := waitEvent(t, events, eventbus.TaskFailed)
	assert.Contains(t, ev.Data.(HistoryItem).Error, "deadline exceeded")
}

func TestEnqueueWhenStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context, int) error { return nil }})
	assert.True(t, errors.Is(err, ErrStopped))
	assert.False(t, s.Snapshot().Running)
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	rng := rand.New(rand.NewSource(1))

	for retry, want := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 400 * time.Millisecond, 6: time.Second} {
		d := backoffDelay(opt, retry, rng)
		assert.InDelta(t, float64(want), float64(d), float64(want)*0.21, "retry %d", retry)
		assert.LessOrEqual(t, d, time.Second)
	}

	hinted := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("flood"), 30*time.Second), rng)
	assert.LessOrEqual(t, hinted, time.Second)
	assert.Greater(t, hinted, 700*time.Millisecond)
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}
