package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlate/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubLister struct {
	mu   sync.Mutex
	jobs []*models.TranslationJob
	err  error
}

func (s *stubLister) ListByStatus(_ context.Context, status models.Status, limit int) ([]*models.TranslationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []*models.TranslationJob
	for _, j := range s.jobs {
		if j.Status == status && len(out) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

func TestWorkerProcessesEnqueuedJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{}, 10)

	w := New(func(_ context.Context, id string) error {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, nil, Config{Concurrency: 3, QueueSize: 10}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, w.Enqueue(id))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	w.Stop()

	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, seen)
	assert.Eventually(t, func() bool { return w.Pending() == 0 }, time.Second, 10*time.Millisecond)
	assert.False(t, w.Enqueue("d"), "stopped worker rejects work")
}

func TestWorkerDedupesPendingJobs(t *testing.T) {
	w := New(func(context.Context, string) error { return nil }, nil, Config{QueueSize: 2}, quietLogger())

	// not started: jobs stay pending
	assert.True(t, w.Enqueue("a"))
	assert.False(t, w.Enqueue("a"))
	assert.True(t, w.Enqueue("b"))
	assert.False(t, w.Enqueue("c"), "queue full")
	assert.Equal(t, 2, w.Pending())
}

func TestWorkerRecoversFromHandlerPanicAndError(t *testing.T) {
	var calls atomic.Int32
	processed := make(chan string, 3)
	w := New(func(_ context.Context, id string) error {
		calls.Add(1)
		defer func() { processed <- id }()
		switch id {
		case "panic":
			panic("boom")
		case "error":
			return errors.New("step failed")
		}
		return nil
	}, nil, Config{Concurrency: 1}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	for _, id := range []string{"panic", "error", "ok"} {
		require.True(t, w.Enqueue(id))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-processed:
		case <-time.After(2 * time.Second):
			t.Fatal("worker stopped after a failing job")
		}
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestWorkerPollRecoversQueuedJobs(t *testing.T) {
	lister := &stubLister{jobs: []*models.TranslationJob{
		{ID: "q1", Status: models.StatusQueued},
		{ID: "done", Status: models.StatusCompleted},
		{ID: "q2", Status: models.StatusQueued},
	}}
	w := New(func(context.Context, string) error { return nil }, lister, Config{QueueSize: 10}, quietLogger())

	assert.Equal(t, 2, w.poll(context.Background()))
	assert.Equal(t, 0, w.poll(context.Background()), "already pending")

	lister.err = errors.New("db down")
	assert.Equal(t, 0, w.poll(context.Background()))
}

func TestWorkerPollLoop(t *testing.T) {
	lister := &stubLister{jobs: []*models.TranslationJob{{ID: "q1", Status: models.StatusQueued}}}
	ran := make(chan string, 1)
	w := New(func(_ context.Context, id string) error {
		lister.mu.Lock()
		lister.jobs[0].Status = models.StatusCompleted
		lister.mu.Unlock()
		select {
		case ran <- id:
		default:
		}
		return nil
	}, lister, Config{PollInterval: 10 * time.Millisecond}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	select {
	case id := <-ran:
		assert.Equal(t, "q1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("queued job was not recovered")
	}
}
