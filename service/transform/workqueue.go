package transform

import (
	"context"
	"errors"
	"sync"

	"github.com/tweag/asset-relay/internal/logging"
)

var errQueueStopped = errors.New("transform queue is stopped")

// workQueue runs handler on a fixed number of goroutines.
// It bounds the number of concurrent transformations independent of the number of requests.
type workQueue[T, U any] struct {
	requests chan workRequest[T, U]
	workers  int
	handler  func(context.Context, T) (U, error)
	wg       sync.WaitGroup
	stopOnce sync.Once
	// mu guards stopped and the closing of requests against concurrent Enqueue calls.
	mu      sync.RWMutex
	stopped bool
}

func newWorkQueue[T, U any](handler func(context.Context, T) (U, error), workers int) *workQueue[T, U] {
	if workers < 1 {
		workers = 1
	}
	q := &workQueue[T, U]{
		requests: make(chan workRequest[T, U], workqueueBufferSize),
		workers:  workers,
		handler:  handler,
	}
	return q
}

func (q *workQueue[T, U]) Start(ctx context.Context) {
	q.wg.Add(q.workers)
	for range q.workers {
		go func() {
			defer q.wg.Done()
			for req := range q.requests {
				resp, err := q.handler(ctx, req.message)
				if err != nil && len(req.callbacks) == 0 {
					logging.Errorf("background processing: %v", err)
				}
				for _, callback := range req.callbacks {
					callback(req.message, resp, err)
				}
			}
		}()
	}
}

// Stop lets the workers drain the queue and waits for them.
func (q *workQueue[T, U]) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.requests)
		q.mu.Unlock()
	})
	q.wg.Wait()
}

// Enqueue blocks while the buffer is full.
// It fails once the queue was stopped.
func (q *workQueue[T, U]) Enqueue(message T, callbacks ...func(T, U, error)) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return errQueueStopped
	}
	q.requests <- workRequest[T, U]{message, callbacks}
	return nil
}

type workRequest[T, U any] struct {
	message   T
	callbacks []func(T, U, error)
}

// workqueueBufferSize is the size of the workqueue channel
// buffer. This is a tradeoff between memory usage and
// responsiveness.
const workqueueBufferSize = 128
