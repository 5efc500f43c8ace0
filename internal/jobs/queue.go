package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/instaauto/internal/common"
)

var (
	ErrQueueNotStarted = errors.New("queue not started")
	ErrQueueFull       = errors.New("queue is full")
	ErrQueueClosed     = errors.New("queue is shut down")
)

// Processor runs one processing attempt for the post with the given id.
type Processor interface {
	Process(ctx context.Context, id string) error
}

// Queue hands post ids to a fixed pool of workers through a bounded buffer.
// Submit never blocks; a full buffer is reported as ErrQueueFull.
type Queue struct {
	log     *slog.Logger
	ids     chan string
	workers int

	mu      sync.Mutex
	state   queueState
	stop    context.CancelFunc
	running sync.WaitGroup
}

type queueState int

const (
	queueIdle queueState = iota
	queueRunning
	queueClosed
)

var _ Submitter = (*Queue)(nil)

// NewQueue creates a Queue buffering up to capacity ids for the given number of workers.
func NewQueue(logger *slog.Logger, capacity int, workers int) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = common.DefaultWorkerCount
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		log:     logger,
		ids:     make(chan string, capacity),
		workers: workers,
	}
}

// Start launches the workers. Cancelling ctx stops them from taking new ids;
// an attempt already running is never interrupted.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch q.state {
	case queueRunning:
		return errors.New("queue already started")
	case queueClosed:
		return ErrQueueClosed
	}
	ctx, q.stop = context.WithCancel(ctx)
	q.running.Add(q.workers)
	for i := range q.workers {
		go q.work(ctx, p, q.log.With("worker", i))
	}
	q.state = queueRunning
	return nil
}

func (q *Queue) work(ctx context.Context, p Processor, log *slog.Logger) {
	defer q.running.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-q.ids:
			if !ok {
				return
			}
			q.run(ctx, p, log.With("job_id", id), id)
		}
	}
}

func (q *Queue) run(ctx context.Context, p Processor, log *slog.Logger, id string) {
	start := time.Now()
	if err := p.Process(context.WithoutCancel(ctx), id); err != nil {
		log.Error("job processing failed", "err", err, "duration", time.Since(start))
		return
	}
	log.Debug("job processed", "duration", time.Since(start))
}

// Submit queues id for processing without waiting for it.
func (q *Queue) Submit(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch q.state {
	case queueIdle:
		return ErrQueueNotStarted
	case queueClosed:
		return ErrQueueClosed
	}
	select {
	case q.ids <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting ids and lets the workers drain what is buffered.
// After deadline (when positive) workers stop taking new ids and Shutdown
// returns; ids still buffered then remain PENDING in the store.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.mu.Lock()
	if q.state == queueClosed {
		q.mu.Unlock()
		return
	}
	wasRunning := q.state == queueRunning
	q.state = queueClosed
	close(q.ids)
	q.mu.Unlock()
	if !wasRunning {
		return
	}

	drained := make(chan struct{})
	go func() {
		q.running.Wait()
		close(drained)
	}()

	var expired <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-drained:
	case <-expired:
		q.log.Warn("queue shutdown deadline reached", "pending", len(q.ids))
	}
	q.stop()
}
