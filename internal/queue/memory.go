package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nitesh/factoura_service/internal/logging"
)

var ErrQueueFull = errors.New("queue full")

// Memory is an in-process queue. Tasks are lost on restart.
//
// A task whose NotBefore is still ahead of the wall clock is held on a timer
// and only becomes visible to Consume once due, so it never occupies a worker
// while it waits. Held tasks count against capacity.
type Memory struct {
	tasks   chan Task
	workers int

	mu      sync.Mutex
	delayed int
}

func NewMemory(capacity, workers int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{tasks: make(chan Task, capacity), workers: workers}
}

func (m *Memory) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tasks)+m.delayed >= cap(m.tasks) {
		return ErrQueueFull
	}
	if wait := time.Until(t.NotBefore); wait > 0 {
		m.delayed++
		time.AfterFunc(wait, func() { m.release(t) })
		return nil
	}
	m.tasks <- t
	return nil
}

// release moves a held task into the channel. The slot was reserved at
// enqueue time, so the send cannot block.
func (m *Memory) release(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delayed--
	m.tasks <- t
}

func (m *Memory) Consume(ctx context.Context, h Handler) error {
	log := logging.With("queue")
	jobs := make(chan func())
	done := make(chan struct{})
	go func() {
		runPool(m.workers, jobs)
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			<-done
			return nil
		case t := <-m.tasks:
			job := func() {
				if err := h(ctx, t); err != nil {
					log.Error().Err(err).Str("task_id", t.ID).Str("kind", string(t.Kind)).Int64("article_id", t.ArticleID).Msg("task failed")
				}
			}
			select {
			case jobs <- job:
			case <-ctx.Done():
				close(jobs)
				<-done
				return nil
			}
		}
	}
}

// Len reports undelivered tasks, including those not yet due.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks) + m.delayed
}

// Stats splits Len into due and held tasks.
func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Ready: int64(len(m.tasks)), Delayed: int64(m.delayed)}, nil
}
