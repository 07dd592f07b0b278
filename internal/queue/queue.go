// Package queue carries pipeline tasks from the API to the workers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAnalyze Kind = "analyze"
	KindVerify  Kind = "verify"
)

// Task is one unit of pipeline work for an article. NotBefore is when the
// task becomes due. Queues hold a task back until then; handlers still wait
// out any remainder.
type Task struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	ArticleID  int64     `json:"articleId"`
	NotBefore  time.Time `json:"notBefore"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func NewTask(kind Kind, articleID int64, now time.Time, delay time.Duration) Task {
	return Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		ArticleID:  articleID,
		NotBefore:  now.Add(delay),
		EnqueuedAt: now,
	}
}

// Handler runs a task. A task is acknowledged once Handler returns, unless
// the consumer context was cancelled, in which case a durable queue will
// deliver it again.
type Handler func(ctx context.Context, t Task) error

type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Consume blocks until ctx is done.
	Consume(ctx context.Context, h Handler) error
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a point-in-time view of queue depth. Ready is only known for the
// in-process queue and Pending only for Redis.
type Stats struct {
	Ready   int64 `json:"ready"`
	Pending int64 `json:"pending"`
	Delayed int64 `json:"delayed"`
}

// runPool feeds tasks from jobs to n workers and waits for them to drain.
func runPool(n int, jobs <-chan func()) {
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				job()
			}
		}()
	}
	wg.Wait()
}
