package pipeline

import (
	"context"
	"time"

	"github.com/nitesh/factoura_service/internal/queue"
)

// Enqueuer is the producing half of a queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Reconciler re-enqueues work for articles whose tracks have been pending
// longer than StuckAfter, covering tasks lost by a non-durable queue or an
// enqueue that failed after the row was written.
type Reconciler struct {
	runner     *Runner
	q          Enqueuer
	StuckAfter time.Duration
	Interval   time.Duration
	Batch      int
}

func NewReconciler(r *Runner, q Enqueuer, stuckAfter, interval time.Duration) *Reconciler {
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	return &Reconciler{runner: r, q: q, StuckAfter: stuckAfter, Interval: interval, Batch: 100}
}

// Sweep runs one pass and returns how many tasks were enqueued. The request
// timestamps are moved to now so older deliveries of the same work are
// skipped and the article is not picked again until StuckAfter elapses.
func (rc *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := rc.runner.clock.Now()
	stuck, err := rc.runner.store.ListStuck(ctx, now.Add(-rc.StuckAfter), rc.Batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range stuck {
		if s.NeedsAnalysis {
			if err := rc.runner.store.MarkAnalysisRequested(ctx, s.ID, now); err != nil {
				return n, err
			}
			if err := rc.q.Enqueue(ctx, queue.NewTask(queue.KindAnalyze, s.ID, now, 0)); err != nil {
				return n, err
			}
			n++
		}
		if s.NeedsVerification {
			if err := rc.runner.store.MarkVerificationPending(ctx, s.ID, now); err != nil {
				return n, err
			}
			if err := rc.q.Enqueue(ctx, queue.NewTask(queue.KindVerify, s.ID, now, 0)); err != nil {
				return n, err
			}
			n++
		}
	}
	if n > 0 {
		rc.runner.log.Info().Int("tasks", n).Int("articles", len(stuck)).Msg("re-enqueued stuck articles")
	}
	return n, nil
}

// Run sweeps at once and then every Interval until ctx is done. A zero
// Interval sweeps only once.
func (rc *Reconciler) Run(ctx context.Context) {
	sweep := func() {
		if _, err := rc.Sweep(ctx); err != nil && ctx.Err() == nil {
			rc.runner.log.Error().Err(err).Msg("reconcile sweep")
		}
	}
	sweep()
	if rc.Interval <= 0 {
		return
	}
	for {
		if err := rc.runner.clock.Sleep(ctx, rc.Interval); err != nil {
			return
		}
		sweep()
	}
}
