package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nitesh/factoura_service/internal/logging"
)

type RedisConfig struct {
	Stream   string
	Group    string
	Consumer string
	Workers  int
	// Block bounds each XREADGROUP wait; shutdown latency is at most this.
	Block time.Duration
	Count int64
	// Delayed is the sorted set holding tasks whose NotBefore is ahead,
	// scored by due time in unix milliseconds.
	Delayed         string
	PromoteInterval time.Duration
	// Entries another consumer has held unacknowledged for ClaimMinIdle are
	// taken over at startup and every ClaimInterval.
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration
}

// RedisQueue stores tasks in a Redis Stream read through a consumer group.
// Entries are acknowledged after the handler returns, so a crash between
// delivery and completion leaves them in the pending list for the next start.
// Tasks that are not yet due wait in a sorted set and are moved onto the
// stream once their time comes.
type RedisQueue struct {
	rdb *redis.Client
	cfg RedisConfig
	log zerolog.Logger
}

func NewRedisQueue(rdb *redis.Client, cfg RedisConfig) *RedisQueue {
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 16
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.Delayed == "" {
		cfg.Delayed = cfg.Stream + ":delayed"
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = 250 * time.Millisecond
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 15 * time.Minute
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = time.Minute
	}
	return &RedisQueue{rdb: rdb, cfg: cfg, log: logging.With("queue")}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if !t.NotBefore.After(time.Now()) {
		return q.add(ctx, t)
	}
	member, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, q.cfg.Delayed, redis.Z{Score: dueScore(t), Member: string(member)}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", q.cfg.Delayed, err)
	}
	return nil
}

func (q *RedisQueue) add(ctx context.Context, t Task) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{
			"id":          t.ID,
			"kind":        string(t.Kind),
			"article_id":  strconv.FormatInt(t.ArticleID, 10),
			"not_before":  t.NotBefore.UTC().Format(time.RFC3339Nano),
			"enqueued_at": t.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", q.cfg.Stream, err)
	}
	return nil
}

func dueScore(t Task) float64 { return float64(t.NotBefore.UnixMilli()) }

// promote moves due tasks from the delay set onto the stream. Whoever removes
// a member from the set owns it, so concurrent consumers never both add it.
func (q *RedisQueue) promote(ctx context.Context) (int, error) {
	due, err := q.rdb.ZRangeByScore(ctx, q.cfg.Delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: q.cfg.Count,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore %s: %w", q.cfg.Delayed, err)
	}
	promoted := 0
	for _, member := range due {
		removed, err := q.rdb.ZRem(ctx, q.cfg.Delayed, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("zrem %s: %w", q.cfg.Delayed, err)
		}
		if removed == 0 {
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(member), &t); err != nil {
			q.log.Error().Err(err).Str("member", member).Msg("dropping malformed delayed task")
			continue
		}
		if err := q.add(ctx, t); err != nil {
			// Put it back for the next pass.
			if zerr := q.rdb.ZAdd(ctx, q.cfg.Delayed, redis.Z{Score: dueScore(t), Member: member}).Err(); zerr != nil {
				q.log.Error().Err(zerr).Str("task_id", t.ID).Msg("restore delayed task")
			}
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", q.cfg.Group, err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	q.log.Info().
		Str("stream", q.cfg.Stream).
		Str("group", q.cfg.Group).
		Str("consumer", q.cfg.Consumer).
		Int("workers", q.cfg.Workers).
		Msg("consuming pipeline tasks")

	ctx, cancel := context.WithCancel(ctx)
	jobs := make(chan func())
	done := make(chan struct{})
	go func() {
		runPool(q.cfg.Workers, jobs)
		close(done)
	}()
	var bg sync.WaitGroup
	defer func() {
		cancel()
		bg.Wait()
		close(jobs)
		<-done
	}()

	dispatch := func(msgs []redis.XMessage) bool {
		for _, msg := range msgs {
			msg := msg
			select {
			case jobs <- func() { q.handle(ctx, h, msg) }:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	// Entries delivered to this consumer earlier but never acknowledged.
	start := "0"
	for ctx.Err() == nil {
		msgs, err := q.read(ctx, start, -1)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			break
		}
		q.log.Info().Int("count", len(msgs)).Msg("replaying unacknowledged tasks")
		if !dispatch(msgs) {
			return nil
		}
		start = msgs[len(msgs)-1].ID
	}
	if err := q.claimIdle(ctx, dispatch); err != nil && ctx.Err() == nil {
		q.log.Error().Err(err).Msg("claim idle tasks")
	}

	bg.Add(1)
	go func() {
		defer bg.Done()
		q.maintain(ctx, dispatch)
	}()

	for ctx.Err() == nil {
		msgs, err := q.read(ctx, ">", q.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.log.Error().Err(err).Msg("read tasks")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if !dispatch(msgs) {
			return nil
		}
	}
	return nil
}

// maintain promotes due delayed tasks and takes over abandoned entries until
// ctx is done.
func (q *RedisQueue) maintain(ctx context.Context, dispatch func([]redis.XMessage) bool) {
	promote := time.NewTicker(q.cfg.PromoteInterval)
	defer promote.Stop()
	claim := time.NewTicker(q.cfg.ClaimInterval)
	defer claim.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			n, err := q.promote(ctx)
			if err != nil && ctx.Err() == nil {
				q.log.Error().Err(err).Msg("promote delayed tasks")
			}
			if n > 0 {
				q.log.Debug().Int("count", n).Msg("promoted delayed tasks")
			}
		case <-claim.C:
			if err := q.claimIdle(ctx, dispatch); err != nil && ctx.Err() == nil {
				q.log.Error().Err(err).Msg("claim idle tasks")
			}
		}
	}
}

// claimIdle takes over entries other consumers received but left
// unacknowledged for at least ClaimMinIdle, usually because they died.
func (q *RedisQueue) claimIdle(ctx context.Context, dispatch func([]redis.XMessage) bool) error {
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			MinIdle:  q.cfg.ClaimMinIdle,
			Start:    start,
			Count:    q.cfg.Count,
		}).Result()
		if err != nil {
			return fmt.Errorf("xautoclaim %s: %w", q.cfg.Stream, err)
		}
		if len(msgs) > 0 {
			q.log.Info().Int("count", len(msgs)).Msg("claimed idle tasks")
			if !dispatch(msgs) {
				return nil
			}
		}
		if next == "" || next == "0-0" {
			return nil
		}
		start = next
	}
	return nil
}

// read returns entries after id. block < 0 means do not block.
func (q *RedisQueue) read(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, id},
		Count:    q.cfg.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (q *RedisQueue) handle(ctx context.Context, h Handler, msg redis.XMessage) {
	t, err := parseTask(msg)
	if err != nil {
		// Unparseable entries would be replayed forever.
		q.log.Error().Err(err).Str("message_id", msg.ID).Msg("dropping malformed task")
		q.ack(msg.ID)
		return
	}

	err = h(ctx, t)
	if ctx.Err() != nil {
		q.log.Warn().Str("task_id", t.ID).Str("message_id", msg.ID).Msg("shutdown before task finished, leaving it pending")
		return
	}
	if err != nil {
		q.log.Error().Err(err).Str("task_id", t.ID).Str("kind", string(t.Kind)).Int64("article_id", t.ArticleID).Msg("task failed")
	}
	q.ack(msg.ID)
}

func (q *RedisQueue) ack(id string) {
	// The consumer context may be gone during shutdown; the ack must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, id).Err(); err != nil {
		q.log.Error().Err(err).Str("message_id", id).Msg("ack task")
	}
}

// Stats reports delivered but unacknowledged entries and tasks still
// waiting in the delay set.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	p, err := q.rdb.XPending(ctx, q.cfg.Stream, q.cfg.Group).Result()
	switch {
	case err == nil:
		st.Pending = p.Count
	case strings.HasPrefix(err.Error(), "NOGROUP"):
		// No consumer has started yet.
	default:
		return Stats{}, fmt.Errorf("xpending %s: %w", q.cfg.Stream, err)
	}
	if st.Delayed, err = q.rdb.ZCard(ctx, q.cfg.Delayed).Result(); err != nil {
		return Stats{}, fmt.Errorf("zcard %s: %w", q.cfg.Delayed, err)
	}
	return st, nil
}

func parseTask(msg redis.XMessage) (Task, error) {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}
	t := Task{ID: str("id"), Kind: Kind(str("kind"))}
	if t.Kind != KindAnalyze && t.Kind != KindVerify {
		return Task{}, fmt.Errorf("unknown task kind %q", t.Kind)
	}
	id, err := strconv.ParseInt(str("article_id"), 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("article_id: %w", err)
	}
	t.ArticleID = id
	if v := str("not_before"); v != "" {
		if t.NotBefore, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return Task{}, fmt.Errorf("not_before: %w", err)
		}
	}
	if v := str("enqueued_at"); v != "" {
		if t.EnqueuedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return Task{}, fmt.Errorf("enqueued_at: %w", err)
		}
	}
	return t, nil
}
