// Package notify signals that an article's pipeline state changed so status
// streams can re-read it instead of polling blindly.
package notify

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/nitesh/factoura_service/internal/logging"
)

// Notifier delivers "article changed" signals. Signals are coalesced: a
// subscriber that has not consumed the previous one will not queue another.
type Notifier interface {
	Publish(ctx context.Context, articleID int64) error
	Subscribe(ctx context.Context, articleID int64) (<-chan struct{}, func(), error)
}

func ping(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Redis fans out over pub/sub so every API replica sees worker updates.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "factoura:article:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) channel(articleID int64) string {
	return r.prefix + strconv.FormatInt(articleID, 10)
}

func (r *Redis) Publish(ctx context.Context, articleID int64) error {
	return r.rdb.Publish(ctx, r.channel(articleID), "changed").Err()
}

func (r *Redis) Subscribe(ctx context.Context, articleID int64) (<-chan struct{}, func(), error) {
	sub := r.rdb.Subscribe(ctx, r.channel(articleID))
	// Wait for the subscription so no publish after return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	msgs := sub.Channel()
	go func() {
		for range msgs {
			ping(out)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				log := logging.With("notify")
				log.Debug().Err(err).Int64("article_id", articleID).Msg("close subscription")
			}
		})
	}
	return out, cancel, nil
}

// Local delivers signals within one process.
type Local struct {
	mu   sync.Mutex
	subs map[int64]map[chan struct{}]struct{}
}

func NewLocal() *Local {
	return &Local{subs: map[int64]map[chan struct{}]struct{}{}}
}

func (l *Local) Publish(ctx context.Context, articleID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs[articleID] {
		ping(ch)
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, articleID int64) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	if l.subs[articleID] == nil {
		l.subs[articleID] = map[chan struct{}]struct{}{}
	}
	l.subs[articleID][ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs[articleID], ch)
			if len(l.subs[articleID]) == 0 {
				delete(l.subs, articleID)
			}
		})
	}
	return ch, cancel, nil
}
