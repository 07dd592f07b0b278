package service

import (
	"context"
	"time"

	"github.com/nitesh/factoura_service/internal/logging"
	"github.com/nitesh/factoura_service/pkg/models"
)

const (
	StateInProgress = "in_progress"
	StateSettled    = "settled"
	// StateUnknown is reported when a watcher gives up before the article
	// settled. It makes no claim about the outcome.
	StateUnknown = "unknown"
)

// StatusView is the pipeline read model of one article.
type StatusView struct {
	ArticleID           int64                     `json:"articleId"`
	State               string                    `json:"state"`
	VerificationStatus  models.VerificationStatus `json:"verificationStatus"`
	TransactionHash     *string                   `json:"transactionHash"`
	BlockNumber         *int64                    `json:"blockNumber"`
	VerifiedAt          *time.Time                `json:"verifiedAt"`
	AnalysisStatus      models.AnalysisStatus     `json:"analysisStatus"`
	SentimentOutcome    models.Outcome            `json:"sentimentOutcome"`
	TagsOutcome         models.Outcome            `json:"tagsOutcome"`
	AnalysisAttemptedAt *time.Time                `json:"analysisAttemptedAt"`
	AnalysisUpdatedAt   *time.Time                `json:"analysisUpdatedAt"`
}

// statusOf derives the read model. An article is settled once verification
// reached a terminal state and analysis either completed or was attempted.
func statusOf(a *models.Article) StatusView {
	v := StatusView{
		ArticleID:           a.ID,
		State:               StateInProgress,
		VerificationStatus:  a.VerificationStatus,
		TransactionHash:     a.TransactionHash,
		BlockNumber:         a.BlockNumber,
		VerifiedAt:          a.VerifiedAt,
		AnalysisStatus:      a.AnalysisStatus,
		SentimentOutcome:    a.SentimentOutcome,
		TagsOutcome:         a.TagsOutcome,
		AnalysisAttemptedAt: a.AnalysisAttemptedAt,
		AnalysisUpdatedAt:   a.AnalysisUpdatedAt,
	}
	analysisDone := a.AnalysisStatus == models.AnalysisCompleted || a.AnalysisAttempted()
	if a.VerificationStatus.Settled() && analysisDone {
		v.State = StateSettled
	}
	return v
}

func (s *Service) Status(ctx context.Context, id int64) (StatusView, error) {
	a, err := s.repo.GetArticle(ctx, id)
	if err != nil {
		return StatusView{}, storeErr(err, "Article", id)
	}
	return statusOf(a), nil
}

func same(a, b StatusView) bool {
	eqTime := func(x, y *time.Time) bool {
		if x == nil || y == nil {
			return x == y
		}
		return x.Equal(*y)
	}
	eqStr := func(x, y *string) bool {
		if x == nil || y == nil {
			return x == y
		}
		return *x == *y
	}
	return a.State == b.State &&
		a.VerificationStatus == b.VerificationStatus &&
		a.AnalysisStatus == b.AnalysisStatus &&
		a.SentimentOutcome == b.SentimentOutcome &&
		a.TagsOutcome == b.TagsOutcome &&
		eqStr(a.TransactionHash, b.TransactionHash) &&
		eqTime(a.AnalysisAttemptedAt, b.AnalysisAttemptedAt)
}

// WatchStatus emits the current status and then every change, re-reading on
// change notifications and every poll interval. The channel is closed once
// the article settles, disappears, or ctx is done.
func (s *Service) WatchStatus(ctx context.Context, id int64, poll time.Duration) (<-chan StatusView, error) {
	first, err := s.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if poll <= 0 {
		poll = 3 * time.Second
	}

	log := logging.Ctx(ctx)
	changes, unsubscribe, err := s.notifier.Subscribe(ctx, id)
	if err != nil {
		log.Warn().Err(err).Int64("article_id", id).Msg("subscribe to changes, falling back to polling")
		changes, unsubscribe = nil, func() {}
	}

	out := make(chan StatusView, 1)
	go func() {
		defer close(out)
		defer unsubscribe()

		last := first
		out <- last
		if last.State == StateSettled {
			return
		}

		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
			case <-ticker.C:
			}
			cur, err := s.Status(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Int64("article_id", id).Msg("watch status")
				}
				return
			}
			if same(cur, last) {
				continue
			}
			last = cur
			select {
			case out <- cur:
			case <-ctx.Done():
				return
			}
			if cur.State == StateSettled {
				return
			}
		}
	}()
	return out, nil
}
