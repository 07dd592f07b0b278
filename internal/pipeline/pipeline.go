// Package pipeline runs the two post-submission tracks of an article:
// ledger verification and content analysis. It is the only writer of the
// pipeline columns after submit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitesh/factoura_service/internal/analysis"
	"github.com/nitesh/factoura_service/internal/clock"
	"github.com/nitesh/factoura_service/internal/ledger"
	"github.com/nitesh/factoura_service/internal/logging"
	"github.com/nitesh/factoura_service/internal/metrics"
	"github.com/nitesh/factoura_service/internal/notify"
	"github.com/nitesh/factoura_service/internal/queue"
	"github.com/nitesh/factoura_service/internal/store"
	"github.com/nitesh/factoura_service/pkg/models"
)

// Store is the persistence the runners need.
type Store interface {
	GetArticle(ctx context.Context, id int64) (*models.Article, error)
	SaveVerification(ctx context.Context, id int64, v models.VerificationResult) error
	MarkVerificationFailed(ctx context.Context, id int64) error
	SaveAnalysis(ctx context.Context, id int64, r models.AnalysisResult) error
	UpsertTags(ctx context.Context, in []models.TagInput) ([]models.Tag, error)
	AttachTags(ctx context.Context, articleID int64, tagIDs []int64) error
	AppendAnalysisLog(ctx context.Context, l *models.AnalysisLog) error
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]models.StuckArticle, error)
	MarkVerificationPending(ctx context.Context, id int64, at time.Time) error
	MarkAnalysisRequested(ctx context.Context, id int64, at time.Time) error
}

// Analyzer is satisfied by *analysis.Client.
type Analyzer interface {
	AnalyzeSentiment(ctx context.Context, text, title string) (*analysis.Sentiment, error)
	GenerateTags(ctx context.Context, text, title string, existing []string, maxTags int) (*analysis.Tags, error)
}

type Config struct {
	MaxTags int
}

type Runner struct {
	store    Store
	analyzer Analyzer
	ledger   ledger.Verifier
	notifier notify.Notifier
	clock    clock.Clock
	cfg      Config
	log      zerolog.Logger
}

func NewRunner(st Store, an Analyzer, l ledger.Verifier, n notify.Notifier, c clock.Clock, cfg Config) *Runner {
	if c == nil {
		c = clock.Real{}
	}
	if n == nil {
		n = notify.NewLocal()
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = 10
	}
	return &Runner{store: st, analyzer: an, ledger: l, notifier: n, clock: c, cfg: cfg, log: logging.With("pipeline")}
}

// Handle is the queue.Handler for pipeline tasks.
func (r *Runner) Handle(ctx context.Context, t queue.Task) error {
	started := time.Now()
	var (
		result string
		err    error
	)
	switch t.Kind {
	case queue.KindAnalyze:
		result, err = r.analyze(ctx, t)
	case queue.KindVerify:
		result, err = r.verify(ctx, t)
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if err != nil {
		result = "error"
	}
	metrics.ObserveTask(string(t.Kind), result, started)
	return err
}

// storedPrecision is the resolution of a TIMESTAMPTZ column. Postgres rounds
// to it, so a stored time can read back up to half of it later.
const storedPrecision = time.Microsecond

// requestedAfter reports whether a stored request time is later than the
// task's enqueue time by more than storage rounding explains.
func requestedAfter(stored *time.Time, enqueuedAt time.Time) bool {
	return stored != nil && stored.Sub(enqueuedAt) >= storedPrecision
}

// load returns nil without error when the article is gone.
func (r *Runner) load(ctx context.Context, t queue.Task) (*models.Article, error) {
	a, err := r.store.GetArticle(ctx, t.ArticleID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Info().Int64("article_id", t.ArticleID).Str("kind", string(t.Kind)).Msg("article gone, dropping task")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load article %d: %w", t.ArticleID, err)
	}
	return a, nil
}

func (r *Runner) changed(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.notifier.Publish(ctx, id); err != nil {
		r.log.Warn().Err(err).Int64("article_id", id).Msg("publish change")
	}
}
