package service

import (
	"context"
	"errors"
	"time"

	"github.com/nitesh/factoura_service/internal/analysis"
	"github.com/nitesh/factoura_service/internal/apperr"
	"github.com/nitesh/factoura_service/internal/auth"
	"github.com/nitesh/factoura_service/internal/clock"
	"github.com/nitesh/factoura_service/internal/ledger"
	"github.com/nitesh/factoura_service/internal/notify"
	"github.com/nitesh/factoura_service/internal/queue"
	"github.com/nitesh/factoura_service/internal/store"
)

// AnalysisClient is satisfied by *analysis.Client.
type AnalysisClient interface {
	AnalyzeSentiment(ctx context.Context, text, title string) (*analysis.Sentiment, error)
	GenerateTags(ctx context.Context, text, title string, existing []string, maxTags int) (*analysis.Tags, error)
	CheckHealth(ctx context.Context) analysis.Health
}

// TaskQueue is the producing half of a queue.Queue.
type TaskQueue interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

type Config struct {
	BcryptCost             int
	RequireWalletSignature bool
	VerificationDelay      time.Duration
	MaxTags                int
}

type Service struct {
	repo     store.Store
	tasks    TaskQueue
	ledger   ledger.Verifier
	analysis AnalysisClient
	tokens   *auth.TokenManager
	notifier notify.Notifier
	clock    clock.Clock
	cfg      Config

	// assistant is optional; nil disables the /api/ai endpoints.
	assistant AssistantClient
}

func NewService(repo store.Store, tasks TaskQueue, l ledger.Verifier, ac AnalysisClient, tokens *auth.TokenManager, n notify.Notifier, c clock.Clock, cfg Config) *Service {
	if c == nil {
		c = clock.Real{}
	}
	if n == nil {
		n = notify.NewLocal()
	}
	return &Service{repo: repo, tasks: tasks, ledger: l, analysis: ac, tokens: tokens, notifier: n, clock: c, cfg: cfg}
}

// Ledger exposes the active verifier, mostly for health reporting.
func (s *Service) Ledger() ledger.Verifier { return s.ledger }

// storeErr translates persistence errors into client-facing kinds.
func storeErr(err error, resource string, id any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(resource, id)
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Conflict(resource + " already exists")
	default:
		return apperr.Internal("database error", err)
	}
}
