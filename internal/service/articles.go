package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nitesh/factoura_service/internal/apperr"
	"github.com/nitesh/factoura_service/internal/auth"
	"github.com/nitesh/factoura_service/internal/ledger"
	"github.com/nitesh/factoura_service/internal/logging"
	"github.com/nitesh/factoura_service/internal/queue"
	"github.com/nitesh/factoura_service/pkg/models"
)

type SubmitInput struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	Signature     string `json:"signature"`
	WalletAddress string `json:"walletAddress"`
}

type UpdateInput struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// ArticleView is an article enriched with what the ledger reports right now.
// BlockchainVerification is nil when the ledger could not be asked.
type ArticleView struct {
	*models.Article
	BlockchainVerification *ledger.Status `json:"blockchainVerification"`
	ExplorerURL            string         `json:"explorerUrl,omitempty"`
}

// Submit stores a new article and schedules both pipeline tracks. The
// returned article is still pending on both.
func (s *Service) Submit(ctx context.Context, authorID int64, in SubmitInput) (*models.Article, error) {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if title == "" || content == "" {
		return nil, apperr.Validation("Title and content are required.")
	}

	wallet := strings.TrimSpace(in.WalletAddress)
	if err := s.checkSignature(wallet, strings.TrimSpace(in.Signature), content); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	a := &models.Article{
		Title:                   title,
		Content:                 content,
		AuthorID:                authorID,
		AuthorWallet:            wallet,
		VerificationStatus:      models.VerificationPending,
		VerificationRequestedAt: &now,
		AnalysisStatus:          models.AnalysisPending,
		AnalysisRequestedAt:     &now,
	}
	if err := s.repo.CreateArticle(ctx, a); err != nil {
		return nil, storeErr(err, "User", authorID)
	}

	s.schedule(ctx, a.ID, now, queue.KindAnalyze, queue.KindVerify)
	return a, nil
}

// checkSignature enforces the wallet signature over the content hash. A
// supplied pair is always checked; a missing pair only fails when required.
func (s *Service) checkSignature(wallet, signature, content string) error {
	if wallet == "" && signature == "" {
		if s.cfg.RequireWalletSignature {
			return apperr.Forbidden("A wallet signature of the article content is required")
		}
		return nil
	}
	if wallet == "" || signature == "" {
		return apperr.Forbidden("Both walletAddress and signature are required to sign an article")
	}
	if err := auth.VerifyWalletSignature(wallet, ledger.ContentHash(content), signature); err != nil {
		return &apperr.Error{Kind: apperr.KindForbidden, Message: "Invalid wallet signature", Err: err}
	}
	return nil
}

// schedule enqueues pipeline tasks. Failures are logged only: the rows are
// already pending and the reconciler will pick them up.
func (s *Service) schedule(ctx context.Context, articleID int64, now time.Time, kinds ...queue.Kind) {
	for _, k := range kinds {
		var delay time.Duration
		if k == queue.KindVerify {
			delay = s.cfg.VerificationDelay
		}
		t := queue.NewTask(k, articleID, now, delay)
		if err := s.tasks.Enqueue(ctx, t); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("article_id", articleID).Str("kind", string(k)).Msg("enqueue pipeline task")
		}
	}
}

func (s *Service) Get(ctx context.Context, id int64) (*ArticleView, error) {
	a, err := s.repo.GetArticle(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Article", id)
	}

	view := &ArticleView{Article: a}
	if a.TransactionHash != nil {
		view.ExplorerURL = s.ledger.ExplorerURL(*a.TransactionHash)
	}
	st, err := s.ledger.Status(ctx, a.ID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("article_id", a.ID).Msg("ledger status unavailable")
	} else {
		view.BlockchainVerification = &st
	}
	return view, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*models.Article, error) {
	articles, err := s.repo.ListArticles(ctx, limit)
	if err != nil {
		return nil, storeErr(err, "Article", "")
	}
	return articles, nil
}

// Update edits title or content. Only the author may edit. A content change
// resets both tracks and schedules them again.
func (s *Service) Update(ctx context.Context, claims *auth.Claims, id int64, in UpdateInput) (*models.Article, error) {
	a, err := s.repo.GetArticle(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Article", id)
	}
	if a.AuthorID != claims.UserID {
		return nil, apperr.Forbidden("Only the author can edit this article")
	}

	var upd models.ArticleUpdate
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, apperr.Validation("Title cannot be empty")
		}
		upd.Title = &t
	}
	if in.Content != nil {
		c := strings.TrimSpace(*in.Content)
		if c == "" {
			return nil, apperr.Validation("Content cannot be empty")
		}
		if c != a.Content {
			upd.Content = &c
		}
	}
	if upd.Title == nil && upd.Content == nil {
		return a, nil
	}

	now := s.clock.Now()
	if err := s.repo.UpdateArticleContent(ctx, id, upd, now); err != nil {
		return nil, storeErr(err, "Article", id)
	}
	if upd.Content != nil {
		s.schedule(ctx, id, now, queue.KindAnalyze, queue.KindVerify)
	}

	a, err = s.repo.GetArticle(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Article", id)
	}
	return a, nil
}

// Delete removes an article with its tag links and logs. Authors and admins
// may delete.
func (s *Service) Delete(ctx context.Context, claims *auth.Claims, id int64) error {
	a, err := s.repo.GetArticle(ctx, id)
	if err != nil {
		return storeErr(err, "Article", id)
	}
	if a.AuthorID != claims.UserID && claims.Role != models.RoleAdmin {
		return apperr.Forbidden("Only the author can delete this article")
	}
	return storeErr(s.repo.DeleteArticle(ctx, id), "Article", id)
}

// TriggerVerification puts the article back to pending and schedules a
// delayed verify task. Earlier receipts stay until the new one lands.
func (s *Service) TriggerVerification(ctx context.Context, id int64) (*models.Article, error) {
	now := s.clock.Now()
	if err := s.repo.MarkVerificationPending(ctx, id, now); err != nil {
		return nil, storeErr(err, "Article", id)
	}
	s.schedule(ctx, id, now, queue.KindVerify)

	a, err := s.repo.GetArticle(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Article", id)
	}
	return a, nil
}

func (s *Service) Logs(ctx context.Context, id int64) ([]models.AnalysisLog, error) {
	if _, err := s.repo.GetArticle(ctx, id); err != nil {
		return nil, storeErr(err, "Article", id)
	}
	logs, err := s.repo.ListAnalysisLogs(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Article", id)
	}
	return logs, nil
}

// Ping reports whether the database answers.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return errors.Join(errors.New("database unreachable"), err)
	}
	return nil
}
