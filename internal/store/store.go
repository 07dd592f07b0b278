package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nitesh/factoura_service/pkg/models"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the persistence surface shared by PgStore and MemoryStore.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateArticle(ctx context.Context, a *models.Article) error
	GetArticle(ctx context.Context, id int64) (*models.Article, error)
	ListArticles(ctx context.Context, limit int) ([]*models.Article, error)
	UpdateArticleContent(ctx context.Context, id int64, upd models.ArticleUpdate, at time.Time) error
	DeleteArticle(ctx context.Context, id int64) error

	MarkVerificationPending(ctx context.Context, id int64, at time.Time) error
	SaveVerification(ctx context.Context, id int64, v models.VerificationResult) error
	MarkVerificationFailed(ctx context.Context, id int64) error

	MarkAnalysisRequested(ctx context.Context, id int64, at time.Time) error
	SaveAnalysis(ctx context.Context, id int64, r models.AnalysisResult) error

	UpsertTags(ctx context.Context, in []models.TagInput) ([]models.Tag, error)
	AttachTags(ctx context.Context, articleID int64, tagIDs []int64) error

	AppendAnalysisLog(ctx context.Context, l *models.AnalysisLog) error
	ListAnalysisLogs(ctx context.Context, articleID int64) ([]models.AnalysisLog, error)

	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]models.StuckArticle, error)
}

var (
	_ Store = (*PgStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// normalizeTags trims names, drops empties and keeps the first occurrence of
// each name.
func normalizeTags(in []models.TagInput) []models.TagInput {
	seen := make(map[string]bool, len(in))
	out := make([]models.TagInput, 0, len(in))
	for _, t := range in {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" || seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
