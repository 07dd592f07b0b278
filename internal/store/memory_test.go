package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitesh/factoura_service/pkg/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*MemoryStore, *models.User) {
	t.Helper()
	m := NewMemoryStore().WithNow(func() time.Time { return t0 })
	u := &models.User{Username: "reporter", Email: "r@example.com", PasswordHash: "x"}
	require.NoError(t, m.CreateUser(context.Background(), u))
	return m, u
}

func newArticle(t *testing.T, m *MemoryStore, authorID int64, content string) *models.Article {
	t.Helper()
	a := &models.Article{Title: "Title", Content: content, AuthorID: authorID}
	require.NoError(t, m.CreateArticle(context.Background(), a))
	return a
}

func TestMemoryCreateUserDuplicateEmail(t *testing.T) {
	m, _ := seed(t)
	err := m.CreateUser(context.Background(), &models.User{Username: "other", Email: "R@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryCreateArticleDefaults(t *testing.T) {
	ctx := context.Background()
	m, u := seed(t)
	a := newArticle(t, m, u.ID, "body")

	got, err := m.GetArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationPending, got.VerificationStatus)
	assert.Equal(t, models.AnalysisPending, got.AnalysisStatus)
	assert.Equal(t, "reporter", got.Author.Username)
	assert.Empty(t, got.Tags)
	assert.NotNil(t, got.Tags)

	_, err = m.GetArticle(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	err = m.CreateArticle(ctx, &models.Article{Title: "t", Content: "c", AuthorID: 42})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpsertTagsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := seed(t)

	first, err := m.UpsertTags(ctx, []models.TagInput{
		{Name: "Polygon", Type: "entity", Relevance: 1},
		{Name: " Polygon "},
		{Name: ""},
		{Name: "Finance", Type: "keyword", Relevance: 0.5},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := m.UpsertTags(ctx, []models.TagInput{{Name: "Polygon", Type: "keyword"}})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "entity", *second[0].Type)
}

func TestMemoryDeleteCascadesButKeepsSharedTags(t *testing.T) {
	ctx := context.Background()
	m, u := seed(t)
	a := newArticle(t, m, u.ID, "one")
	b := newArticle(t, m, u.ID, "two")

	tags, err := m.UpsertTags(ctx, []models.TagInput{{Name: "Shared"}})
	require.NoError(t, err)
	require.NoError(t, m.AttachTags(ctx, a.ID, []int64{tags[0].ID}))
	require.NoError(t, m.AttachTags(ctx, a.ID, []int64{tags[0].ID}))
	require.NoError(t, m.AttachTags(ctx, b.ID, []int64{tags[0].ID}))
	require.NoError(t, m.AppendAnalysisLog(ctx, &models.AnalysisLog{ArticleID: a.ID, Service: models.ServiceTags, Status: models.LogSuccess}))

	got, err := m.GetArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, got.Tags, 1)

	require.NoError(t, m.DeleteArticle(ctx, a.ID))
	assert.ErrorIs(t, m.DeleteArticle(ctx, a.ID), ErrNotFound)

	logs, err := m.ListAnalysisLogs(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	other, err := m.GetArticle(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, other.Tags, 1)
	assert.Equal(t, "Shared", other.Tags[0].Name)
}

func TestMemoryContentUpdateResetsTracks(t *testing.T) {
	ctx := context.Background()
	m, u := seed(t)
	a := newArticle(t, m, u.ID, "original")

	require.NoError(t, m.SaveVerification(ctx, a.ID, models.VerificationResult{TransactionHash: "0xabc", BlockNumber: 9000001, ContentHash: "0x01", VerifiedAt: t0}))
	require.NoError(t, m.SaveAnalysis(ctx, a.ID, models.AnalysisResult{
		Sentiment:        &models.SentimentResult{Score: 0.5, Tone: "Positive", Objectivity: 70},
		SentimentOutcome: models.OutcomeSucceeded,
		TagsOutcome:      models.OutcomeFailed,
		AttemptedAt:      t0,
	}))

	title := "New title"
	require.NoError(t, m.UpdateArticleContent(ctx, a.ID, models.ArticleUpdate{Title: &title}, t0.Add(time.Minute)))
	got, _ := m.GetArticle(ctx, a.ID)
	assert.Equal(t, models.VerificationVerified, got.VerificationStatus)
	assert.Equal(t, models.AnalysisCompleted, got.AnalysisStatus)

	content := "rewritten"
	later := t0.Add(2 * time.Minute)
	require.NoError(t, m.UpdateArticleContent(ctx, a.ID, models.ArticleUpdate{Content: &content}, later))
	got, _ = m.GetArticle(ctx, a.ID)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, models.VerificationPending, got.VerificationStatus)
	assert.Equal(t, models.AnalysisPending, got.AnalysisStatus)
	assert.False(t, got.AnalysisAttempted())
	assert.Equal(t, later, *got.AnalysisRequestedAt)
	// Previous results stay until the new run overwrites them.
	assert.Equal(t, "0xabc", *got.TransactionHash)
}

func TestMemorySaveAnalysisBothFailedStaysPending(t *testing.T) {
	ctx := context.Background()
	m, u := seed(t)
	a := newArticle(t, m, u.ID, "body")

	require.NoError(t, m.SaveAnalysis(ctx, a.ID, models.AnalysisResult{
		SentimentOutcome: models.OutcomeFailed,
		TagsOutcome:      models.OutcomeFailed,
		AttemptedAt:      t0,
	}))
	got, _ := m.GetArticle(ctx, a.ID)
	assert.Equal(t, models.AnalysisPending, got.AnalysisStatus)
	assert.Nil(t, got.AnalysisUpdatedAt)
	assert.Nil(t, got.SentimentScore)
	assert.True(t, got.AnalysisAttempted())
}

func TestMemoryListStuck(t *testing.T) {
	ctx := context.Background()
	m, u := seed(t)
	old := newArticle(t, m, u.ID, "old")
	done := newArticle(t, m, u.ID, "done")

	require.NoError(t, m.SaveVerification(ctx, done.ID, models.VerificationResult{VerifiedAt: t0}))
	require.NoError(t, m.SaveAnalysis(ctx, done.ID, models.AnalysisResult{SentimentOutcome: models.OutcomeFailed, TagsOutcome: models.OutcomeFailed, AttemptedAt: t0}))

	stuck, err := m.ListStuck(ctx, t0.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, models.StuckArticle{ID: old.ID, NeedsVerification: true, NeedsAnalysis: true}, stuck[0])

	require.NoError(t, m.MarkVerificationPending(ctx, old.ID, t0.Add(2*time.Hour)))
	stuck, err = m.ListStuck(ctx, t0.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.False(t, stuck[0].NeedsVerification)
	assert.True(t, stuck[0].NeedsAnalysis)
}

func TestMemoryListArticlesNewestFirst(t *testing.T) {
	ctx := context.Background()
	m, u := seed(t)
	now := t0
	m.WithNow(func() time.Time { now = now.Add(time.Second); return now })
	first := newArticle(t, m, u.ID, "a")
	second := newArticle(t, m, u.ID, "b")

	list, err := m.ListArticles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	list, err = m.ListArticles(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
