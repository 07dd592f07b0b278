package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nitesh/factoura_service/pkg/models"
)

// MemoryStore keeps everything in process. It backs tests and the
// "memory" database driver; data is gone on restart.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	users       map[int64]*models.User
	articles    map[int64]*models.Article
	tags        map[int64]*models.Tag
	tagsByName  map[string]int64
	articleTags map[int64]map[int64]bool
	logs        []models.AnalysisLog

	nextUser, nextArticle, nextTag, nextLog int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		users:       map[int64]*models.User{},
		articles:    map[int64]*models.Article{},
		tags:        map[int64]*models.Tag{},
		tagsByName:  map[string]int64{},
		articleTags: map[int64]map[int64]bool{},
	}
}

// WithNow replaces the timestamp source used for created_at style columns.
func (m *MemoryStore) WithNow(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	m.nextUser++
	u.ID = m.nextUser
	u.CreatedAt = m.now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateArticle(ctx context.Context, a *models.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[a.AuthorID]; !ok {
		return ErrNotFound
	}
	if a.VerificationStatus == "" {
		a.VerificationStatus = models.VerificationPending
	}
	if a.AnalysisStatus == "" {
		a.AnalysisStatus = models.AnalysisPending
	}
	m.nextArticle++
	a.ID = m.nextArticle
	a.CreatedAt = m.now()
	a.UpdatedAt = a.CreatedAt
	if a.Tags == nil {
		a.Tags = []models.Tag{}
	}
	cp := *a
	cp.Author, cp.Tags = nil, nil
	m.articles[a.ID] = &cp
	return nil
}

// view copies a stored article and fills the joined fields. Callers hold mu.
func (m *MemoryStore) view(a *models.Article) *models.Article {
	cp := *a
	if u, ok := m.users[a.AuthorID]; ok {
		cp.Author = &models.Author{ID: u.ID, Username: u.Username, Email: u.Email}
	}
	cp.Tags = []models.Tag{}
	for tagID := range m.articleTags[a.ID] {
		cp.Tags = append(cp.Tags, *m.tags[tagID])
	}
	sort.Slice(cp.Tags, func(i, j int) bool { return cp.Tags[i].Name < cp.Tags[j].Name })
	return &cp
}

func (m *MemoryStore) GetArticle(ctx context.Context, id int64) (*models.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.view(a), nil
}

func (m *MemoryStore) ListArticles(ctx context.Context, limit int) ([]*models.Article, error) {
	limit = clampLimit(limit, 50, 200)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Article, 0, len(m.articles))
	for _, a := range m.articles {
		out = append(out, m.view(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) update(id int64, fn func(a *models.Article)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	return nil
}

func (m *MemoryStore) UpdateArticleContent(ctx context.Context, id int64, upd models.ArticleUpdate, at time.Time) error {
	return m.update(id, func(a *models.Article) {
		if upd.Title != nil {
			a.Title = *upd.Title
		}
		if upd.Content != nil {
			a.Content = *upd.Content
			a.VerificationStatus = models.VerificationPending
			a.VerificationRequestedAt = &at
			a.AnalysisStatus = models.AnalysisPending
			a.SentimentOutcome = models.OutcomeNone
			a.TagsOutcome = models.OutcomeNone
			a.AnalysisAttemptedAt = nil
			a.AnalysisRequestedAt = &at
		}
		a.UpdatedAt = at
	})
}

func (m *MemoryStore) DeleteArticle(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[id]; !ok {
		return ErrNotFound
	}
	delete(m.articles, id)
	delete(m.articleTags, id)
	kept := m.logs[:0]
	for _, l := range m.logs {
		if l.ArticleID != id {
			kept = append(kept, l)
		}
	}
	m.logs = kept
	return nil
}

func (m *MemoryStore) MarkVerificationPending(ctx context.Context, id int64, at time.Time) error {
	return m.update(id, func(a *models.Article) {
		a.VerificationStatus = models.VerificationPending
		a.VerificationRequestedAt = &at
	})
}

func (m *MemoryStore) MarkAnalysisRequested(ctx context.Context, id int64, at time.Time) error {
	return m.update(id, func(a *models.Article) {
		a.AnalysisRequestedAt = &at
	})
}

func (m *MemoryStore) SaveVerification(ctx context.Context, id int64, v models.VerificationResult) error {
	return m.update(id, func(a *models.Article) {
		tx, block, hash, at := v.TransactionHash, v.BlockNumber, v.ContentHash, v.VerifiedAt
		a.VerificationStatus = models.VerificationVerified
		a.TransactionHash = &tx
		a.BlockNumber = &block
		a.ContentHash = &hash
		a.VerifiedAt = &at
	})
}

func (m *MemoryStore) MarkVerificationFailed(ctx context.Context, id int64) error {
	return m.update(id, func(a *models.Article) {
		a.VerificationStatus = models.VerificationFailed
	})
}

func (m *MemoryStore) SaveAnalysis(ctx context.Context, id int64, r models.AnalysisResult) error {
	return m.update(id, func(a *models.Article) {
		at := r.AttemptedAt
		a.SentimentOutcome = r.SentimentOutcome
		a.TagsOutcome = r.TagsOutcome
		a.AnalysisAttemptedAt = &at
		if r.Sentiment != nil {
			score, tone, obj := r.Sentiment.Score, r.Sentiment.Tone, r.Sentiment.Objectivity
			a.SentimentScore = &score
			a.EmotionalTone = &tone
			a.ObjectivityScore = &obj
		}
		if r.Completed() {
			a.AnalysisStatus = models.AnalysisCompleted
			a.AnalysisUpdatedAt = &at
		}
	})
}

func (m *MemoryStore) UpsertTags(ctx context.Context, in []models.TagInput) ([]models.Tag, error) {
	tags := normalizeTags(in)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Tag, 0, len(tags))
	now := m.now()
	for _, t := range tags {
		if id, ok := m.tagsByName[t.Name]; ok {
			existing := m.tags[id]
			if existing.Type == nil && t.Type != "" {
				typ := t.Type
				existing.Type = &typ
			}
			if existing.Relevance == nil {
				rel := t.Relevance
				existing.Relevance = &rel
			}
			existing.UpdatedAt = now
			out = append(out, *existing)
			continue
		}
		m.nextTag++
		tag := &models.Tag{ID: m.nextTag, Name: t.Name, CreatedAt: now, UpdatedAt: now}
		if t.Type != "" {
			typ := t.Type
			tag.Type = &typ
		}
		rel := t.Relevance
		tag.Relevance = &rel
		m.tags[tag.ID] = tag
		m.tagsByName[tag.Name] = tag.ID
		out = append(out, *tag)
	}
	return out, nil
}

func (m *MemoryStore) AttachTags(ctx context.Context, articleID int64, tagIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[articleID]; !ok {
		return ErrNotFound
	}
	links := m.articleTags[articleID]
	if links == nil {
		links = map[int64]bool{}
		m.articleTags[articleID] = links
	}
	for _, id := range tagIDs {
		if _, ok := m.tags[id]; !ok {
			return ErrNotFound
		}
		links[id] = true
	}
	return nil
}

func (m *MemoryStore) AppendAnalysisLog(ctx context.Context, l *models.AnalysisLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[l.ArticleID]; !ok {
		return ErrNotFound
	}
	m.nextLog++
	l.ID = m.nextLog
	l.CreatedAt = m.now()
	m.logs = append(m.logs, *l)
	return nil
}

func (m *MemoryStore) ListAnalysisLogs(ctx context.Context, articleID int64) ([]models.AnalysisLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.AnalysisLog{}
	for _, l := range m.logs {
		if l.ArticleID == articleID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]models.StuckArticle, error) {
	limit = clampLimit(limit, 100, 1000)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.StuckArticle{}
	for _, a := range m.articles {
		s := models.StuckArticle{
			ID:                a.ID,
			NeedsVerification: a.VerificationStatus == models.VerificationPending && requestedBefore(a.VerificationRequestedAt, a.CreatedAt, cutoff),
			NeedsAnalysis:     a.AnalysisStatus == models.AnalysisPending && !a.AnalysisAttempted() && requestedBefore(a.AnalysisRequestedAt, a.CreatedAt, cutoff),
		}
		if s.NeedsVerification || s.NeedsAnalysis {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func requestedBefore(requested *time.Time, created, cutoff time.Time) bool {
	at := created
	if requested != nil {
		at = *requested
	}
	return at.Before(cutoff)
}
