package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nitesh/factoura_service/pkg/models"
)

const uniqueViolation = "23505"

type PgStore struct {
	db *sqlx.DB
}

func NewPgStore(db *sql.DB) *PgStore {
	return &PgStore{db: sqlx.NewDb(db, "postgres")}
}

func (p *PgStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

func (p *PgStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	err := p.db.QueryRowxContext(ctx, `
INSERT INTO users (username, email, password, role, wallet_address)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, created_at, updated_at`,
		u.Username, u.Email, u.PasswordHash, u.Role, u.WalletAddress,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user email=%s: %w", u.Email, mapErr(err))
	}
	return nil
}

const userColumns = `id, username, email, password, role, wallet_address, created_at, updated_at`

func (p *PgStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	if err := p.db.GetContext(ctx, u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (p *PgStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u := &models.User{}
	if err := p.db.GetContext(ctx, u, `SELECT `+userColumns+` FROM users WHERE email = $1`, email); err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

const articleColumns = `a.id, a.title, a.content, a.author_id, a.author_wallet,
 a.verification_status, a.transaction_hash, a.block_number, a.content_hash, a.verified_at, a.verification_requested_at,
 a.analysis_status, a.sentiment_score, a.emotional_tone, a.objectivity_score, a.analysis_updated_at,
 a.sentiment_outcome, a.tags_outcome, a.analysis_attempted_at, a.analysis_requested_at,
 a.created_at, a.updated_at,
 u.username AS author_username, u.email AS author_email`

type articleRow struct {
	models.Article
	AuthorUsername string `db:"author_username"`
	AuthorEmail    string `db:"author_email"`
}

func (r *articleRow) toModel() *models.Article {
	a := r.Article
	a.Author = &models.Author{ID: a.AuthorID, Username: r.AuthorUsername, Email: r.AuthorEmail}
	a.Tags = []models.Tag{}
	return &a
}

func (p *PgStore) CreateArticle(ctx context.Context, a *models.Article) error {
	if a.VerificationStatus == "" {
		a.VerificationStatus = models.VerificationPending
	}
	if a.AnalysisStatus == "" {
		a.AnalysisStatus = models.AnalysisPending
	}
	err := p.db.QueryRowxContext(ctx, `
INSERT INTO articles (title, content, author_id, author_wallet, verification_status, verification_requested_at, analysis_status, analysis_requested_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, created_at, updated_at`,
		a.Title, a.Content, a.AuthorID, a.AuthorWallet,
		a.VerificationStatus, a.VerificationRequestedAt, a.AnalysisStatus, a.AnalysisRequestedAt,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert article author=%d: %w", a.AuthorID, mapErr(err))
	}
	if a.Tags == nil {
		a.Tags = []models.Tag{}
	}
	return nil
}

func (p *PgStore) GetArticle(ctx context.Context, id int64) (*models.Article, error) {
	var row articleRow
	query := `SELECT ` + articleColumns + `
FROM articles a JOIN users u ON u.id = a.author_id
WHERE a.id = $1`
	if err := p.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, mapErr(err)
	}
	a := row.toModel()
	if err := p.loadTags(ctx, []*models.Article{a}); err != nil {
		return nil, err
	}
	return a, nil
}

func (p *PgStore) ListArticles(ctx context.Context, limit int) ([]*models.Article, error) {
	limit = clampLimit(limit, 50, 200)
	rows := []articleRow{}
	query := `SELECT ` + articleColumns + `
FROM articles a JOIN users u ON u.id = a.author_id
ORDER BY a.created_at DESC, a.id DESC
LIMIT $1`
	if err := p.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}
	out := make([]*models.Article, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	if err := p.loadTags(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

type articleTagRow struct {
	ArticleID int64 `db:"article_id"`
	models.Tag
}

func (p *PgStore) loadTags(ctx context.Context, articles []*models.Article) error {
	if len(articles) == 0 {
		return nil
	}
	ids := make([]int64, len(articles))
	byID := make(map[int64]*models.Article, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
		byID[a.ID] = a
	}

	rows := []articleTagRow{}
	query := `
SELECT art.article_id, t.id, t.name, t.type, t.relevance, t.created_at, t.updated_at
FROM article_tags art JOIN tags t ON t.id = art.tag_id
WHERE art.article_id = ANY($1)
ORDER BY t.name`
	if err := p.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	for _, r := range rows {
		if a, ok := byID[r.ArticleID]; ok {
			a.Tags = append(a.Tags, r.Tag)
		}
	}
	return nil
}

// UpdateArticleContent applies author edits. A content change puts both
// pipeline tracks back to pending so the new content is verified and analyzed.
func (p *PgStore) UpdateArticleContent(ctx context.Context, id int64, upd models.ArticleUpdate, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
UPDATE articles SET
  title = COALESCE($2, title),
  content = COALESCE($3, content),
  verification_status = CASE WHEN $3::text IS NULL THEN verification_status ELSE 'pending' END,
  verification_requested_at = CASE WHEN $3::text IS NULL THEN verification_requested_at ELSE $4 END,
  analysis_status = CASE WHEN $3::text IS NULL THEN analysis_status ELSE 'pending' END,
  sentiment_outcome = CASE WHEN $3::text IS NULL THEN sentiment_outcome ELSE '' END,
  tags_outcome = CASE WHEN $3::text IS NULL THEN tags_outcome ELSE '' END,
  analysis_attempted_at = CASE WHEN $3::text IS NULL THEN analysis_attempted_at ELSE NULL END,
  analysis_requested_at = CASE WHEN $3::text IS NULL THEN analysis_requested_at ELSE $4 END,
  updated_at = $4
WHERE id = $1`, id, upd.Title, upd.Content, at)
	if err != nil {
		return fmt.Errorf("update article id=%d: %w", id, err)
	}
	return expectOne(res)
}

func (p *PgStore) DeleteArticle(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete article id=%d: %w", id, err)
	}
	return expectOne(res)
}

func (p *PgStore) MarkVerificationPending(ctx context.Context, id int64, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE articles SET verification_status = $2, verification_requested_at = $3 WHERE id = $1`,
		id, models.VerificationPending, at)
	if err != nil {
		return fmt.Errorf("mark verification pending id=%d: %w", id, err)
	}
	return expectOne(res)
}

func (p *PgStore) MarkAnalysisRequested(ctx context.Context, id int64, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE articles SET analysis_requested_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark analysis requested id=%d: %w", id, err)
	}
	return expectOne(res)
}

func (p *PgStore) SaveVerification(ctx context.Context, id int64, v models.VerificationResult) error {
	res, err := p.db.ExecContext(ctx, `
UPDATE articles SET
  verification_status = $2,
  transaction_hash = $3,
  block_number = $4,
  content_hash = $5,
  verified_at = $6
WHERE id = $1`, id, models.VerificationVerified, v.TransactionHash, v.BlockNumber, v.ContentHash, v.VerifiedAt)
	if err != nil {
		return fmt.Errorf("save verification id=%d: %w", id, err)
	}
	return expectOne(res)
}

func (p *PgStore) MarkVerificationFailed(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE articles SET verification_status = $2 WHERE id = $1`, id, models.VerificationFailed)
	if err != nil {
		return fmt.Errorf("mark verification failed id=%d: %w", id, err)
	}
	return expectOne(res)
}

// SaveAnalysis writes only analysis columns, so it cannot clobber a
// concurrent verification update on the same row.
func (p *PgStore) SaveAnalysis(ctx context.Context, id int64, r models.AnalysisResult) error {
	var score, objectivity *float64
	var tone *string
	if r.Sentiment != nil {
		score, tone, objectivity = &r.Sentiment.Score, &r.Sentiment.Tone, &r.Sentiment.Objectivity
	}
	res, err := p.db.ExecContext(ctx, `
UPDATE articles SET
  sentiment_outcome = $2,
  tags_outcome = $3,
  analysis_attempted_at = $4,
  analysis_status = CASE WHEN $5 THEN 'completed' ELSE analysis_status END,
  analysis_updated_at = CASE WHEN $5 THEN $4 ELSE analysis_updated_at END,
  sentiment_score = COALESCE($6, sentiment_score),
  emotional_tone = COALESCE($7, emotional_tone),
  objectivity_score = COALESCE($8, objectivity_score)
WHERE id = $1`,
		id, r.SentimentOutcome, r.TagsOutcome, r.AttemptedAt, r.Completed(), score, tone, objectivity)
	if err != nil {
		return fmt.Errorf("save analysis id=%d: %w", id, err)
	}
	return expectOne(res)
}

// UpsertTags returns one row per distinct input name, creating missing ones.
func (p *PgStore) UpsertTags(ctx context.Context, in []models.TagInput) ([]models.Tag, error) {
	tags := normalizeTags(in)
	if len(tags) == 0 {
		return []models.Tag{}, nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	stmt := `
INSERT INTO tags (name, type, relevance)
VALUES ($1, NULLIF($2, ''), $3)
ON CONFLICT (name) DO UPDATE SET
  type = COALESCE(tags.type, EXCLUDED.type),
  relevance = COALESCE(tags.relevance, EXCLUDED.relevance),
  updated_at = NOW()
RETURNING id, name, type, relevance, created_at, updated_at`

	out := make([]models.Tag, 0, len(tags))
	for _, t := range tags {
		var tag models.Tag
		if err := tx.GetContext(ctx, &tag, stmt, t.Name, t.Type, t.Relevance); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("upsert tag name=%s: %w", t.Name, err)
		}
		out = append(out, tag)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// AttachTags links tags to an article; existing links are kept.
func (p *PgStore) AttachTags(ctx context.Context, articleID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO article_tags (article_id, tag_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			articleID, tagID)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("attach tag article=%d tag=%d: %w", articleID, tagID, err)
		}
	}
	return tx.Commit()
}

func (p *PgStore) AppendAnalysisLog(ctx context.Context, l *models.AnalysisLog) error {
	err := p.db.QueryRowxContext(ctx, `
INSERT INTO analysis_logs (article_id, service, status, result, error)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, created_at`,
		l.ArticleID, l.Service, l.Status, l.Result, l.Error,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert analysis log article=%d: %w", l.ArticleID, mapErr(err))
	}
	return nil
}

func (p *PgStore) ListAnalysisLogs(ctx context.Context, articleID int64) ([]models.AnalysisLog, error) {
	rows := []models.AnalysisLog{}
	err := p.db.SelectContext(ctx, &rows, `
SELECT id, article_id, service, status, result, error, created_at
FROM analysis_logs
WHERE article_id = $1
ORDER BY created_at, id`, articleID)
	return rows, err
}

// ListStuck returns articles with a track still pending whose work was
// requested before cutoff.
func (p *PgStore) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]models.StuckArticle, error) {
	limit = clampLimit(limit, 100, 1000)
	rows := []models.StuckArticle{}
	err := p.db.SelectContext(ctx, &rows, `
SELECT id, needs_verification, needs_analysis FROM (
  SELECT id,
    (verification_status = 'pending' AND COALESCE(verification_requested_at, created_at) < $1) AS needs_verification,
    (analysis_status = 'pending' AND analysis_attempted_at IS NULL AND COALESCE(analysis_requested_at, created_at) < $1) AS needs_analysis
  FROM articles
) AS s
WHERE needs_verification OR needs_analysis
ORDER BY id
LIMIT $2`, cutoff, limit)
	return rows, err
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
