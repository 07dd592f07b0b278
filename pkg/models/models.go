package models

import (
	"time"

	dbtypes "github.com/nitesh/factoura_service/internal/db"
)

// VerificationStatus is the state of the ledger verification track.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// Settled reports whether the verification track has reached a terminal state.
func (s VerificationStatus) Settled() bool {
	return s == VerificationVerified || s == VerificationFailed
}

// AnalysisStatus is the state of the content analysis track.
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisCompleted AnalysisStatus = "completed"
)

// Outcome records what happened to one sub-analysis (sentiment or tags).
// The empty value means it has not been attempted.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account that can author articles.
type User struct {
	ID            int64     `db:"id" json:"id"`
	Username      string    `db:"username" json:"username"`
	Email         string    `db:"email" json:"email"`
	PasswordHash  string    `db:"password" json:"-"`
	Role          string    `db:"role" json:"role"`
	WalletAddress string    `db:"wallet_address" json:"walletAddress,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Author is the public projection of a User embedded in article responses.
type Author struct {
	ID       int64  `db:"author_id" json:"id"`
	Username string `db:"author_username" json:"username"`
	Email    string `db:"author_email" json:"email"`
}

// Article is a submitted piece of journalism together with the state of its
// verification and analysis tracks. The two tracks are independent.
type Article struct {
	ID           int64  `db:"id" json:"id"`
	Title        string `db:"title" json:"title"`
	Content      string `db:"content" json:"content"`
	AuthorID     int64  `db:"author_id" json:"authorId"`
	AuthorWallet string `db:"author_wallet" json:"authorWallet,omitempty"`

	VerificationStatus      VerificationStatus `db:"verification_status" json:"verificationStatus"`
	TransactionHash         *string            `db:"transaction_hash" json:"transactionHash"`
	BlockNumber             *int64             `db:"block_number" json:"blockNumber"`
	ContentHash             *string            `db:"content_hash" json:"contentHash"`
	VerifiedAt              *time.Time         `db:"verified_at" json:"verifiedAt"`
	VerificationRequestedAt *time.Time         `db:"verification_requested_at" json:"verificationRequestedAt"`

	AnalysisStatus      AnalysisStatus `db:"analysis_status" json:"analysisStatus"`
	SentimentScore      *float64       `db:"sentiment_score" json:"sentimentScore"`
	EmotionalTone       *string        `db:"emotional_tone" json:"emotionalTone"`
	ObjectivityScore    *float64       `db:"objectivity_score" json:"objectivityScore"`
	AnalysisUpdatedAt   *time.Time     `db:"analysis_updated_at" json:"analysisUpdatedAt"`
	SentimentOutcome    Outcome        `db:"sentiment_outcome" json:"sentimentOutcome"`
	TagsOutcome         Outcome        `db:"tags_outcome" json:"tagsOutcome"`
	AnalysisAttemptedAt *time.Time     `db:"analysis_attempted_at" json:"analysisAttemptedAt"`
	AnalysisRequestedAt *time.Time     `db:"analysis_requested_at" json:"analysisRequestedAt"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	// Populated by joins, not stored on the articles row.
	Author *Author `db:"-" json:"author,omitempty"`
	Tags   []Tag   `db:"-" json:"tags"`
}

// AnalysisAttempted reports whether the analysis task has run at least once.
func (a *Article) AnalysisAttempted() bool {
	return a.AnalysisAttemptedAt != nil
}

// Tag is a label attached to articles, unique by name.
type Tag struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Type      *string   `db:"type" json:"type,omitempty"`
	Relevance *float64  `db:"relevance" json:"relevance,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// TagInput is a tag reference produced by analysis or manual tagging.
type TagInput struct {
	Name      string
	Type      string
	Relevance float64
}

const (
	ServiceSentiment = "sentiment"
	ServiceTags      = "tags"

	LogSuccess = "success"
	LogError   = "error"
)

// AnalysisLog is an append-only audit row for one analysis attempt.
type AnalysisLog struct {
	ID        int64             `db:"id" json:"id"`
	ArticleID int64             `db:"article_id" json:"articleId"`
	Service   string            `db:"service" json:"service"`
	Status    string            `db:"status" json:"status"`
	Result    dbtypes.JSONValue `db:"result" json:"result,omitempty"`
	Error     *string           `db:"error" json:"error,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"createdAt"`
}

// ArticleUpdate carries the author-editable fields of an article. Nil fields
// are left untouched.
type ArticleUpdate struct {
	Title   *string
	Content *string
}

// VerificationResult is what the verification track persists on success.
type VerificationResult struct {
	TransactionHash string
	BlockNumber     int64
	ContentHash     string
	VerifiedAt      time.Time
}

// SentimentResult is the subset of a sentiment analysis persisted on the article.
type SentimentResult struct {
	Score       float64
	Tone        string
	Objectivity float64
}

// AnalysisResult is the merged outcome of one analysis task.
type AnalysisResult struct {
	Sentiment        *SentimentResult
	SentimentOutcome Outcome
	TagsOutcome      Outcome
	AttemptedAt      time.Time
}

// StuckArticle is an article whose pipeline work was requested long ago and
// has not finished.
type StuckArticle struct {
	ID                int64 `db:"id"`
	NeedsVerification bool  `db:"needs_verification"`
	NeedsAnalysis     bool  `db:"needs_analysis"`
}

// Completed reports whether at least one sub-analysis resolved.
func (r AnalysisResult) Completed() bool {
	return r.SentimentOutcome == OutcomeSucceeded || r.TagsOutcome == OutcomeSucceeded
}
