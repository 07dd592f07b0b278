package service

import (
	"context"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitesh/factoura_service/internal/analysis"
	"github.com/nitesh/factoura_service/internal/apperr"
	"github.com/nitesh/factoura_service/internal/auth"
	"github.com/nitesh/factoura_service/internal/clock"
	"github.com/nitesh/factoura_service/internal/ledger"
	"github.com/nitesh/factoura_service/internal/notify"
	"github.com/nitesh/factoura_service/internal/queue"
	"github.com/nitesh/factoura_service/internal/store"
	"github.com/nitesh/factoura_service/pkg/models"
)

type stubAnalysis struct{ err error }

func (s stubAnalysis) AnalyzeSentiment(ctx context.Context, text, title string) (*analysis.Sentiment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &analysis.Sentiment{EmotionalTone: "Neutral"}, nil
}

func (s stubAnalysis) GenerateTags(ctx context.Context, text, title string, existing []string, maxTags int) (*analysis.Tags, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &analysis.Tags{Count: maxTags}, nil
}

func (s stubAnalysis) CheckHealth(ctx context.Context) analysis.Health {
	if s.err != nil {
		return analysis.Health{Status: analysis.StatusUnavailable, Error: s.err.Error()}
	}
	return analysis.Health{Status: analysis.StatusAvailable}
}

type brokenLedger struct{ ledger.Verifier }

func (brokenLedger) Status(ctx context.Context, articleID int64) (ledger.Status, error) {
	return ledger.Status{}, errors.New("rpc timeout")
}

type fixture struct {
	svc      *Service
	store    *store.MemoryStore
	tasks    *queue.Memory
	clock    *clock.Fake
	notifier *notify.Local
	author   *models.User
	claims   *auth.Claims
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := Config{BcryptCost: 4, VerificationDelay: 5 * time.Second, MaxTags: 10}
	for _, m := range mutate {
		m(&cfg)
	}
	fc := clock.NewFake(t0)
	st := store.NewMemoryStore().WithNow(fc.Now)
	q := queue.NewMemory(16, 1)
	l := ledger.NewSimulated(time.Second, "https://amoy.polygonscan.com/tx", ledger.WithClock(fc), ledger.WithRand(mrand.New(mrand.NewPCG(1, 1))))
	n := notify.NewLocal()
	svc := NewService(st, q, l, stubAnalysis{}, auth.NewTokenManager("secret", time.Hour), n, fc, cfg)

	u := &models.User{Username: "reporter", Email: "r@example.com", PasswordHash: "x"}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return &fixture{svc: svc, store: st, tasks: q, clock: fc, notifier: n, author: u, claims: &auth.Claims{UserID: u.ID, Role: u.Role}}
}

func (f *fixture) submit(t *testing.T) *models.Article {
	t.Helper()
	a, err := f.svc.Submit(context.Background(), f.author.ID, SubmitInput{Title: " Headline ", Content: "Body"})
	require.NoError(t, err)
	return a
}

func TestSignupAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token, u, err := f.svc.Signup(ctx, SignupInput{Username: "ed", Email: "Ed@Example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "ed@example.com", u.Email)
	assert.Equal(t, models.RoleUser, u.Role)

	claims, err := f.svc.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)

	_, _, err = f.svc.Signup(ctx, SignupInput{Username: "ed2", Email: "ed@example.com", Password: "correct horse"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.svc.Login(ctx, LoginInput{Email: "ed@example.com", Password: "correct horse"})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, LoginInput{Email: "ed@example.com", Password: "wrong password"})
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	_, err = f.svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "whatever"})
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	_, err = f.svc.Authenticate("garbage")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)
	cases := []SignupInput{
		{Email: "a@example.com", Password: "longenough"},
		{Username: "a", Email: "not-an-email", Password: "longenough"},
		{Username: "a", Email: "a@example.com", Password: "short"},
		{Username: "a", Email: "a@example.com", Password: "longenough", WalletAddress: "0x12"},
	}
	for i, in := range cases {
		_, _, err := f.svc.Signup(context.Background(), in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "case %d: %v", i, err)
	}
}

func TestSubmitSchedulesBothTracks(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t)

	assert.Equal(t, "Headline", a.Title)
	assert.Equal(t, models.AnalysisPending, a.AnalysisStatus)
	assert.Equal(t, models.VerificationPending, a.VerificationStatus)
	assert.Equal(t, t0, *a.VerificationRequestedAt)
	assert.Equal(t, 2, f.tasks.Len())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), f.author.ID, SubmitInput{Title: "   ", Content: "Body"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "Title and content are required.", apperr.PublicMessage(err))

	list, err := f.svc.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, f.tasks.Len())
}

func TestSubmitSucceedsWhenQueueRejects(t *testing.T) {
	f := newFixture(t)
	f.svc.tasks = queue.NewMemory(1, 1)

	a := f.submit(t)
	assert.NotZero(t, a.ID)
}

func signContent(t *testing.T, content string) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(ledger.ContentHash(content))), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(sig)
}

func TestSubmitWalletSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.RequireWalletSignature = true })

	_, err := f.svc.Submit(ctx, f.author.ID, SubmitInput{Title: "T", Content: "Body"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	wallet, sig := signContent(t, "Body")
	_, err = f.svc.Submit(ctx, f.author.ID, SubmitInput{Title: "T", Content: "Other body", WalletAddress: wallet, Signature: sig})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.Submit(ctx, f.author.ID, SubmitInput{Title: "T", Content: "Body", WalletAddress: wallet})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	a, err := f.svc.Submit(ctx, f.author.ID, SubmitInput{Title: "T", Content: "Body", WalletAddress: wallet, Signature: sig})
	require.NoError(t, err)
	assert.Equal(t, wallet, a.AuthorWallet)
	assert.Equal(t, 2, f.tasks.Len())
}

func TestGetEnrichesWithLedgerStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.submit(t)
	require.NoError(t, f.store.SaveVerification(ctx, a.ID, models.VerificationResult{TransactionHash: "0xfeed", VerifiedAt: t0}))

	view, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, view.BlockchainVerification)
	assert.True(t, view.BlockchainVerification.IsVerified)
	assert.Equal(t, "https://amoy.polygonscan.com/tx/0xfeed", view.ExplorerURL)

	f.svc.ledger = brokenLedger{f.svc.ledger}
	view, err = f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, view.BlockchainVerification)

	_, err = f.svc.Get(ctx, 404)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, "Article with ID 404 not found", apperr.PublicMessage(err))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.submit(t)
	drain(t, f.tasks)
	require.NoError(t, f.store.SaveVerification(ctx, a.ID, models.VerificationResult{TransactionHash: "0x1", VerifiedAt: t0}))

	stranger := &auth.Claims{UserID: f.author.ID + 1}
	content := "New body"
	_, err := f.svc.Update(ctx, stranger, a.ID, UpdateInput{Content: &content})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	title := "Fixed headline"
	got, err := f.svc.Update(ctx, f.claims, a.ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, got.Title)
	assert.Equal(t, models.VerificationVerified, got.VerificationStatus)
	assert.Zero(t, f.tasks.Len())

	f.clock.Advance(time.Minute)
	got, err = f.svc.Update(ctx, f.claims, a.ID, UpdateInput{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, models.VerificationPending, got.VerificationStatus)
	assert.Equal(t, models.AnalysisPending, got.AnalysisStatus)
	assert.Equal(t, t0.Add(time.Minute), *got.VerificationRequestedAt)
	assert.Equal(t, 2, f.tasks.Len())

	empty := " "
	_, err = f.svc.Update(ctx, f.claims, a.ID, UpdateInput{Content: &empty})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func drain(t *testing.T, q *queue.Memory) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(context.Context, queue.Task) error { return nil })
		close(done)
	}()
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestDeletePermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.submit(t)
	b := f.submit(t)

	err := f.svc.Delete(ctx, &auth.Claims{UserID: 99, Role: models.RoleUser}, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	require.NoError(t, f.svc.Delete(ctx, f.claims, a.ID))
	require.NoError(t, f.svc.Delete(ctx, &auth.Claims{UserID: 99, Role: models.RoleAdmin}, b.ID))

	err = f.svc.Delete(ctx, f.claims, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTriggerVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.submit(t)
	require.NoError(t, f.store.MarkVerificationFailed(ctx, a.ID))
	drain(t, f.tasks)

	f.clock.Advance(time.Hour)
	got, err := f.svc.TriggerVerification(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationPending, got.VerificationStatus)
	assert.Equal(t, t0.Add(time.Hour), *got.VerificationRequestedAt)
	assert.Equal(t, 1, f.tasks.Len())

	_, err = f.svc.TriggerVerification(ctx, 12345)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestStatusState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.submit(t)

	st, err := f.svc.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, st.State)

	require.NoError(t, f.store.MarkVerificationFailed(ctx, a.ID))
	st, _ = f.svc.Status(ctx, a.ID)
	assert.Equal(t, StateInProgress, st.State, "analysis not attempted yet")

	require.NoError(t, f.store.SaveAnalysis(ctx, a.ID, models.AnalysisResult{SentimentOutcome: models.OutcomeFailed, TagsOutcome: models.OutcomeFailed, AttemptedAt: t0}))
	st, _ = f.svc.Status(ctx, a.ID)
	assert.Equal(t, StateSettled, st.State)
	assert.Equal(t, models.AnalysisPending, st.AnalysisStatus)
}

func TestWatchStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.submit(t)

	ch, err := f.svc.WatchStatus(ctx, a.ID, time.Hour)
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, StateInProgress, first.State)

	require.NoError(t, f.store.SaveVerification(ctx, a.ID, models.VerificationResult{TransactionHash: "0x2", VerifiedAt: t0}))
	require.NoError(t, f.store.SaveAnalysis(ctx, a.ID, models.AnalysisResult{SentimentOutcome: models.OutcomeSucceeded, TagsOutcome: models.OutcomeSucceeded, AttemptedAt: t0}))
	require.Eventually(t, func() bool {
		_ = f.notifier.Publish(ctx, a.ID)
		select {
		case v := <-ch:
			return v.State == StateSettled
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	_, open := <-ch
	assert.False(t, open, "closed after settling")

	_, err = f.svc.WatchStatus(ctx, 999, time.Second)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAnalysisPassthrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tags, err := f.svc.GenerateTags(ctx, TagsInput{Text: "x", MaxTags: 50})
	require.NoError(t, err)
	assert.Equal(t, 10, tags.Count, "capped by config")

	_, err = f.svc.AnalyzeSentiment(ctx, SentimentInput{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.svc.analysis = stubAnalysis{err: fmt.Errorf("%w: dial tcp: refused", analysis.ErrUnavailable)}
	_, err = f.svc.AnalyzeSentiment(ctx, SentimentInput{Text: "x"})
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
	assert.Equal(t, analysis.StatusUnavailable, f.svc.AnalysisHealth(ctx).Status)
}
