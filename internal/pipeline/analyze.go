package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	dbtypes "github.com/nitesh/factoura_service/internal/db"
	"github.com/nitesh/factoura_service/internal/queue"
	"github.com/nitesh/factoura_service/internal/store"
	"github.com/nitesh/factoura_service/pkg/models"
)

func (r *Runner) analyze(ctx context.Context, t queue.Task) (string, error) {
	a, err := r.load(ctx, t)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "dropped", nil
	}
	if requestedAfter(a.AnalysisRequestedAt, t.EnqueuedAt) {
		return "skipped", nil
	}
	if a.AnalysisAttemptedAt != nil && !a.AnalysisAttemptedAt.Before(t.EnqueuedAt) {
		// Another delivery of the same request already ran.
		return "skipped", nil
	}

	res := models.AnalysisResult{
		SentimentOutcome: models.OutcomeFailed,
		TagsOutcome:      models.OutcomeFailed,
	}

	// Sub-analyses fail independently; neither cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		s, err := r.sentiment(ctx, a)
		if err == nil {
			res.Sentiment = s
			res.SentimentOutcome = models.OutcomeSucceeded
		}
		return nil
	})
	g.Go(func() error {
		if err := r.tags(ctx, a); err == nil {
			res.TagsOutcome = models.OutcomeSucceeded
		}
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	res.AttemptedAt = r.clock.Now()
	err = r.store.SaveAnalysis(ctx, a.ID, res)
	if errors.Is(err, store.ErrNotFound) {
		return "dropped", nil
	}
	if err != nil {
		return "", fmt.Errorf("save analysis %d: %w", a.ID, err)
	}

	r.log.Info().
		Int64("article_id", a.ID).
		Str("sentiment", string(res.SentimentOutcome)).
		Str("tags", string(res.TagsOutcome)).
		Msg("analysis finished")
	r.changed(a.ID)
	if !res.Completed() {
		return "failed", nil
	}
	return string(models.AnalysisCompleted), nil
}

func (r *Runner) sentiment(ctx context.Context, a *models.Article) (*models.SentimentResult, error) {
	s, err := r.analyzer.AnalyzeSentiment(ctx, a.Content, a.Title)
	if err != nil {
		r.appendLog(ctx, a.ID, models.ServiceSentiment, nil, err)
		return nil, err
	}
	r.appendLog(ctx, a.ID, models.ServiceSentiment, logResult(s.Raw, s), nil)
	return &models.SentimentResult{
		Score:       s.Overall.CompoundScore,
		Tone:        s.EmotionalTone,
		Objectivity: s.ObjectivityScore,
	}, nil
}

func (r *Runner) tags(ctx context.Context, a *models.Article) error {
	existing := make([]string, 0, len(a.Tags))
	for _, t := range a.Tags {
		existing = append(existing, t.Name)
	}

	out, err := r.analyzer.GenerateTags(ctx, a.Content, a.Title, existing, r.cfg.MaxTags)
	if err != nil {
		r.appendLog(ctx, a.ID, models.ServiceTags, nil, err)
		return err
	}

	inputs := make([]models.TagInput, 0, len(out.Suggested))
	for _, s := range out.Suggested {
		if len(inputs) == r.cfg.MaxTags {
			break
		}
		inputs = append(inputs, models.TagInput{Name: s.Tag, Type: s.Type, Relevance: s.Relevance})
	}
	if err := r.attach(ctx, a.ID, inputs); err != nil {
		r.appendLog(ctx, a.ID, models.ServiceTags, logResult(out.Raw, out), err)
		return err
	}
	r.appendLog(ctx, a.ID, models.ServiceTags, logResult(out.Raw, out), nil)
	return nil
}

func (r *Runner) attach(ctx context.Context, articleID int64, inputs []models.TagInput) error {
	tags, err := r.store.UpsertTags(ctx, inputs)
	if err != nil {
		return fmt.Errorf("upsert tags: %w", err)
	}
	ids := make([]int64, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	if err := r.store.AttachTags(ctx, articleID, ids); err != nil {
		return fmt.Errorf("attach tags: %w", err)
	}
	return nil
}

// logResult prefers the upstream payload and falls back to encoding the
// parsed response.
func logResult(raw json.RawMessage, v any) dbtypes.JSONValue {
	if len(raw) > 0 {
		return dbtypes.JSONValue(raw)
	}
	out, err := dbtypes.NewJSONValue(v)
	if err != nil {
		return nil
	}
	return out
}

// appendLog records one sub-analysis attempt. A nil cause is a success.
func (r *Runner) appendLog(ctx context.Context, articleID int64, service string, result dbtypes.JSONValue, cause error) {
	entry := &models.AnalysisLog{ArticleID: articleID, Service: service, Status: models.LogSuccess, Result: result}
	if cause != nil {
		msg := cause.Error()
		entry.Status = models.LogError
		entry.Error = &msg
		r.log.Warn().Err(cause).Int64("article_id", articleID).Str("service", service).Msg("analysis call failed")
	}
	if err := r.store.AppendAnalysisLog(ctx, entry); err != nil {
		r.log.Error().Err(err).Int64("article_id", articleID).Str("service", service).Msg("append analysis log")
	}
}
