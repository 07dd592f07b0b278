package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/nitesh/factoura_service/internal/queue"
	"github.com/nitesh/factoura_service/internal/store"
	"github.com/nitesh/factoura_service/pkg/models"
)

func (r *Runner) verify(ctx context.Context, t queue.Task) (string, error) {
	if wait := t.NotBefore.Sub(r.clock.Now()); wait > 0 {
		if err := r.clock.Sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	a, err := r.load(ctx, t)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "dropped", nil
	}
	if a.VerificationStatus != models.VerificationPending {
		return "skipped", nil
	}
	if requestedAfter(a.VerificationRequestedAt, t.EnqueuedAt) {
		// A newer verify task exists for this article.
		return "skipped", nil
	}

	log := r.log.With().Int64("article_id", a.ID).Str("task_id", t.ID).Logger()
	v, err := r.ledger.Verify(ctx, a.ID, a.Content)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Error().Err(err).Str("ledger", r.ledger.Mode()).Msg("verification failed")
		if err := r.store.MarkVerificationFailed(ctx, a.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "dropped", nil
			}
			return "", fmt.Errorf("mark failed %d: %w", a.ID, err)
		}
		r.changed(a.ID)
		return string(models.VerificationFailed), nil
	}

	err = r.store.SaveVerification(ctx, a.ID, models.VerificationResult{
		TransactionHash: v.TransactionHash,
		BlockNumber:     v.BlockNumber,
		ContentHash:     v.ContentHash,
		VerifiedAt:      r.clock.Now(),
	})
	if errors.Is(err, store.ErrNotFound) {
		return "dropped", nil
	}
	if err != nil {
		return "", fmt.Errorf("save verification %d: %w", a.ID, err)
	}
	log.Info().Str("tx", v.TransactionHash).Int64("block", v.BlockNumber).Msg("article verified")
	r.changed(a.ID)
	return string(models.VerificationVerified), nil
}
