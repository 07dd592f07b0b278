package service

import (
	"context"
	"errors"
	"strings"

	"github.com/nitesh/factoura_service/internal/analysis"
	"github.com/nitesh/factoura_service/internal/apperr"
)

type SentimentInput struct {
	Text  string `json:"text"`
	Title string `json:"title"`
}

type TagsInput struct {
	Text         string   `json:"text"`
	Title        string   `json:"title"`
	ExistingTags []string `json:"existingTags"`
	MaxTags      int      `json:"maxTags"`
}

func (s *Service) AnalysisHealth(ctx context.Context) analysis.Health {
	return s.analysis.CheckHealth(ctx)
}

func (s *Service) AnalyzeSentiment(ctx context.Context, in SentimentInput) (*analysis.Sentiment, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, apperr.Validation("Text is required")
	}
	out, err := s.analysis.AnalyzeSentiment(ctx, in.Text, in.Title)
	if err != nil {
		return nil, analysisErr(err)
	}
	return out, nil
}

func (s *Service) GenerateTags(ctx context.Context, in TagsInput) (*analysis.Tags, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, apperr.Validation("Text is required")
	}
	limit := in.MaxTags
	if limit <= 0 || limit > s.cfg.MaxTags {
		limit = s.cfg.MaxTags
	}
	out, err := s.analysis.GenerateTags(ctx, in.Text, in.Title, in.ExistingTags, limit)
	if err != nil {
		return nil, analysisErr(err)
	}
	return out, nil
}

func analysisErr(err error) error {
	if errors.Is(err, analysis.ErrUnavailable) {
		return apperr.Unavailable("Content analysis service is unavailable", err)
	}
	return apperr.Internal("content analysis", err)
}
