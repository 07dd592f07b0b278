package service

import (
	"context"
	"errors"
	"strings"

	"github.com/nitesh/factoura_service/internal/apperr"
	"github.com/nitesh/factoura_service/internal/llm"
)

// AssistantClient is satisfied by *llm.Client.
type AssistantClient interface {
	Generate(ctx context.Context, prompt, model string) (*llm.Generation, error)
	Run(ctx context.Context, task llm.Task, input, model string) (*llm.Generation, error)
	Models() map[string]string
}

// SetAssistant enables the writing assistant. Call it before serving.
func (s *Service) SetAssistant(a AssistantClient) { s.assistant = a }

type GenerateInput struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// ContentInput feeds the analyze and summarize tasks.
type ContentInput struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// ClaimInput feeds the fact-check and quick-check tasks.
type ClaimInput struct {
	Claim string `json:"claim"`
	Model string `json:"model"`
}

type AssistantHealth struct {
	Status string            `json:"status"`
	Models map[string]string `json:"models,omitempty"`
}

func (s *Service) AssistantHealth() AssistantHealth {
	if s.assistant == nil {
		return AssistantHealth{Status: "disabled"}
	}
	return AssistantHealth{Status: "healthy", Models: s.assistant.Models()}
}

func (s *Service) Generate(ctx context.Context, in GenerateInput) (*llm.Generation, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, apperr.Validation("Prompt is required")
	}
	if s.assistant == nil {
		return nil, errAssistantDisabled
	}
	out, err := s.assistant.Generate(ctx, in.Prompt, in.Model)
	if err != nil {
		return nil, assistantErr(err)
	}
	return out, nil
}

// AnalyzeContent runs llm.Analyze or llm.Summarize.
func (s *Service) AnalyzeContent(ctx context.Context, task llm.Task, in ContentInput) (*llm.Generation, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperr.Validation("Content is required")
	}
	return s.runTask(ctx, task, in.Content, in.Model)
}

// CheckClaim runs llm.FactCheck or llm.QuickCheck.
func (s *Service) CheckClaim(ctx context.Context, task llm.Task, in ClaimInput) (*llm.Generation, error) {
	if strings.TrimSpace(in.Claim) == "" {
		return nil, apperr.Validation("Claim is required")
	}
	return s.runTask(ctx, task, in.Claim, in.Model)
}

func (s *Service) runTask(ctx context.Context, task llm.Task, input, model string) (*llm.Generation, error) {
	if s.assistant == nil {
		return nil, errAssistantDisabled
	}
	out, err := s.assistant.Run(ctx, task, input, model)
	if err != nil {
		return nil, assistantErr(err)
	}
	return out, nil
}

var errAssistantDisabled = apperr.Unavailable("Writing assistant is not configured", nil)

func assistantErr(err error) error {
	switch {
	case errors.Is(err, llm.ErrUnknownModel):
		return &apperr.Error{Kind: apperr.KindValidation, Message: err.Error(), Err: err}
	case errors.Is(err, llm.ErrUnavailable):
		return apperr.Unavailable("AI service is unavailable", err)
	default:
		return apperr.Internal("ai service", err)
	}
}
