package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nitesh/factoura_service/internal/llm"
	"github.com/nitesh/factoura_service/internal/service"
)

// AssistantHealth: GET /api/ai/health
func (h *Handler) AssistantHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.AssistantHealth())
}

// Generate: POST /api/ai/generate
// Body: {prompt, model?}
func (h *Handler) Generate(c *gin.Context) {
	var in service.GenerateInput
	if !bind(c, &in) {
		return
	}
	g, err := h.svc.Generate(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	passthrough(c, g.Raw, g)
}

// contentTask serves POST /api/ai/analyze and /api/ai/summarize.
// Body: {content, model?}
func (h *Handler) contentTask(task llm.Task) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in service.ContentInput
		if !bind(c, &in) {
			return
		}
		g, err := h.svc.AnalyzeContent(c.Request.Context(), task, in)
		if err != nil {
			_ = c.Error(err)
			return
		}
		passthrough(c, g.Raw, g)
	}
}

// claimTask serves POST /api/ai/fact-check and /api/ai/quick-check.
// Body: {claim, model?}
func (h *Handler) claimTask(task llm.Task) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in service.ClaimInput
		if !bind(c, &in) {
			return
		}
		g, err := h.svc.CheckClaim(c.Request.Context(), task, in)
		if err != nil {
			_ = c.Error(err)
			return
		}
		passthrough(c, g.Raw, g)
	}
}
