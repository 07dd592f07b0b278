package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nitesh/factoura_service/internal/apperr"
	"github.com/nitesh/factoura_service/internal/llm"
	"github.com/nitesh/factoura_service/internal/metrics"
	"github.com/nitesh/factoura_service/internal/queue"
	"github.com/nitesh/factoura_service/internal/service"
)

type Options struct {
	Development        bool
	CORSOrigins        []string
	EventsTimeout      time.Duration
	EventsPollInterval time.Duration
	// RedisPing is optional; nil means Redis is not in use.
	RedisPing func(ctx context.Context) error
	// QueueStats is optional and reported under the "tasks" check.
	QueueStats func(ctx context.Context) (queue.Stats, error)
}

type Handler struct {
	svc  *service.Service
	opts Options
}

func NewHandler(svc *service.Service, opts Options) *Handler {
	if opts.EventsTimeout <= 0 {
		opts.EventsTimeout = 2 * time.Minute
	}
	if opts.EventsPollInterval <= 0 {
		opts.EventsPollInterval = 3 * time.Second
	}
	return &Handler{svc: svc, opts: opts}
}

// NewRouter builds the gin engine with middleware and routes, wrapped with CORS.
func NewRouter(h *Handler) http.Handler {
	r := gin.New()
	r.Use(requestID(), accessLog(), errorHandler(h.opts.Development), recovery())
	r.NoRoute(func(c *gin.Context) {
		_ = c.Error(apperr.NotFound("Route "+c.Request.URL.Path, nil))
	})
	RegisterRoutes(r, h)
	return withCORS(r, h.opts.CORSOrigins)
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authed := h.requireAuth()
	api := r.Group("/api")
	{
		api.POST("/auth/signup", h.Signup)
		api.POST("/auth/login", h.Login)

		api.GET("/users/me", authed, h.Me)
		api.GET("/users/:id", h.GetUser)

		api.GET("/articles", h.ListArticles)
		api.POST("/articles", authed, h.CreateArticle)
		api.GET("/articles/:id", h.GetArticle)
		api.PUT("/articles/:id", authed, h.UpdateArticle)
		api.DELETE("/articles/:id", authed, h.DeleteArticle)
		api.POST("/articles/:id/verify", authed, h.VerifyArticle)
		api.GET("/articles/:id/status", h.ArticleStatus)
		api.GET("/articles/:id/events", h.ArticleEvents)
		api.GET("/articles/:id/logs", h.ArticleLogs)

		api.GET("/analysis/health", h.AnalysisHealth)
		api.POST("/analysis/sentiment", authed, h.AnalyzeSentiment)
		api.POST("/analysis/tags", authed, h.GenerateTags)

		ai := api.Group("/ai")
		ai.GET("/health", h.AssistantHealth)
		ai.POST("/generate", authed, h.Generate)
		ai.POST("/analyze", authed, h.contentTask(llm.Analyze))
		ai.POST("/summarize", authed, h.contentTask(llm.Summarize))
		ai.POST("/fact-check", authed, h.claimTask(llm.FactCheck))
		ai.POST("/quick-check", authed, h.claimTask(llm.QuickCheck))
	}
}

// Signup: POST /api/auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var in service.SignupInput
	if !bind(c, &in) {
		return
	}
	token, user, err := h.svc.Signup(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

// Login: POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var in service.LoginInput
	if !bind(c, &in) {
		return
	}
	token, err := h.svc.Login(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Me: GET /api/users/me
func (h *Handler) Me(c *gin.Context) {
	user, err := h.svc.GetUser(c.Request.Context(), claimsFrom(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetUser: GET /api/users/:id
func (h *Handler) GetUser(c *gin.Context) {
	id, ok := pathID(c, "user")
	if !ok {
		return
	}
	user, err := h.svc.GetUser(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListArticles: GET /api/articles?limit=50
func (h *Handler) ListArticles(c *gin.Context) {
	lim := parseLimit(c.DefaultQuery("limit", "50"))
	res, err := h.svc.List(c.Request.Context(), lim)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateArticle: POST /api/articles
// Body: {title, content, walletAddress?, signature?}
func (h *Handler) CreateArticle(c *gin.Context) {
	var in service.SubmitInput
	if !bind(c, &in) {
		return
	}
	a, err := h.svc.Submit(c.Request.Context(), claimsFrom(c).UserID, in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// GetArticle: GET /api/articles/:id
func (h *Handler) GetArticle(c *gin.Context) {
	id, ok := pathID(c, "article")
	if !ok {
		return
	}
	view, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateArticle: PUT /api/articles/:id
// Body: {title?, content?}. Pipeline fields are ignored.
func (h *Handler) UpdateArticle(c *gin.Context) {
	id, ok := pathID(c, "article")
	if !ok {
		return
	}
	var in service.UpdateInput
	if !bind(c, &in) {
		return
	}
	a, err := h.svc.Update(c.Request.Context(), claimsFrom(c), id, in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// DeleteArticle: DELETE /api/articles/:id
func (h *Handler) DeleteArticle(c *gin.Context) {
	id, ok := pathID(c, "article")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), claimsFrom(c), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// VerifyArticle: POST /api/articles/:id/verify
func (h *Handler) VerifyArticle(c *gin.Context) {
	id, ok := pathID(c, "article")
	if !ok {
		return
	}
	a, err := h.svc.TriggerVerification(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":            "Verification process started",
		"articleId":          a.ID,
		"verificationStatus": a.VerificationStatus,
	})
}

// ArticleStatus: GET /api/articles/:id/status
func (h *Handler) ArticleStatus(c *gin.Context) {
	id, ok := pathID(c, "article")
	if !ok {
		return
	}
	st, err := h.svc.Status(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ArticleLogs: GET /api/articles/:id/logs
func (h *Handler) ArticleLogs(c *gin.Context) {
	id, ok := pathID(c, "article")
	if !ok {
		return
	}
	logs, err := h.svc.Logs(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// AnalysisHealth: GET /api/analysis/health
func (h *Handler) AnalysisHealth(c *gin.Context) {
	health := h.svc.AnalysisHealth(c.Request.Context())
	c.JSON(http.StatusOK, health)
}

// AnalyzeSentiment: POST /api/analysis/sentiment
func (h *Handler) AnalyzeSentiment(c *gin.Context) {
	var in service.SentimentInput
	if !bind(c, &in) {
		return
	}
	res, err := h.svc.AnalyzeSentiment(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	passthrough(c, res.Raw, res)
}

// GenerateTags: POST /api/analysis/tags
func (h *Handler) GenerateTags(c *gin.Context) {
	var in service.TagsInput
	if !bind(c, &in) {
		return
	}
	res, err := h.svc.GenerateTags(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	passthrough(c, res.Raw, res)
}

// passthrough relays the analysis service payload unchanged when there is one.
func passthrough(c *gin.Context, raw json.RawMessage, v any) {
	if len(raw) == 0 {
		c.JSON(http.StatusOK, v)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(&apperr.Error{Kind: apperr.KindValidation, Message: "Invalid JSON body", Err: err})
		return false
	}
	return true
}

func pathID(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(apperr.Validation("Invalid %s id", what))
		return 0, false
	}
	return id, true
}

func parseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 50
	}
	if n > 200 {
		return 200
	}
	return n
}
