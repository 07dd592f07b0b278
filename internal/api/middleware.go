package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"

	"github.com/nitesh/factoura_service/internal/apperr"
	"github.com/nitesh/factoura_service/internal/auth"
	"github.com/nitesh/factoura_service/internal/logging"
	"github.com/nitesh/factoura_service/internal/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	keyClaims       = "claims"
)

// requestID honors an incoming X-Request-ID or generates one, and puts it on
// the request context for logging.Ctx.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > 128 {
			id = logging.NewRequestID()
		}
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ObserveHTTP(c.Request.Method, route, status)

		ev := logging.Ctx(c.Request.Context()).Info()
		if status >= http.StatusInternalServerError {
			ev = logging.Ctx(c.Request.Context()).Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		logging.Ctx(c.Request.Context()).Error().Interface("panic", rec).Msg("handler panicked")
		_ = c.Error(apperr.Internal("panic", nil))
		c.Abort()
	})
}

// errorHandler renders the last error attached with c.Error as
// {error, message, errorId}. Internal causes are only shown in development.
func errorHandler(development bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		kind := apperr.KindOf(err)
		id := logging.RequestID(c.Request.Context())
		log := logging.Ctx(c.Request.Context())

		if kind == apperr.KindInternal {
			ev := log.Error().Err(err).Str("path", c.Request.URL.Path)
			if development {
				ev = ev.Stack()
			}
			ev.Msg("unhandled error")
		} else {
			log.Warn().Err(err).Str("kind", kind.String()).Str("path", c.Request.URL.Path).Msg("request failed")
		}

		body := gin.H{
			"error":   kind.String(),
			"message": apperr.PublicMessage(err),
			"errorId": id,
		}
		if development && kind == apperr.KindInternal {
			body["detail"] = err.Error()
		}
		c.JSON(kind.Status(), body)
	}
}

// requireAuth accepts "Authorization: Bearer <token>".
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			_ = c.Error(apperr.Unauthenticated("Unauthorized"))
			c.Abort()
			return
		}
		claims, err := h.svc.Authenticate(strings.TrimSpace(token))
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(keyClaims, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, _ := c.Get(keyClaims)
	claims, _ := v.(*auth.Claims)
	return claims
}

// withCORS wraps the engine so preflight requests never reach gin routing.
func withCORS(next http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return next
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", headerRequestID},
		ExposedHeaders:   []string{headerRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	})(next)
}
