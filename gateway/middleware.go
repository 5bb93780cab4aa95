package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	headerRequestID   = "X-Request-ID"
	headerIdempotency = "Idempotency-Key"

	ctxRequestID   = "requestId"
	ctxCurrentUser = "currentUser"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiosk_http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"method", "path"},
	)
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxRequestID)),
		}
		if user, ok := currentUser(c); ok {
			fields = append(fields, zap.String("user_id", user.ID))
		}
		logger.Info("HTTP request", fields...)
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// requireAuth resolves the bearer token into the request's CurrentUser.
func (g *Gateway) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.Header("WWW-Authenticate", `Bearer error="invalid_request"`)
			g.abort(c, apperrors.ErrUnauthorized("missing bearer token"))
			return
		}

		user, err := g.services.Auth.Authenticate(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			g.abort(c, err)
			return
		}
		c.Set(ctxCurrentUser, user)
		c.Next()
	}
}

func (g *Gateway) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok || !user.IsAdmin() {
			g.abort(c, apperrors.ErrForbidden("administrator access required"))
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) (models.CurrentUser, bool) {
	v, ok := c.Get(ctxCurrentUser)
	if !ok {
		return models.CurrentUser{}, false
	}
	user, ok := v.(models.CurrentUser)
	return user, ok
}

// mustUser is only used behind requireAuth.
func mustUser(c *gin.Context) models.CurrentUser {
	user, _ := currentUser(c)
	return user
}

func (g *Gateway) abort(c *gin.Context, err error) {
	g.respondError(c, err)
	c.Abort()
}

func (g *Gateway) respondError(c *gin.Context, err error) {
	appErr := apperrors.FromError(err)

	fields := []zap.Field{
		zap.String("code", appErr.Code),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString(ctxRequestID)),
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		g.logger.Error("Request failed", append(fields, zap.Error(err))...)
	} else {
		g.logger.Debug("Request rejected", append(fields, zap.String("message", appErr.Message))...)
	}

	c.JSON(appErr.HTTPStatus, errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// errorResponse is the failure envelope.
type errorResponse struct {
	Success bool              `json:"success"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// respond writes the success envelope around payload.
func respond(c *gin.Context, status int, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["success"] = true
	c.JSON(status, payload)
}
