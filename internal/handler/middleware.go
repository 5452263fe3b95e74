package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"neobank/internal/model"
	"neobank/internal/service"
	"neobank/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	contextKeyAccount   = "account"
	contextKeyRequestID = "request_id"
	headerRequestID     = "X-Request-ID"
)

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
			"request_id": c.GetString(contextKeyRequestID),
		}
		if account, ok := c.Get(contextKeyAccount); ok {
			fields["account_id"] = account.(*model.Account).ID
		}

		entry := log.WithFields(fields)
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("http request")
			return
		}
		entry.Info("http request")
	}
}

// RequestIDMiddleware propagates X-Request-ID, generating one when absent.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(contextKeyRequestID, requestID)
		c.Header(headerRequestID, requestID)
		c.Next()
	}
}

// RecoveryMiddleware turns a panic into a 500 instead of killing the server.
func RecoveryMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					"panic": err,
					"path":  c.Request.URL.Path,
				}).Error("panic recovered")
				response.ServerError(c, "internal server error")
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuthMiddleware requires "Authorization: Bearer <token>" and stores the
// caller's current account in the context.
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}

		account, err := authService.Authenticate(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			var svcErr *service.ServiceError
			if errors.As(err, &svcErr) && svcErr.Code == service.ErrCodeUnauthorized {
				response.Unauthorized(c, svcErr.Message)
				return
			}
			response.ServerError(c, "failed to authenticate")
			return
		}

		c.Set(contextKeyAccount, account)
		c.Next()
	}
}

// currentAccount is only valid behind AuthMiddleware.
func currentAccount(c *gin.Context) *model.Account {
	return c.MustGet(contextKeyAccount).(*model.Account)
}
