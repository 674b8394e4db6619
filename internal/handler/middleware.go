package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/auth"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
	"go.uber.org/zap"
)

const (
	callerKey       = "caller"
	requestIDKey    = "requestId"
	signatureHeader = "X-Signature"
	timestampHeader = "X-Signature-Timestamp"
	nonceHeader     = "X-Signature-Nonce"
	requestIDHeader = "X-Request-ID"

	maxBodyBytes = 1 << 16
)

var validate = validator.New()

type Authenticator interface {
	Authenticate(ctx context.Context, token string, req auth.SignedRequest) (models.Caller, error)
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type BadRequestErrorResponse struct {
	Message string            `json:"message"`
	Details []ValidationError `json:"details"`
}

// RequestIDMiddleware tags every request with an id, reusing the client's if
// it sent one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
	}
}

// AuthMiddleware resolves the caller from the bearer token and, when present,
// the X-Signature over method, path, timestamp, nonce and raw body. The body
// is restored for the handler.
func AuthMiddleware(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			RespondWithError(c, http.StatusUnauthorized, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			RespondWithError(c, http.StatusUnauthorized, "Invalid authorization header format")
			c.Abort()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
			if err != nil {
				RespondWithError(c, http.StatusBadRequest, "Unreadable request body")
				c.Abort()
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		caller, err := authenticator.Authenticate(c.Request.Context(), parts[1], auth.SignedRequest{
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			Body:      body,
			Timestamp: c.GetHeader(timestampHeader),
			Nonce:     c.GetHeader(nonceHeader),
			Signature: c.GetHeader(signatureHeader),
		})
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				RespondWithError(c, http.StatusUnauthorized, "Invalid or expired token")
			case errors.Is(err, auth.ErrInvalidSignature):
				RespondWithError(c, http.StatusUnauthorized, "Invalid request signature")
			case errors.Is(err, auth.ErrStaleSignature):
				RespondWithError(c, http.StatusUnauthorized, "Request signature has expired")
			case errors.Is(err, auth.ErrReplayedSignature):
				RespondWithError(c, http.StatusUnauthorized, "Request signature was already used")
			default:
				RespondWithError(c, http.StatusInternalServerError, "Internal error")
			}
			c.Abort()
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

func GetCaller(c *gin.Context) (models.Caller, bool) {
	v, exists := c.Get(callerKey)
	if !exists {
		return models.Caller{}, false
	}
	caller, ok := v.(models.Caller)
	return caller, ok
}

func ValidateRequest(obj any) []ValidationError {
	var validationErrors []ValidationError

	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Message: err.Error(), Type: "invalid"}}
	}
	for _, err := range fieldErrs {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: getErrorMsg(err),
			Type:    err.Tag(),
		})
	}

	return validationErrors
}

func getErrorMsg(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "gt":
		return "Value must be greater than " + err.Param()
	default:
		return "Invalid value"
	}
}

func RespondWithValidationError(c *gin.Context, validationErrors []ValidationError) {
	c.JSON(http.StatusBadRequest, BadRequestErrorResponse{
		Message: "Invalid request data",
		Details: validationErrors,
	})
}

func RespondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"message": message,
	})
}
