package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/erp/woosync/internal/infrastructure/auth"
	"github.com/erp/woosync/internal/interfaces/http/dto"
)

const (
	// AuthSubjectKey is the gin context key holding the token subject
	AuthSubjectKey = "auth_subject"
	authHeaderKey  = "Authorization"
	bearerPrefix   = "Bearer "
)

// TokenValidator validates a bearer token and returns its claims
type TokenValidator interface {
	ValidateToken(token string) (*jwt.RegisteredClaims, error)
}

// JWTAuth rejects requests without a valid bearer token. A nil validator
// disables authentication.
func JWTAuth(validator TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	if validator == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		header := c.GetHeader(authHeaderKey)
		if header == "" {
			abortUnauthorized(c, logger, auth.ErrInvalidToken, "Missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, bearerPrefix)
		if !ok || token == "" {
			abortUnauthorized(c, logger, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			abortUnauthorized(c, logger, err, "Token validation failed")
			return
		}

		c.Set(AuthSubjectKey, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, logger *zap.Logger, err error, reason string) {
	logger.Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("reason", reason),
		zap.String("path", c.Request.URL.Path),
	)

	message := "Authentication required"
	if errors.Is(err, auth.ErrExpiredToken) {
		message = "Token has expired"
	}
	c.Header("WWW-Authenticate", `Bearer realm="woosync"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponse(dto.ErrCodeUnauthorized, message, GetRequestID(c)))
}
