package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nexusflow/backend/pkg/auth"
	"github.com/nexusflow/backend/pkg/constants"
)

// QueryParamToken carries the bearer token for clients that cannot set
// headers (EventSource).
const QueryParamToken = "access_token"

// RequireAuth is a middleware that validates JWT tokens
func RequireAuth(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, reason := bearerToken(c)
		if tokenString == "" {
			unauthorized(c, reason)
			return
		}

		claims, err := authenticator.ValidateToken(tokenString)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		// Set user session in context
		c.Set(constants.ContextKeyUser, claims.User)
		c.Set(constants.ContextKeyToken, tokenString)

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader(constants.HeaderAuthorization)
	if authHeader == "" {
		if token := c.Query(QueryParamToken); token != "" {
			return token, ""
		}
		return "", "No authorization token provided"
	}

	// Extract token (format: "Bearer <token>")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", "Invalid authorization header format"
	}
	return parts[1], ""
}

func unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		constants.ResponseError: "Unauthorized",
		constants.FieldMessage:  message,
		"code":                  "UNAUTHORIZED",
		"data":                  nil,
	})
	c.Abort()
}
