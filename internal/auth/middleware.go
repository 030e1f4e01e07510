package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const serviceTokenContextKey = "auth_service_token"

// Service authenticates calling services against a static token list.
// Callers are trusted bot frontends, not end users, so there is no
// account lookup: a token either matches or it does not.
type Service struct {
	tokens []string
}

func NewService(tokens []string) *Service {
	return &Service{tokens: tokens}
}

// Middleware validates service tokens and stores the matched token in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		if !s.validate(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid service token"})
			return
		}
		c.Set(serviceTokenContextKey, token)
		c.Next()
	}
}

// ServiceTokenFromContext retrieves the token captured by the middleware.
func ServiceTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(serviceTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

func (s *Service) validate(token string) bool {
	for _, candidate := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return c.GetHeader("X-Service-Token")
}
