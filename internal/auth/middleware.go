package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// Require enforces bearer JWT tokens signed with HS256 and stores the claims
// on the request context.
func Require(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole rejects callers whose token carries a different role. Must run
// after Require.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerFrom(c).Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// CallerFrom returns the validated claims for the request, or zero claims
// when the request skipped Require.
func CallerFrom(c *gin.Context) Claims {
	claimsAny, _ := c.Get(claimsKey)
	claims, _ := claimsAny.(Claims)
	return claims
}
