package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cellvault/internal/identity"
)

const identityKey = "cellvault_identity"

// SetIdentity stores id in the gin context and the request context.
func SetIdentity(c *gin.Context, id identity.Identity) {
	c.Set(identityKey, id)
	c.Request = c.Request.WithContext(identity.WithIdentity(c.Request.Context(), id))
}

// GetIdentity returns the resolved identity or identity.Anonymous.
func GetIdentity(c *gin.Context) identity.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(identity.Identity); ok {
			return id
		}
	}
	return identity.Anonymous
}

// AuthMiddleware resolves the bearer token once per request. Missing or
// unknown tokens proceed as anonymous; a failing resolver aborts with 401.
func AuthMiddleware(resolver identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if resolver == nil {
			SetIdentity(c, identity.Anonymous)
			c.Next()
			return
		}
		id, err := resolver.Resolve(c.Request.Context(), extractBearerToken(c))
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		SetIdentity(c, id)
		c.Next()
	}
}

// RequireAuthenticated rejects anonymous callers.
func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetIdentity(c).Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "kind": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		switch {
		case !id.Authenticated():
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "kind": "unauthorized"})
		case !id.IsAdmin():
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required", "kind": "forbidden"})
		default:
			c.Next()
		}
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is missing or uses another scheme.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
