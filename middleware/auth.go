package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/takahuman/authkit"
)

// AccessCookie is the cookie carrying the access token.
const AccessCookie = "access_token"

const identityKey = "authkit.identity"

// RequireAuth resolves the caller's identity from the access token cookie,
// falling back to an Authorization bearer header, and aborts with 401 when
// neither yields a valid token. On success the identity is stored in the gin
// context for Identity to read.
func RequireAuth(engine *authkit.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := accessToken(c)
		if !ok {
			abortUnauthorized(c)
			return
		}

		identity, err := engine.ValidateAccess(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// Identity returns the identity injected by RequireAuth.
func Identity(c *gin.Context) (*authkit.Identity, bool) {
	value, exists := c.Get(identityKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*authkit.Identity)
	return identity, ok
}

func accessToken(c *gin.Context) (string, bool) {
	if cookie, err := c.Cookie(AccessCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return bearerToken(c.GetHeader("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}
