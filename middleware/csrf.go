package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CSRFCookie is the readable (non-httpOnly) cookie the client mirrors back
// in the CSRFHeader on state-changing requests.
const (
	CSRFCookie = "csrfToken"
	CSRFHeader = "x-csrf-token"
)

const csrfCookieTTL = 30 * 24 * time.Hour

// NewCSRFToken returns a fresh random token for the double-submit cookie.
func NewCSRFToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// IssueCSRF makes sure the client holds a double-submit cookie and returns
// its value. An existing cookie is reused so open tabs keep working; the
// cookie stays readable by script, that is the point of the pattern.
func IssueCSRF(c *gin.Context, secure bool) (string, error) {
	token, err := c.Cookie(CSRFCookie)
	if err != nil || token == "" {
		token, err = NewCSRFToken()
		if err != nil {
			return "", err
		}
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(csrfCookieTTL.Seconds()),
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// CSRF enforces the double-submit cookie pattern: for every method with side
// effects, the CSRFHeader value must equal the CSRFCookie value. Safe methods
// pass through untouched. The comparison is constant time; a missing cookie
// or header fails the same way as a mismatch.
func CSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		cookie, err := c.Cookie(CSRFCookie)
		if err != nil || cookie == "" {
			abortCSRF(c)
			return
		}
		header := c.GetHeader(CSRFHeader)
		if header == "" || !hmac.Equal([]byte(cookie), []byte(header)) {
			abortCSRF(c)
			return
		}

		c.Next()
	}
}

func abortCSRF(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
}
