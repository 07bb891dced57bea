package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/takahuman/authkit"
	"github.com/takahuman/authkit/middleware"
)

// RefreshCookie carries the refresh token. It is scoped to the refresh and
// logout paths in spirit but kept on / so a single clear works everywhere.
const RefreshCookie = "refresh_token"

func (s *Server) setAuthCookies(c *gin.Context, pair *authkit.TokenPair) {
	cfg := s.engine.Config()
	s.setCookie(c, middleware.AccessCookie, pair.Access, int(cfg.AccessTTL.Seconds()))
	s.setCookie(c, RefreshCookie, pair.Refresh, int(cfg.RefreshTTL.Seconds()))
}

func (s *Server) clearAuthCookies(c *gin.Context) {
	s.setCookie(c, middleware.AccessCookie, "", -1)
	s.setCookie(c, RefreshCookie, "", -1)
}

func (s *Server) setCookie(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   s.opts.SecureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
