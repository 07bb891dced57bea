package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/takahuman/authkit"
	"github.com/takahuman/authkit/middleware"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type passwordResetRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) signup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}
	if !s.allowIP(c, "signup") || !s.allowEmail(c, "signup", req.Email) {
		return
	}

	user, pair, err := s.engine.Signup(requestContext(c), req.Email, req.Password)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.setAuthCookies(c, pair)
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}
	if !s.allowIP(c, "login") || !s.allowEmail(c, "login", req.Email) {
		return
	}

	user, pair, err := s.engine.Login(requestContext(c), req.Email, req.Password)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (s *Server) refresh(c *gin.Context) {
	if !s.allowIP(c, "refresh") {
		return
	}

	refreshToken, err := c.Cookie(RefreshCookie)
	if err != nil || refreshToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	pair, err := s.engine.Refresh(requestContext(c), refreshToken)
	if err != nil {
		// Reuse and plain invalidity get the same surface; the session is
		// already dead either way.
		s.clearAuthCookies(c)
		s.writeError(c, err)
		return
	}

	s.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) logout(c *gin.Context) {
	if refreshToken, err := c.Cookie(RefreshCookie); err == nil {
		s.engine.Logout(requestContext(c), refreshToken)
	}
	s.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) me(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":    identity.UserID,
		"email": identity.Email,
	})
}

func (s *Server) csrf(c *gin.Context) {
	token, err := middleware.IssueCSRF(c, s.opts.SecureCookies)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

// passwordRequest always answers ok so responses carry no account-existence
// signal. The token, when one exists, goes out through the delivery hook.
func (s *Server) passwordRequest(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	ctx := requestContext(c)
	token, err := s.engine.RequestPasswordReset(ctx, req.Email)
	if err != nil {
		s.logger.Error("password reset request failed", zap.Error(err))
	}
	if token != "" {
		if s.opts.DeliverResetToken != nil {
			s.opts.DeliverResetToken(ctx, req.Email, token)
		} else {
			s.logger.Warn("password reset token dropped, no delivery hook configured")
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) passwordReset(c *gin.Context) {
	var req passwordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	if err := s.engine.ResetPassword(requestContext(c), req.Token, req.Password); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) verifyRequest(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := requestContext(c)
	token, err := s.engine.RequestEmailVerification(ctx, identity.UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.opts.DeliverVerifyToken != nil {
		s.opts.DeliverVerifyToken(ctx, identity.Email, token)
	} else {
		s.logger.Warn("verification token dropped, no delivery hook configured")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) verifyConfirm(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	if err := s.engine.ConfirmEmailVerification(requestContext(c), identity.UserID, req.Token); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) allowIP(c *gin.Context, route string) bool {
	if s.limiter.Allow(c.Request.Context(), route+":ip:"+c.ClientIP(), s.opts.IPWindow, s.opts.IPLimit) {
		return true
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	return false
}

func (s *Server) allowEmail(c *gin.Context, route, email string) bool {
	if s.limiter.Allow(c.Request.Context(), route+":email:"+email, s.opts.EmailWindow, s.opts.EmailLimit) {
		return true
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	return false
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, authkit.ErrInvalidCredentials), errors.Is(err, authkit.ErrUnauthorized),
		errors.Is(err, authkit.ErrRefreshReuse):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, authkit.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, authkit.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	case errors.Is(err, authkit.ErrTokenInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token"})
	case errors.Is(err, authkit.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// writeValidationError answers 400 with one entry per failed field. Values
// are never echoed back, only field names and the violated rule.
func writeValidationError(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "fields": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
}

func requestContext(c *gin.Context) context.Context {
	return authkit.WithClientIP(c.Request.Context(), c.ClientIP())
}
