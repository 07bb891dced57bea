package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/takahuman/authkit"
	"github.com/takahuman/authkit/internal/rate"
	"github.com/takahuman/authkit/middleware"
)

// Options tunes the HTTP layer. The zero value is completed by NewServer.
type Options struct {
	// SecureCookies marks all cookies Secure. On in production, off only
	// for plain-http local development.
	SecureCookies bool

	// Tight per-IP window on the credential endpoints.
	IPLimit  int
	IPWindow time.Duration

	// Wider per-email window on signup and login.
	EmailLimit  int
	EmailWindow time.Duration

	// DeliverResetToken and DeliverVerifyToken hand one-time tokens to the
	// mail pipeline. Tokens are dropped (and the event logged) when nil;
	// they are never written into a response body.
	DeliverResetToken  func(ctx context.Context, email, token string)
	DeliverVerifyToken func(ctx context.Context, email, token string)
}

func (o Options) withDefaults() Options {
	if o.IPLimit == 0 {
		o.IPLimit = 15
	}
	if o.IPWindow == 0 {
		o.IPWindow = time.Minute
	}
	if o.EmailLimit == 0 {
		o.EmailLimit = 50
	}
	if o.EmailWindow == 0 {
		o.EmailWindow = 15 * time.Minute
	}
	return o
}

// Server wires handlers, middleware, and the per-route limiter around one
// Engine.
type Server struct {
	engine  *authkit.Engine
	limiter *rate.Limiter
	logger  *zap.Logger
	opts    Options
}

// NewServer builds the HTTP layer. The Redis client backs the per-route
// request limiter; it is usually the same client the Engine was built with.
func NewServer(engine *authkit.Engine, redisClient redis.UniversalClient, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:  engine,
		limiter: rate.NewLimiter(redisClient, logger),
		logger:  logger,
		opts:    opts.withDefaults(),
	}
}

// Router returns a gin engine with the /auth route group mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	s.Mount(router)
	return router
}

// Mount registers the auth routes on an existing router.
//
// The credential endpoints (signup, login, refresh) carry no CSRF guard: the
// browser holds no session cookie yet, and the double-submit cookie may not
// exist. Everything else with side effects is guarded.
func (s *Server) Mount(router *gin.Engine) {
	csrf := middleware.CSRF()
	authed := middleware.RequireAuth(s.engine)

	auth := router.Group("/auth")
	auth.POST("/signup", s.signup)
	auth.POST("/login", s.login)
	auth.POST("/refresh", s.refresh)
	auth.POST("/logout", csrf, s.logout)
	auth.GET("/me", authed, s.me)
	auth.GET("/csrf", s.csrf)
	auth.POST("/password/request", s.passwordRequest)
	auth.POST("/password/reset", csrf, s.passwordReset)
	auth.POST("/verify/request", authed, csrf, s.verifyRequest)
	auth.POST("/verify/confirm", authed, csrf, s.verifyConfirm)
}
