package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/takahuman/authkit"
	"github.com/takahuman/authkit/middleware"
	"github.com/takahuman/authkit/password"
	"github.com/takahuman/authkit/userstore/memory"
)

type testEnv struct {
	router *gin.Engine
	mr     *miniredis.Miniredis

	resetTokens  chan string
	verifyTokens chan string
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authkit.DefaultConfig()
	cfg.Secret = []byte("httpapi-test-secret-0123456789abcd")
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	engine, err := authkit.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.NewStore()).
		Build()
	require.NoError(t, err)

	env := &testEnv{
		mr:           mr,
		resetTokens:  make(chan string, 8),
		verifyTokens: make(chan string, 8),
	}
	opts := Options{
		DeliverResetToken: func(_ context.Context, _, token string) {
			env.resetTokens <- token
		},
		DeliverVerifyToken: func(_ context.Context, _, token string) {
			env.verifyTokens <- token
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.router = NewServer(engine, rdb, nil, opts).Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies []*http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signup(t *testing.T, email, pass string) []*http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/signup", gin.H{"email": email, "password": pass}, nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return rec.Result().Cookies()
}

// csrfPair fetches a double-submit cookie and returns it with the matching
// header map.
func (e *testEnv) csrfPair(t *testing.T) (*http.Cookie, map[string]string) {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/auth/csrf", nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cookie := findCookie(rec.Result().Cookies(), middleware.CSRFCookie)
	require.NotNil(t, cookie)
	return cookie, map[string]string{middleware.CSRFHeader: cookie.Value}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestSignupSetsSessionCookies(t *testing.T) {
	env := newTestEnv(t, nil)

	cookies := env.signup(t, "a@b.com", "hunter2hunter2")

	access := findCookie(cookies, middleware.AccessCookie)
	require.NotNil(t, access)
	require.True(t, access.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, access.SameSite)
	require.Equal(t, int((15 * time.Minute).Seconds()), access.MaxAge)

	refresh := findCookie(cookies, RefreshCookie)
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []gin.H{
		{"email": "not-an-email", "password": "hunter2hunter2"},
		{"email": "a@b.com", "password": "short"},
		{"password": "hunter2hunter2"},
		{"email": "a@b.com"},
	}
	for _, body := range cases {
		rec := env.do(t, http.MethodPost, "/auth/signup", body, nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %v", body)
	}
}

func TestSignupConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "a@b.com", "hunter2hunter2")

	rec := env.do(t, http.MethodPost, "/auth/signup", gin.H{"email": "a@b.com", "password": "hunter2hunter2"}, nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginAndMe(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "a@b.com", "hunter2hunter2")

	rec := env.do(t, http.MethodPost, "/auth/login", gin.H{"email": "a@b.com", "password": "hunter2hunter2"}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cookies := rec.Result().Cookies()
	me := env.do(t, http.MethodGet, "/auth/me", nil, cookies, nil)
	require.Equal(t, http.StatusOK, me.Code)
	require.Contains(t, me.Body.String(), "a@b.com")
}

func TestLoginBadPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "a@b.com", "hunter2hunter2")

	rec := env.do(t, http.MethodPost, "/auth/login", gin.H{"email": "a@b.com", "password": "wrong-password"}, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeWithoutCredentials(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/auth/me", nil, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRotatesAndReplayFails(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.signup(t, "a@b.com", "hunter2hunter2")
	original := findCookie(cookies, RefreshCookie)
	require.NotNil(t, original)

	rec := env.do(t, http.MethodPost, "/auth/refresh", nil, cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := findCookie(rec.Result().Cookies(), RefreshCookie)
	require.NotNil(t, rotated)
	require.NotEqual(t, original.Value, rotated.Value)

	// Replaying the consumed cookie is reuse: 401 and both cookies cleared.
	replay := env.do(t, http.MethodPost, "/auth/refresh", nil, []*http.Cookie{original}, nil)
	require.Equal(t, http.StatusUnauthorized, replay.Code)
	cleared := findCookie(replay.Result().Cookies(), middleware.AccessCookie)
	require.NotNil(t, cleared)
	require.Empty(t, cleared.Value)
	require.Negative(t, cleared.MaxAge)
}

func TestRefreshWithoutCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/auth/refresh", nil, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRequiresCSRF(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.signup(t, "a@b.com", "hunter2hunter2")

	rec := env.do(t, http.MethodPost, "/auth/logout", nil, cookies, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.signup(t, "a@b.com", "hunter2hunter2")
	csrfCookie, csrfHeader := env.csrfPair(t)
	cookies = append(cookies, csrfCookie)

	rec := env.do(t, http.MethodPost, "/auth/logout", nil, cookies, csrfHeader)
	require.Equal(t, http.StatusOK, rec.Code)

	// The refresh cookie is now useless.
	refresh := env.do(t, http.MethodPost, "/auth/refresh", nil, cookies, nil)
	require.Equal(t, http.StatusUnauthorized, refresh.Code)

	// Logout again with nothing left still succeeds.
	again := env.do(t, http.MethodPost, "/auth/logout", nil, []*http.Cookie{csrfCookie}, csrfHeader)
	require.Equal(t, http.StatusOK, again.Code)
}

func TestPasswordResetEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "a@b.com", "old-password-1")
	csrfCookie, csrfHeader := env.csrfPair(t)

	rec := env.do(t, http.MethodPost, "/auth/password/request", gin.H{"email": "a@b.com"}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var token string
	select {
	case token = <-env.resetTokens:
	default:
		t.Fatal("no reset token delivered")
	}

	reset := env.do(t, http.MethodPost, "/auth/password/reset",
		gin.H{"token": token, "password": "new-password-1"},
		[]*http.Cookie{csrfCookie}, csrfHeader)
	require.Equal(t, http.StatusOK, reset.Code, reset.Body.String())

	old := env.do(t, http.MethodPost, "/auth/login", gin.H{"email": "a@b.com", "password": "old-password-1"}, nil, nil)
	require.Equal(t, http.StatusUnauthorized, old.Code)
	fresh := env.do(t, http.MethodPost, "/auth/login", gin.H{"email": "a@b.com", "password": "new-password-1"}, nil, nil)
	require.Equal(t, http.StatusOK, fresh.Code)
}

func TestPasswordRequestUnknownEmailIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/auth/password/request", gin.H{"email": "ghost@b.com"}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, env.resetTokens)
}

func TestPasswordResetBadToken(t *testing.T) {
	env := newTestEnv(t, nil)
	csrfCookie, csrfHeader := env.csrfPair(t)

	rec := env.do(t, http.MethodPost, "/auth/password/reset",
		gin.H{"token": "garbage", "password": "new-password-1"},
		[]*http.Cookie{csrfCookie}, csrfHeader)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmailVerificationEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.signup(t, "a@b.com", "hunter2hunter2")
	csrfCookie, csrfHeader := env.csrfPair(t)
	cookies = append(cookies, csrfCookie)

	rec := env.do(t, http.MethodPost, "/auth/verify/request", nil, cookies, csrfHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var token string
	select {
	case token = <-env.verifyTokens:
	default:
		t.Fatal("no verification token delivered")
	}

	confirm := env.do(t, http.MethodPost, "/auth/verify/confirm", gin.H{"token": token}, cookies, csrfHeader)
	require.Equal(t, http.StatusOK, confirm.Code, confirm.Body.String())
}

func TestVerifyRequestNeedsAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	csrfCookie, csrfHeader := env.csrfPair(t)

	rec := env.do(t, http.MethodPost, "/auth/verify/request", nil, []*http.Cookie{csrfCookie}, csrfHeader)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIPWindowLimitsCredentialRoutes(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		opts.IPLimit = 3
		opts.IPWindow = time.Minute
	})

	body := gin.H{"email": "a@b.com", "password": "wrong-password"}
	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/auth/login", body, nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "request %d", i)
	}
	rec := env.do(t, http.MethodPost, "/auth/login", body, nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// The window is per route: signup still has its own budget.
	signup := env.do(t, http.MethodPost, "/auth/signup", gin.H{"email": "b@b.com", "password": "hunter2hunter2"}, nil, nil)
	require.Equal(t, http.StatusCreated, signup.Code)

	env.mr.FastForward(2 * time.Minute)
	after := env.do(t, http.MethodPost, "/auth/login", body, nil, nil)
	require.Equal(t, http.StatusUnauthorized, after.Code)
}

func TestCSRFEndpointReusesCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	first, header := env.csrfPair(t)
	rec := env.do(t, http.MethodGet, "/auth/csrf", nil, []*http.Cookie{first}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := findCookie(rec.Result().Cookies(), middleware.CSRFCookie)
	require.NotNil(t, second)
	require.Equal(t, first.Value, second.Value)
	require.Equal(t, first.Value, header[middleware.CSRFHeader])
}
