package auth

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/auth-gate/internal/config"
	"github.com/yourusername/auth-gate/internal/session"
)

type stubProvider struct {
	mu sync.Mutex

	signUpResult *SignUpResult
	signUpErr    error
	confirmErr   error
	resendErr    error
	signInResult *SignInResult
	signInErr    error
	refreshed    *Tokens
	refreshErr   error
	attrs        map[string]string
	attrsErr     error
	revokeErr    error

	signInCalls  int
	refreshCalls int
	attrsCalls   int
	revoked      []string
}

func (s *stubProvider) SignUp(ctx context.Context, username, password, email string) (*SignUpResult, error) {
	return s.signUpResult, s.signUpErr
}

func (s *stubProvider) ConfirmSignUp(ctx context.Context, username, code string) error {
	return s.confirmErr
}

func (s *stubProvider) ResendSignUpCode(ctx context.Context, username string) (*CodeDelivery, error) {
	if s.resendErr != nil {
		return nil, s.resendErr
	}
	return &CodeDelivery{Destination: "a***@example.com", Medium: "EMAIL"}, nil
}

func (s *stubProvider) SignIn(ctx context.Context, username, password string) (*SignInResult, error) {
	s.mu.Lock()
	s.signInCalls++
	s.mu.Unlock()
	return s.signInResult, s.signInErr
}

func (s *stubProvider) Refresh(ctx context.Context, username, refreshToken string) (*Tokens, error) {
	s.mu.Lock()
	s.refreshCalls++
	s.mu.Unlock()
	return s.refreshed, s.refreshErr
}

func (s *stubProvider) UserAttributes(ctx context.Context, accessToken string) (map[string]string, error) {
	s.mu.Lock()
	s.attrsCalls++
	s.mu.Unlock()
	return s.attrs, s.attrsErr
}

func (s *stubProvider) RevokeToken(ctx context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, refreshToken)
	return s.revokeErr
}

type recordingRevoker struct {
	tokens []string
	err    error
}

func (r *recordingRevoker) ScheduleRevocation(ctx context.Context, refreshToken string) error {
	r.tokens = append(r.tokens, refreshToken)
	return r.err
}

func testConfig() *config.Config {
	return &config.Config{
		GinMode:              gin.TestMode,
		SessionSecret:        "test-secret",
		SessionTTLHours:      1,
		AWSRegion:            "ap-northeast-1",
		CognitoUserPoolID:    "ap-northeast-1_pool",
		CognitoClientID:      "client",
		VerifyMode:           config.VerifyModeRemote,
		VerifyTimeoutSeconds: 5,
	}
}

func newTestManager(t *testing.T, provider IdentityProvider) (*Manager, *session.MemoryStore, *recordingRevoker) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	revoker := &recordingRevoker{}
	m, err := NewManager(testConfig(), provider, store, revoker, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return m, store, revoker
}

func signedInProvider() *stubProvider {
	return &stubProvider{
		signInResult: &SignInResult{
			SignedIn: true,
			NextStep: StepDone,
			Tokens: &Tokens{
				AccessToken:  "access",
				IDToken:      "",
				RefreshToken: "refresh",
				ExpiresAt:    time.Now().Add(time.Hour),
			},
		},
		attrs: map[string]string{"email": "a@example.com"},
	}
}

// newTestRouter は Cookie セッションを有効にしたルーターを返します。
func newTestRouter(m *Manager, verifier *CookieVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(sessions.Sessions(SessionCookieName, cookie.NewStore([]byte("test-secret"))))

	router.POST("/api/auth/signup", m.SignUpHandler)
	router.POST("/api/auth/confirm", m.ConfirmSignUpHandler)
	router.POST("/api/auth/resend", m.ResendCodeHandler)
	router.POST("/api/auth/signin", m.SignInHandler)
	router.POST("/api/auth/signout", m.VerifyCSRF(), m.SignOutHandler)
	router.GET("/api/config", m.ConfigHandler)
	if verifier != nil {
		router.GET("/api/auth/session", m.SessionHandler(verifier))
	}
	return router
}

func postJSON(router http.Handler, path, body string, cookies []*http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func get(router http.Handler, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}
