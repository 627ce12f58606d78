// Package auth は外部認証サービス（Cognito）を使ったサインアップ／サインイン／サインアウトと、
// セッション検証を提供します。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/auth-gate/internal/config"
	"github.com/yourusername/auth-gate/internal/session"
)

const (
	SessionCookieName = "ag_session"
	sessionKeyID      = "sid"
	sessionKeyCSRF    = "csrf_token"

	csrfHeader    = "X-CSRF-Token"
	csrfFormField = "csrf_token"
)

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

// ContextBundleKey は検証済みのセッションをハンドラー間で共有するためのキーです。
const ContextBundleKey = "auth.bundle"

// ContextAttributesKey は検証時に取得したユーザー属性を共有するためのキーです。
const ContextAttributesKey = "auth.attributes"

// Revoker はサインアウト時のトークン失効を受け付けます。
type Revoker interface {
	ScheduleRevocation(ctx context.Context, refreshToken string) error
}

// LockoutError はサインイン試行回数の上限に達した場合のエラーです。
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("too many sign-in attempts, retry after %s", e.RetryAfter)
}

// RetryAfterHeader は Retry-After ヘッダーの値を秒数で返します。
func (e *LockoutError) RetryAfterHeader() string {
	secs := int64(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds(cfg *config.Config) int {
	return int(cfg.SessionTTL().Seconds())
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	cfg      *config.Config
	provider IdentityProvider
	store    session.Store
	revoker  Revoker
	logger   *log.Logger

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, provider IdentityProvider, store session.Store, revoker Revoker, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if provider == nil {
		return nil, errors.New("provider is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:      cfg,
		provider: provider,
		store:    store,
		revoker:  revoker,
		logger:   logger,
		attempts: make(map[string]*attemptState),
	}, nil
}

// Provider は外部認証サービスを返します。
func (m *Manager) Provider() IdentityProvider {
	return m.provider
}

// Store はセッションストアを返します。
func (m *Manager) Store() session.Store {
	return m.store
}

// CSRFToken は現在のセッションの CSRF トークンを返します。無ければ発行して保存します。
func (m *Manager) CSRFToken(c *gin.Context) (string, error) {
	sess := sessions.Default(c)
	if token, ok := sess.Get(sessionKeyCSRF).(string); ok && token != "" {
		return token, nil
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	sess.Set(sessionKeyCSRF, token)
	if err := sess.Save(); err != nil {
		return "", err
	}
	return token, nil
}

// startSession はトークン一式を保存し、セッションIDをクッキーに書き込みます。
func (m *Manager) startSession(c *gin.Context, username string, tokens *Tokens) error {
	bundle := &session.Bundle{
		ID:             session.NewID(),
		Username:       usernameOf(tokens, username),
		AccessToken:    tokens.AccessToken,
		IDToken:        tokens.IDToken,
		RefreshToken:   tokens.RefreshToken,
		TokenExpiresAt: tokens.ExpiresAt,
	}
	if err := m.store.Save(c.Request.Context(), bundle); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	// セッション固定化を避けるため CSRF トークンも作り直す
	csrf, err := generateToken()
	if err != nil {
		_ = m.store.Delete(c.Request.Context(), bundle.ID)
		return err
	}

	sess := sessions.Default(c)
	if old, ok := sess.Get(sessionKeyID).(string); ok && old != "" {
		_ = m.store.Delete(c.Request.Context(), old)
	}
	sess.Set(sessionKeyID, bundle.ID)
	sess.Set(sessionKeyCSRF, csrf)
	if err := sess.Save(); err != nil {
		_ = m.store.Delete(c.Request.Context(), bundle.ID)
		return fmt.Errorf("failed to save session cookie: %w", err)
	}
	c.Header(csrfHeader, csrf)
	return nil
}

// endSession はセッションを削除し、保存されていたトークン一式を返します。
func (m *Manager) endSession(c *gin.Context) (*session.Bundle, error) {
	sess := sessions.Default(c)
	id, _ := sess.Get(sessionKeyID).(string)

	var bundle *session.Bundle
	if id != "" && session.ValidID(id) {
		var err error
		bundle, err = m.store.Get(c.Request.Context(), id)
		if err != nil {
			return nil, err
		}
		if err := m.store.Delete(c.Request.Context(), id); err != nil {
			return nil, err
		}
	}

	sess.Clear()
	sess.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := sess.Save(); err != nil {
		return nil, err
	}
	return bundle, nil
}

// sessionID はクッキーに保存されたセッションIDを返します。
func sessionID(c *gin.Context) string {
	id, _ := sessions.Default(c).Get(sessionKeyID).(string)
	if !session.ValidID(id) {
		return ""
	}
	return id
}

// BundleFromContext は検証済みのセッションを返します。
func BundleFromContext(c *gin.Context) (*session.Bundle, bool) {
	v, ok := c.Get(ContextBundleKey)
	if !ok {
		return nil, false
	}
	bundle, ok := v.(*session.Bundle)
	return bundle, ok && bundle != nil
}

// AttributesFromContext は検証時に取得済みのユーザー属性を返します。
func AttributesFromContext(c *gin.Context) (map[string]string, bool) {
	v, ok := c.Get(ContextAttributesKey)
	if !ok {
		return nil, false
	}
	attrs, ok := v.(map[string]string)
	return attrs, ok
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := time.Now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return time.Until(state.lockedUntil)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := time.Now()
	state, ok := m.attempts[ip]
	// ロックが明けたら新しい集計期間として数え直す
	expired := ok && !state.lockedUntil.IsZero() && !now.Before(state.lockedUntil)
	if !ok || expired || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
