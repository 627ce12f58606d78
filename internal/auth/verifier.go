package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/auth-gate/internal/session"
)

// refreshSkew はアクセストークンの期限切れ前に更新を始める余裕です。
const refreshSkew = 60 * time.Second

// CookieVerifier はサーバー描画のリクエスト向けの検証です。
// セッションCookieからトークン一式を取り出し、必要なら更新してから検証します。
type CookieVerifier struct {
	manager   *Manager
	validator TokenValidator
	timeout   time.Duration
	now       func() time.Time
}

// NewCookieVerifier は CookieVerifier を作成します。
func NewCookieVerifier(manager *Manager, validator TokenValidator) *CookieVerifier {
	return &CookieVerifier{
		manager:   manager,
		validator: validator,
		timeout:   manager.cfg.VerifyTimeout(),
		now:       time.Now,
	}
}

// Verify はセッションが有効かを返します。Cookie やセッションが無い場合はエラーなしで false です。
func (v *CookieVerifier) Verify(c *gin.Context) (bool, error) {
	id := sessionID(c)
	if id == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), v.timeout)
	defer cancel()

	bundle, err := v.manager.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if bundle == nil {
		return false, nil
	}

	if v.needsRefresh(bundle) {
		bundle, err = v.refresh(ctx, bundle)
		if err != nil {
			v.dropIfRevoked(ctx, id, err)
			return false, err
		}
	}

	attrs, err := v.validate(ctx, tokensOf(bundle))
	if err != nil {
		v.dropIfRevoked(ctx, id, err)
		return false, err
	}

	c.Set(ContextBundleKey, bundle)
	if attrs != nil {
		c.Set(ContextAttributesKey, attrs)
	}
	return true, nil
}

// validate は属性を返せる検証方式なら、その結果も返します。
func (v *CookieVerifier) validate(ctx context.Context, tokens *Tokens) (map[string]string, error) {
	if av, ok := v.validator.(attributeValidator); ok {
		return av.ValidateAttributes(ctx, tokens)
	}
	return nil, v.validator.Validate(ctx, tokens)
}

func (v *CookieVerifier) needsRefresh(bundle *session.Bundle) bool {
	if bundle.RefreshToken == "" || bundle.TokenExpiresAt.IsZero() {
		return false
	}
	return v.now().Add(refreshSkew).After(bundle.TokenExpiresAt)
}

func (v *CookieVerifier) refresh(ctx context.Context, bundle *session.Bundle) (*session.Bundle, error) {
	tokens, err := v.manager.provider.Refresh(ctx, bundle.Username, bundle.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh tokens: %w", err)
	}

	var updated session.Bundle
	err = v.manager.store.Update(ctx, bundle.ID, func(b *session.Bundle) {
		b.AccessToken = tokens.AccessToken
		b.IDToken = tokens.IDToken
		b.RefreshToken = tokens.RefreshToken
		b.TokenExpiresAt = tokens.ExpiresAt
		updated = *b
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}
	return &updated, nil
}

// dropIfRevoked は失効済みのセッションをストアから消し、以降の問い合わせを止めます。
func (v *CookieVerifier) dropIfRevoked(ctx context.Context, id string, err error) {
	if !errors.Is(err, ErrNotAuthorized) && !errors.Is(err, session.ErrNotFound) {
		return
	}
	if delErr := v.manager.store.Delete(ctx, id); delErr != nil {
		v.manager.logger.Printf("failed to drop revoked session id=%s: %v", id, delErr)
	}
}

// BearerVerifier はクライアント側から送られる Authorization: Bearer のアクセストークンを検証します。
type BearerVerifier struct {
	validator TokenValidator
	timeout   time.Duration
}

// ContextAccessTokenKey は検証済みのアクセストークンを共有するためのキーです。
const ContextAccessTokenKey = "auth.accessToken"

// NewBearerVerifier は BearerVerifier を作成します。
func NewBearerVerifier(validator TokenValidator, timeout time.Duration) *BearerVerifier {
	return &BearerVerifier{validator: validator, timeout: timeout}
}

// Verify はアクセストークンが有効かを返します。ヘッダーが無い場合はエラーなしで false です。
func (v *BearerVerifier) Verify(c *gin.Context) (bool, error) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), v.timeout)
	defer cancel()

	if err := v.validator.Validate(ctx, &Tokens{AccessToken: token}); err != nil {
		return false, err
	}
	c.Set(ContextAccessTokenKey, token)
	return true, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokensOf(bundle *session.Bundle) *Tokens {
	return &Tokens{
		AccessToken:  bundle.AccessToken,
		IDToken:      bundle.IDToken,
		RefreshToken: bundle.RefreshToken,
		ExpiresAt:    bundle.TokenExpiresAt,
	}
}
