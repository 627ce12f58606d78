package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// TokenValidator はトークン一式が現在も有効かを確認します。
type TokenValidator interface {
	Validate(ctx context.Context, tokens *Tokens) error
}

// RemoteValidator はアクセストークンで GetUser を呼び出し、外部サービスに有効性を問い合わせます。
// サーバー側で失効させたトークンも検出できます。
type RemoteValidator struct {
	provider IdentityProvider
}

// NewRemoteValidator は RemoteValidator を作成します。
func NewRemoteValidator(provider IdentityProvider) *RemoteValidator {
	return &RemoteValidator{provider: provider}
}

// attributeValidator は検証のついでにユーザー属性も返せる TokenValidator です。
type attributeValidator interface {
	ValidateAttributes(ctx context.Context, tokens *Tokens) (map[string]string, error)
}

// Validate はアクセストークンを外部サービスで確認します。
func (v *RemoteValidator) Validate(ctx context.Context, tokens *Tokens) error {
	_, err := v.ValidateAttributes(ctx, tokens)
	return err
}

// ValidateAttributes は Validate と同じ確認を行い、取得したユーザー属性を返します。
func (v *RemoteValidator) ValidateAttributes(ctx context.Context, tokens *Tokens) (map[string]string, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is empty", ErrNotAuthorized)
	}
	return v.provider.UserAttributes(ctx, tokens.AccessToken)
}

// JWKSValidator はユーザープールの公開鍵でトークンの署名と有効期限を確認します。
type JWKSValidator struct {
	clientID       string
	idVerifier     *oidc.IDTokenVerifier
	accessVerifier *oidc.IDTokenVerifier
}

// NewJWKSValidator は issuer の JWKS を参照する JWKSValidator を作成します。
// ctx は鍵の取得に使われ続けるため、プロセスの寿命と同じものを渡します。
func NewJWKSValidator(ctx context.Context, issuer, clientID string) *JWKSValidator {
	keySet := oidc.NewRemoteKeySet(ctx, issuer+"/.well-known/jwks.json")
	return newJWKSValidator(issuer, clientID, keySet)
}

func newJWKSValidator(issuer, clientID string, keySet oidc.KeySet) *JWKSValidator {
	return &JWKSValidator{
		clientID:   clientID,
		idVerifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID}),
		// アクセストークンには aud が無いので client_id クレームを別途確認する
		accessVerifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{SkipClientIDCheck: true}),
	}
}

// Validate は ID トークンがあればそれを、なければアクセストークンを検証します。
func (v *JWKSValidator) Validate(ctx context.Context, tokens *Tokens) error {
	if tokens == nil {
		return fmt.Errorf("%w: no tokens", ErrNotAuthorized)
	}

	if tokens.IDToken != "" {
		token, err := v.idVerifier.Verify(ctx, tokens.IDToken)
		if err != nil {
			return fmt.Errorf("%w: id token: %v", ErrNotAuthorized, err)
		}
		var claims struct {
			TokenUse string `json:"token_use"`
		}
		if err := token.Claims(&claims); err != nil {
			return err
		}
		if claims.TokenUse != "id" {
			return fmt.Errorf("%w: unexpected token_use %q", ErrNotAuthorized, claims.TokenUse)
		}
		return nil
	}

	if tokens.AccessToken == "" {
		return fmt.Errorf("%w: access token is empty", ErrNotAuthorized)
	}
	token, err := v.accessVerifier.Verify(ctx, tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("%w: access token: %v", ErrNotAuthorized, err)
	}
	var claims struct {
		TokenUse string `json:"token_use"`
		ClientID string `json:"client_id"`
	}
	if err := token.Claims(&claims); err != nil {
		return err
	}
	if claims.TokenUse != "access" {
		return fmt.Errorf("%w: unexpected token_use %q", ErrNotAuthorized, claims.TokenUse)
	}
	if claims.ClientID != v.clientID {
		return fmt.Errorf("%w: token issued for client %q", ErrNotAuthorized, claims.ClientID)
	}
	return nil
}
