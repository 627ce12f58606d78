package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// idClaims は ID トークンから読み出す項目です。
type idClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Username string `json:"cognito:username"`
	TokenUse string `json:"token_use"`
}

// readClaims は署名を検証せずにクレームを読み出します。
// 検証は TokenValidator の責務で、ここではセッションの表示名などに使うだけです。
func readClaims(raw string) (*idClaims, error) {
	var claims idClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}
	return &claims, nil
}

// usernameOf はトークンからユーザー名を取り出します。リフレッシュ時の SECRET_HASH に必要です。
func usernameOf(tokens *Tokens, fallback string) string {
	if tokens == nil || tokens.IDToken == "" {
		return fallback
	}
	claims, err := readClaims(tokens.IDToken)
	if err != nil {
		return fallback
	}
	switch {
	case claims.Username != "":
		return claims.Username
	case claims.Subject != "":
		return claims.Subject
	default:
		return fallback
	}
}
