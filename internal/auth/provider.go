package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// 次のステップ
const (
	StepDone          = "DONE"
	StepConfirmSignUp = "CONFIRM_SIGN_UP"
)

// ErrNotAuthorized は資格情報やトークンが無効・期限切れ・失効済みの場合に返します。
var ErrNotAuthorized = errors.New("not authorized")

// Tokens は外部認証サービスが発行するトークン一式です。
type Tokens struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// SignUpResult はサインアップ結果です。
type SignUpResult struct {
	UserID    string
	Confirmed bool
	NextStep  string
}

// SignInResult はサインイン結果です。SignedIn が false の場合は NextStep を確認します。
type SignInResult struct {
	SignedIn bool
	NextStep string
	Tokens   *Tokens
}

// CodeDelivery は確認コードの送付先です。
type CodeDelivery struct {
	Destination string
	Medium      string
}

// IdentityProvider は外部認証サービスへの呼び出しをまとめたインターフェースです。
// パスワード検証やメール送信などはすべてサービス側の責務です。
type IdentityProvider interface {
	SignUp(ctx context.Context, username, password, email string) (*SignUpResult, error)
	ConfirmSignUp(ctx context.Context, username, code string) error
	ResendSignUpCode(ctx context.Context, username string) (*CodeDelivery, error)
	SignIn(ctx context.Context, username, password string) (*SignInResult, error)
	Refresh(ctx context.Context, username, refreshToken string) (*Tokens, error)
	UserAttributes(ctx context.Context, accessToken string) (map[string]string, error)
	RevokeToken(ctx context.Context, refreshToken string) error
}

// ProviderError は外部認証サービスが返したエラーです。
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is は失効・期限切れ系のエラーを ErrNotAuthorized と同一視します。
func (e *ProviderError) Is(target error) bool {
	return target == ErrNotAuthorized && e.Code == "NotAuthorizedException"
}

// MessageOf はユーザーに表示するメッセージを返します。
// 外部サービスのメッセージがあればそれを、なければ fallback を使います。
func MessageOf(err error, fallback string) string {
	var perr *ProviderError
	if errors.As(err, &perr) && strings.TrimSpace(perr.Message) != "" {
		return perr.Message
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return fallback
}

// ValidationError は入力値の不備を表します。外部サービスは呼び出しません。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
