package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"

	"github.com/yourusername/auth-gate/internal/config"
)

// cognitoAPI は利用する Cognito API のみを切り出したインターフェースです。
type cognitoAPI interface {
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, params *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	ResendConfirmationCode(ctx context.Context, params *cip.ResendConfirmationCodeInput, optFns ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error)
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	GetUser(ctx context.Context, params *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
	RevokeToken(ctx context.Context, params *cip.RevokeTokenInput, optFns ...func(*cip.Options)) (*cip.RevokeTokenOutput, error)
}

// Cognito は Amazon Cognito ユーザープールを使った IdentityProvider です。
// 呼び出すのは公開APIのみなので、AWS認証情報は不要です。
type Cognito struct {
	api          cognitoAPI
	clientID     string
	clientSecret string
	now          func() time.Time
}

// NewCognito は設定から Cognito クライアントを作成します。
func NewCognito(cfg *config.Config) (*Cognito, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.CognitoClientID == "" {
		return nil, errors.New("COGNITO_CLIENT_ID が設定されていません")
	}

	opts := cip.Options{
		Region:      cfg.AWSRegion,
		Credentials: aws.AnonymousCredentials{},
	}
	if cfg.CognitoEndpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.CognitoEndpoint)
	}

	return newCognito(cip.New(opts), cfg.CognitoClientID, cfg.CognitoClientSecret), nil
}

func newCognito(api cognitoAPI, clientID, clientSecret string) *Cognito {
	return &Cognito{
		api:          api,
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

// SignUp はユーザーを登録します。ユーザー名にはメールアドレスを使います。
func (p *Cognito) SignUp(ctx context.Context, username, password, email string) (*SignUpResult, error) {
	out, err := p.api.SignUp(ctx, &cip.SignUpInput{
		ClientId:   aws.String(p.clientID),
		Username:   aws.String(username),
		Password:   aws.String(password),
		SecretHash: p.secretHash(username),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
		},
	})
	if err != nil {
		return nil, wrapCognitoError(err)
	}

	result := &SignUpResult{
		UserID:    aws.ToString(out.UserSub),
		Confirmed: out.UserConfirmed,
		NextStep:  StepConfirmSignUp,
	}
	if out.UserConfirmed {
		result.NextStep = StepDone
	}
	return result, nil
}

// ConfirmSignUp は確認コードでメールアドレスを検証します。
func (p *Cognito) ConfirmSignUp(ctx context.Context, username, code string) error {
	_, err := p.api.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(p.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		SecretHash:       p.secretHash(username),
	})
	return wrapCognitoError(err)
}

// ResendSignUpCode は確認コードを再送します。
func (p *Cognito) ResendSignUpCode(ctx context.Context, username string) (*CodeDelivery, error) {
	out, err := p.api.ResendConfirmationCode(ctx, &cip.ResendConfirmationCodeInput{
		ClientId:   aws.String(p.clientID),
		Username:   aws.String(username),
		SecretHash: p.secretHash(username),
	})
	if err != nil {
		return nil, wrapCognitoError(err)
	}
	delivery := &CodeDelivery{}
	if d := out.CodeDeliveryDetails; d != nil {
		delivery.Destination = aws.ToString(d.Destination)
		delivery.Medium = string(d.DeliveryMedium)
	}
	return delivery, nil
}

// SignIn はユーザー名とパスワードでサインインします。
// 未確認ユーザーはエラーではなく CONFIRM_SIGN_UP の次ステップとして返します。
func (p *Cognito) SignIn(ctx context.Context, username, password string) (*SignInResult, error) {
	params := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	if hash := p.secretHash(username); hash != nil {
		params["SECRET_HASH"] = *hash
	}

	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		var notConfirmed *types.UserNotConfirmedException
		if errors.As(err, &notConfirmed) {
			return &SignInResult{NextStep: StepConfirmSignUp}, nil
		}
		return nil, wrapCognitoError(err)
	}

	if out.AuthenticationResult == nil {
		return &SignInResult{NextStep: signInStep(out.ChallengeName)}, nil
	}
	return &SignInResult{
		SignedIn: true,
		NextStep: StepDone,
		Tokens:   p.tokensFrom(out.AuthenticationResult, ""),
	}, nil
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得します。
func (p *Cognito) Refresh(ctx context.Context, username, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is empty", ErrNotAuthorized)
	}
	params := map[string]string{
		"REFRESH_TOKEN": refreshToken,
	}
	if hash := p.secretHash(username); hash != nil {
		params["SECRET_HASH"] = *hash
	}

	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, wrapCognitoError(err)
	}
	if out.AuthenticationResult == nil {
		return nil, fmt.Errorf("refresh returned challenge %q", out.ChallengeName)
	}
	// REFRESH_TOKEN_AUTH は新しいリフレッシュトークンを返さないので引き継ぐ
	return p.tokensFrom(out.AuthenticationResult, refreshToken), nil
}

// UserAttributes はアクセストークンの持ち主の属性を返します。
func (p *Cognito) UserAttributes(ctx context.Context, accessToken string) (map[string]string, error) {
	out, err := p.api.GetUser(ctx, &cip.GetUserInput{
		AccessToken: aws.String(accessToken),
	})
	if err != nil {
		return nil, wrapCognitoError(err)
	}
	attrs := make(map[string]string, len(out.UserAttributes)+1)
	for _, a := range out.UserAttributes {
		attrs[aws.ToString(a.Name)] = aws.ToString(a.Value)
	}
	if _, ok := attrs["username"]; !ok && out.Username != nil {
		attrs["username"] = aws.ToString(out.Username)
	}
	return attrs, nil
}

// RevokeToken はリフレッシュトークンと、それから発行されたトークンを失効させます。
func (p *Cognito) RevokeToken(ctx context.Context, refreshToken string) error {
	input := &cip.RevokeTokenInput{
		ClientId: aws.String(p.clientID),
		Token:    aws.String(refreshToken),
	}
	if p.clientSecret != "" {
		input.ClientSecret = aws.String(p.clientSecret)
	}
	_, err := p.api.RevokeToken(ctx, input)
	return wrapCognitoError(err)
}

func (p *Cognito) tokensFrom(r *types.AuthenticationResultType, refreshToken string) *Tokens {
	tokens := &Tokens{
		AccessToken:  aws.ToString(r.AccessToken),
		IDToken:      aws.ToString(r.IdToken),
		RefreshToken: aws.ToString(r.RefreshToken),
		ExpiresAt:    p.now().Add(time.Duration(r.ExpiresIn) * time.Second),
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens
}

// secretHash はクライアントシークレットがある場合のみ SECRET_HASH を計算します。
func (p *Cognito) secretHash(username string) *string {
	if p.clientSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(p.clientSecret))
	mac.Write([]byte(username + p.clientID))
	return aws.String(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func signInStep(challenge types.ChallengeNameType) string {
	switch challenge {
	case types.ChallengeNameTypeSmsMfa:
		return "CONFIRM_SIGN_IN_WITH_SMS_CODE"
	case types.ChallengeNameTypeSoftwareTokenMfa:
		return "CONFIRM_SIGN_IN_WITH_TOTP_CODE"
	case types.ChallengeNameTypeNewPasswordRequired:
		return "CONFIRM_SIGN_IN_WITH_NEW_PASSWORD_REQUIRED"
	case types.ChallengeNameTypeMfaSetup:
		return "CONTINUE_SIGN_IN_WITH_TOTP_SETUP"
	case types.ChallengeNameTypeSelectMfaType:
		return "CONTINUE_SIGN_IN_WITH_MFA_SELECTION"
	case types.ChallengeNameTypeCustomChallenge:
		return "CONFIRM_SIGN_IN_WITH_CUSTOM_CHALLENGE"
	case "":
		return "UNKNOWN"
	default:
		return string(challenge)
	}
}

func wrapCognitoError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Code:    apiErr.ErrorCode(),
			Message: apiErr.ErrorMessage(),
			Err:     err,
		}
	}
	return err
}
