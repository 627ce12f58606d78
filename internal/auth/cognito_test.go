package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/go-test/deep"
)

type fakeCognito struct {
	signUpIn   *cip.SignUpInput
	signUpOut  *cip.SignUpOutput
	confirmIn  *cip.ConfirmSignUpInput
	resendOut  *cip.ResendConfirmationCodeOutput
	authIn     *cip.InitiateAuthInput
	authOut    *cip.InitiateAuthOutput
	getUserOut *cip.GetUserOutput
	revokeIn   *cip.RevokeTokenInput
	err        error
}

func (f *fakeCognito) SignUp(ctx context.Context, in *cip.SignUpInput, _ ...func(*cip.Options)) (*cip.SignUpOutput, error) {
	f.signUpIn = in
	return f.signUpOut, f.err
}

func (f *fakeCognito) ConfirmSignUp(ctx context.Context, in *cip.ConfirmSignUpInput, _ ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error) {
	f.confirmIn = in
	return &cip.ConfirmSignUpOutput{}, f.err
}

func (f *fakeCognito) ResendConfirmationCode(ctx context.Context, in *cip.ResendConfirmationCodeInput, _ ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error) {
	return f.resendOut, f.err
}

func (f *fakeCognito) InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, _ ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.authIn = in
	return f.authOut, f.err
}

func (f *fakeCognito) GetUser(ctx context.Context, in *cip.GetUserInput, _ ...func(*cip.Options)) (*cip.GetUserOutput, error) {
	return f.getUserOut, f.err
}

func (f *fakeCognito) RevokeToken(ctx context.Context, in *cip.RevokeTokenInput, _ ...func(*cip.Options)) (*cip.RevokeTokenOutput, error) {
	f.revokeIn = in
	return &cip.RevokeTokenOutput{}, f.err
}

func fixedNow() time.Time {
	return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestCognitoSignUp(t *testing.T) {
	fake := &fakeCognito{signUpOut: &cip.SignUpOutput{UserSub: aws.String("sub-1")}}
	p := newCognito(fake, "client", "")

	res, err := p.SignUp(context.Background(), "a@example.com", "Passw0rd!", "a@example.com")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	want := &SignUpResult{UserID: "sub-1", NextStep: StepConfirmSignUp}
	if diff := deep.Equal(res, want); diff != nil {
		t.Fatal(diff)
	}
	if fake.signUpIn.SecretHash != nil {
		t.Fatal("secret hash must be omitted without client secret")
	}
	if len(fake.signUpIn.UserAttributes) != 1 || aws.ToString(fake.signUpIn.UserAttributes[0].Name) != "email" {
		t.Fatalf("unexpected attributes: %#v", fake.signUpIn.UserAttributes)
	}
}

func TestCognitoSecretHash(t *testing.T) {
	fake := &fakeCognito{}
	p := newCognito(fake, "client", "s3cret")

	if err := p.ConfirmSignUp(context.Background(), "a@example.com", "123456"); err != nil {
		t.Fatalf("ConfirmSignUp returned error: %v", err)
	}
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte("a@example.comclient"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if got := aws.ToString(fake.confirmIn.SecretHash); got != want {
		t.Fatalf("SecretHash = %q, want %q", got, want)
	}
}

func TestCognitoSignInSuccess(t *testing.T) {
	fake := &fakeCognito{authOut: &cip.InitiateAuthOutput{
		AuthenticationResult: &types.AuthenticationResultType{
			AccessToken:  aws.String("access"),
			IdToken:      aws.String("id"),
			RefreshToken: aws.String("refresh"),
			ExpiresIn:    3600,
		},
	}}
	p := newCognito(fake, "client", "")
	p.now = fixedNow

	res, err := p.SignIn(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	want := &SignInResult{
		SignedIn: true,
		NextStep: StepDone,
		Tokens: &Tokens{
			AccessToken:  "access",
			IDToken:      "id",
			RefreshToken: "refresh",
			ExpiresAt:    fixedNow().Add(time.Hour),
		},
	}
	if diff := deep.Equal(res, want); diff != nil {
		t.Fatal(diff)
	}
	if fake.authIn.AuthFlow != types.AuthFlowTypeUserPasswordAuth {
		t.Fatalf("unexpected auth flow: %s", fake.authIn.AuthFlow)
	}
}

func TestCognitoSignInChallenge(t *testing.T) {
	fake := &fakeCognito{authOut: &cip.InitiateAuthOutput{ChallengeName: types.ChallengeNameTypeNewPasswordRequired}}
	p := newCognito(fake, "client", "")

	res, err := p.SignIn(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	if res.SignedIn || res.NextStep != "CONFIRM_SIGN_IN_WITH_NEW_PASSWORD_REQUIRED" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestCognitoSignInUnconfirmedUser(t *testing.T) {
	fake := &fakeCognito{err: &types.UserNotConfirmedException{Message: aws.String("User is not confirmed.")}}
	p := newCognito(fake, "client", "")

	res, err := p.SignIn(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	if res.SignedIn || res.NextStep != StepConfirmSignUp {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestCognitoSignInWrongPassword(t *testing.T) {
	fake := &fakeCognito{err: &types.NotAuthorizedException{Message: aws.String("Incorrect username or password.")}}
	p := newCognito(fake, "client", "")

	_, err := p.SignIn(context.Background(), "a@example.com", "bad")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if msg := MessageOf(err, "Failed to sign in"); msg != "Incorrect username or password." {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestCognitoRefreshKeepsRefreshToken(t *testing.T) {
	fake := &fakeCognito{authOut: &cip.InitiateAuthOutput{
		AuthenticationResult: &types.AuthenticationResultType{
			AccessToken: aws.String("access-2"),
			IdToken:     aws.String("id-2"),
			ExpiresIn:   60,
		},
	}}
	p := newCognito(fake, "client", "")
	p.now = fixedNow

	tokens, err := p.Refresh(context.Background(), "user", "refresh-1")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if tokens.RefreshToken != "refresh-1" || tokens.AccessToken != "access-2" {
		t.Fatalf("unexpected tokens: %#v", tokens)
	}
	if fake.authIn.AuthFlow != types.AuthFlowTypeRefreshTokenAuth {
		t.Fatalf("unexpected auth flow: %s", fake.authIn.AuthFlow)
	}
}

func TestCognitoRefreshWithoutToken(t *testing.T) {
	p := newCognito(&fakeCognito{}, "client", "")
	if _, err := p.Refresh(context.Background(), "user", ""); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestCognitoUserAttributes(t *testing.T) {
	fake := &fakeCognito{getUserOut: &cip.GetUserOutput{
		Username: aws.String("sub-1"),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String("a@example.com")},
			{Name: aws.String("email_verified"), Value: aws.String("true")},
		},
	}}
	p := newCognito(fake, "client", "")

	attrs, err := p.UserAttributes(context.Background(), "access")
	if err != nil {
		t.Fatalf("UserAttributes returned error: %v", err)
	}
	want := map[string]string{"email": "a@example.com", "email_verified": "true", "username": "sub-1"}
	if diff := deep.Equal(attrs, want); diff != nil {
		t.Fatal(diff)
	}
}

func TestCognitoRevokeTokenSendsSecret(t *testing.T) {
	fake := &fakeCognito{}
	p := newCognito(fake, "client", "s3cret")
	if err := p.RevokeToken(context.Background(), "refresh"); err != nil {
		t.Fatalf("RevokeToken returned error: %v", err)
	}
	if aws.ToString(fake.revokeIn.ClientSecret) != "s3cret" || aws.ToString(fake.revokeIn.Token) != "refresh" {
		t.Fatalf("unexpected input: %#v", fake.revokeIn)
	}
}

func TestCognitoResendCode(t *testing.T) {
	fake := &fakeCognito{resendOut: &cip.ResendConfirmationCodeOutput{
		CodeDeliveryDetails: &types.CodeDeliveryDetailsType{
			Destination:    aws.String("a***@e***"),
			DeliveryMedium: types.DeliveryMediumTypeEmail,
		},
	}}
	p := newCognito(fake, "client", "")
	d, err := p.ResendSignUpCode(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("ResendSignUpCode returned error: %v", err)
	}
	if d.Destination != "a***@e***" || d.Medium != "EMAIL" {
		t.Fatalf("unexpected delivery: %#v", d)
	}
}
