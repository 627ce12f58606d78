package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/auth-gate/internal/gate"
)

// ActionState はフォーム操作の結果です。画面とAPIの両方でこの形を返します。
type ActionState struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	UserID   string `json:"userId,omitempty"`
	NextStep string `json:"nextStep,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	// サインイン失敗時の残り試行回数
	RemainingAttempts *int `json:"remainingAttempts,omitempty"`
}

// signInMessages はサインイン結果の文言です。画面と JSON API で文言が異なります。
type signInMessages struct {
	fallback string
	pending  func(step string) string
}

var (
	formSignInMessages = signInMessages{
		fallback: "Failed to sign in",
		pending:  func(step string) string { return "Additional step required: " + step },
	}
	apiSignInMessages = signInMessages{
		fallback: "Authentication failed",
		pending:  func(string) string { return "Sign in failed" },
	}
)

func failure(err error, fallback string) ActionState {
	return ActionState{Success: false, Message: MessageOf(err, fallback)}
}

func requireFields(fields ...string) error {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return &ValidationError{Message: "Please fill in all required fields"}
		}
	}
	return nil
}

// SignUp はメールアドレスをユーザー名としてユーザーを登録します。
func (m *Manager) SignUp(ctx context.Context, email, password string) ActionState {
	email = strings.TrimSpace(email)
	if err := requireFields(email, password); err != nil {
		return failure(err, "Failed to sign up")
	}

	result, err := m.provider.SignUp(ctx, email, password, email)
	if err != nil {
		m.logger.Printf("sign up failed: %v", err)
		return failure(err, "Failed to sign up")
	}

	return ActionState{
		Success:  true,
		Message:  "Sign up successful! Please check your email for verification code.",
		UserID:   result.UserID,
		NextStep: result.NextStep,
	}
}

// ConfirmSignUp は確認コードでメールアドレスを検証します。
func (m *Manager) ConfirmSignUp(ctx context.Context, email, code string) ActionState {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if err := requireFields(email, code); err != nil {
		return failure(err, "Failed to confirm sign up")
	}

	if err := m.provider.ConfirmSignUp(ctx, email, code); err != nil {
		m.logger.Printf("confirm sign up failed: %v", err)
		return failure(err, "Failed to confirm sign up")
	}
	return ActionState{
		Success: true,
		Message: "Email verified successfully! You can now sign in.",
	}
}

// ResendCode は確認コードを再送します。
func (m *Manager) ResendCode(ctx context.Context, email string) ActionState {
	email = strings.TrimSpace(email)
	if err := requireFields(email); err != nil {
		return failure(err, "Failed to resend code")
	}

	if _, err := m.provider.ResendSignUpCode(ctx, email); err != nil {
		m.logger.Printf("resend code failed: %v", err)
		return failure(err, "Failed to resend code")
	}
	return ActionState{
		Success: true,
		Message: "Verification code resent successfully!",
	}
}

// SignIn はサインインし、成功したらセッションを開始します。
// 試行回数の上限に達している場合のみ *LockoutError を返します。
func (m *Manager) SignIn(c *gin.Context, email, password string) (ActionState, error) {
	return m.signIn(c, email, password, formSignInMessages)
}

func (m *Manager) signIn(c *gin.Context, email, password string, msgs signInMessages) (ActionState, error) {
	email = strings.TrimSpace(email)
	if err := requireFields(email, password); err != nil {
		return failure(err, msgs.fallback), nil
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		return ActionState{Message: "Too many sign-in attempts. Please try again later."}, &LockoutError{RetryAfter: retryAfter}
	}

	result, err := m.provider.SignIn(c.Request.Context(), email, password)
	if err != nil {
		m.logger.Printf("sign in failed: %v", err)
		state := failure(err, msgs.fallback)
		if errors.Is(err, ErrNotAuthorized) {
			remaining := m.recordFailure(ip)
			state.RemainingAttempts = &remaining
		}
		return state, nil
	}

	if !result.SignedIn || result.Tokens == nil {
		// MFA やパスワード変更などの追加ステップ
		if result.NextStep != "" && result.NextStep != StepDone {
			return ActionState{
				Message:  msgs.pending(result.NextStep),
				NextStep: result.NextStep,
			}, nil
		}
		return ActionState{Message: "Sign in failed"}, nil
	}

	m.resetAttempts(ip)
	if err := m.startSession(c, email, result.Tokens); err != nil {
		m.logger.Printf("failed to start session: %v", err)
		return ActionState{Message: msgs.fallback}, nil
	}

	return ActionState{
		Success:  true,
		Message:  "Sign in successful",
		NextStep: StepDone,
		Redirect: gate.DashboardPath,
	}, nil
}

// SignOut はセッションを終了し、リフレッシュトークンの失効を依頼します。
func (m *Manager) SignOut(c *gin.Context) ActionState {
	bundle, err := m.endSession(c)
	if err != nil {
		m.logger.Printf("sign out failed: %v", err)
		return failure(err, "Failed to sign out")
	}

	if bundle != nil && bundle.RefreshToken != "" && m.revoker != nil {
		// 手元のセッションは消えているので、失効の失敗はログだけ残す
		if err := m.revoker.ScheduleRevocation(c.Request.Context(), bundle.RefreshToken); err != nil {
			m.logger.Printf("failed to schedule token revocation session=%s: %v", bundle.ID, err)
		}
	}

	return ActionState{
		Success:  true,
		Message:  "Signed out",
		Redirect: gate.LoginPath,
	}
}
