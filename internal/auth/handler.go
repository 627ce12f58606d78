package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/auth-gate/internal/gate"
)

// credentialsRequest は JSON とフォームの両方を受け付けます。
type credentialsRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Code     string `json:"code" form:"code"`
}

func bindCredentials(c *gin.Context) (*credentialsRequest, bool) {
	var req credentialsRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "email と password を JSON またはフォームで送ってください",
		})
		return nil, false
	}
	return &req, true
}

// SignUpHandler は POST /api/auth/signup のハンドラーです。
func (m *Manager) SignUpHandler(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.SignUp(c.Request.Context(), req.Email, req.Password))
}

// ConfirmSignUpHandler は POST /api/auth/confirm のハンドラーです。
func (m *Manager) ConfirmSignUpHandler(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.ConfirmSignUp(c.Request.Context(), req.Email, req.Code))
}

// ResendCodeHandler は POST /api/auth/resend のハンドラーです。
func (m *Manager) ResendCodeHandler(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.ResendCode(c.Request.Context(), req.Email))
}

// SignInHandler は POST /api/auth/signin のハンドラーです。失敗時は 401 を返します。
func (m *Manager) SignInHandler(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}

	state, err := m.signIn(c, req.Email, req.Password, apiSignInMessages)
	var lockErr *LockoutError
	if errors.As(err, &lockErr) {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", lockErr.RetryAfterHeader())
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"code":    "TOO_MANY_ATTEMPTS",
			"message": state.Message,
		})
		return
	}

	if !state.Success {
		c.JSON(http.StatusUnauthorized, state)
		return
	}
	c.JSON(http.StatusOK, state)
}

// SignOutHandler は POST /api/auth/signout のハンドラーです。
func (m *Manager) SignOutHandler(c *gin.Context) {
	state := m.SignOut(c)
	if !state.Success {
		c.JSON(http.StatusInternalServerError, state)
		return
	}
	c.JSON(http.StatusOK, state)
}

// SessionHandler は GET /api/auth/session のハンドラーです。
// クライアント側の画面遷移で、Cookie のセッションからトークンを取得するために使います。
func (m *Manager) SessionHandler(v gate.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		if !gate.Resolve(c, v, m.logger) {
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}

		payload := gin.H{"authenticated": true}
		if bundle, ok := BundleFromContext(c); ok {
			payload["tokens"] = gin.H{
				"accessToken": bundle.AccessToken,
				"idToken":     bundle.IDToken,
				"expiresAt":   bundle.TokenExpiresAt,
			}
			payload["username"] = bundle.Username
		}
		c.JSON(http.StatusOK, payload)
	}
}

// MeHandler は GET /api/me のハンドラーです。BearerVerifier の後ろに置きます。
func (m *Manager) MeHandler(c *gin.Context) {
	token := c.GetString(ContextAccessTokenKey)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です",
		})
		return
	}

	attrs, err := m.provider.UserAttributes(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}
		m.logger.Printf("failed to fetch user attributes: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    "PROVIDER_ERROR",
			"message": "ユーザー情報の取得に失敗しました",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attributes": attrs})
}

// ConfigHandler は GET /api/config のハンドラーです。公開してよい認証設定のみを返します。
func (m *Manager) ConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"auth": gin.H{
			"aws_region":          m.cfg.AWSRegion,
			"user_pool_id":        m.cfg.CognitoUserPoolID,
			"user_pool_client_id": m.cfg.CognitoClientID,
			"verify_mode":         m.cfg.VerifyMode,
		},
	})
}
