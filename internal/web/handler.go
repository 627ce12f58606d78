// Package web はサーバー側で描画する画面とフォーム操作を提供します。
package web

import (
	"embed"
	"errors"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/auth-gate/internal/auth"
	"github.com/yourusername/auth-gate/internal/gate"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Templates は埋め込みテンプレートを読み込みます。gin.Engine.SetHTMLTemplate に渡して使います。
func Templates() (*template.Template, error) {
	return template.ParseFS(templatesFS, "templates/*.html")
}

const (
	intentSignUp  = "signup"
	intentConfirm = "confirm"
	intentResend  = "resend"
)

// pageData はテンプレートに渡す値です。
type pageData struct {
	Title             string
	CSRFToken         string
	Authenticated     bool
	Email             string
	State             auth.ActionState
	NeedsConfirmation bool
	Confirmed         bool
	Attributes        map[string]string
}

// Handler は画面のハンドラーです。ゲートのミドルウェアの後ろに登録します。
type Handler struct {
	manager *auth.Manager
	logger  *log.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(manager *auth.Manager, logger *log.Logger) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("auth manager is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{manager: manager, logger: logger}, nil
}

// Register は画面のルートを登録します。
func (h *Handler) Register(r gin.IRoutes) {
	r.GET(gate.HomePath, h.Home)
	r.GET(gate.LoginPath, h.LoginPage)
	// ログイン前はセッションが無いことがあるので CSRF 検証はしない
	r.POST(gate.LoginPath, h.Login)
	r.GET(gate.SignupPath, h.SignupPage)
	r.POST(gate.SignupPath, h.Signup)
	r.GET(gate.DashboardPath, h.Dashboard)
	r.POST("/logout", h.manager.VerifyCSRF(), h.Logout)
}

// Home は GET / のハンドラーです。
func (h *Handler) Home(c *gin.Context) {
	h.render(c, http.StatusOK, "home.html", pageData{
		Title:         "Home",
		Authenticated: gate.Authenticated(c),
	})
}

// LoginPage は GET /login のハンドラーです。
func (h *Handler) LoginPage(c *gin.Context) {
	h.render(c, http.StatusOK, "login.html", pageData{Title: "Sign in"})
}

// Login は POST /login のハンドラーです。成功したらダッシュボードへ 303 で遷移します。
func (h *Handler) Login(c *gin.Context) {
	email := c.PostForm("email")
	state, err := h.manager.SignIn(c, email, c.PostForm("password"))

	var lockout *auth.LockoutError
	if errors.As(err, &lockout) {
		c.Header("Retry-After", lockout.RetryAfterHeader())
		h.render(c, http.StatusTooManyRequests, "login.html", pageData{
			Title: "Sign in",
			Email: email,
			State: state,
		})
		return
	}

	if state.Success {
		c.Redirect(http.StatusSeeOther, state.Redirect)
		return
	}

	h.render(c, http.StatusOK, "login.html", pageData{
		Title: "Sign in",
		Email: email,
		State: state,
	})
}

// SignupPage は GET /signup のハンドラーです。
func (h *Handler) SignupPage(c *gin.Context) {
	h.render(c, http.StatusOK, "signup.html", pageData{Title: "Sign up"})
}

// Signup は POST /signup のハンドラーです。intent で登録・確認・再送を切り替えます。
func (h *Handler) Signup(c *gin.Context) {
	ctx := c.Request.Context()
	email := strings.TrimSpace(c.PostForm("email"))
	data := pageData{Title: "Sign up", Email: email}

	switch c.DefaultPostForm("intent", intentSignUp) {
	case intentSignUp:
		data.State = h.manager.SignUp(ctx, email, c.PostForm("password"))
		data.NeedsConfirmation = data.State.Success && data.State.NextStep == auth.StepConfirmSignUp
	case intentConfirm:
		data.State = h.manager.ConfirmSignUp(ctx, email, c.PostForm("code"))
		data.NeedsConfirmation = true
		data.Confirmed = data.State.Success
	case intentResend:
		data.State = h.manager.ResendCode(ctx, email)
		data.NeedsConfirmation = true
	default:
		h.render(c, http.StatusBadRequest, "signup.html", pageData{
			Title: "Sign up",
			Email: email,
			State: auth.ActionState{Message: "Unknown action"},
		})
		return
	}

	h.render(c, http.StatusOK, "signup.html", data)
}

// Dashboard は GET /dashboard のハンドラーです。ゲートが検証したセッションを前提にします。
func (h *Handler) Dashboard(c *gin.Context) {
	bundle, ok := auth.BundleFromContext(c)
	if !ok {
		c.Redirect(http.StatusTemporaryRedirect, gate.LoginPath)
		return
	}

	data := pageData{
		Title:         "Dashboard",
		Authenticated: true,
		Email:         bundle.Username,
		Attributes:    map[string]string{},
	}

	attrs, err := h.attributes(c, bundle.AccessToken)
	switch {
	case errors.Is(err, auth.ErrNotAuthorized):
		c.Redirect(http.StatusTemporaryRedirect, gate.LoginPath)
		return
	case err != nil:
		h.logger.Printf("failed to fetch user attributes session=%s: %v", bundle.ID, err)
		data.State = auth.ActionState{Message: "Failed to load user attributes"}
	default:
		data.Attributes = attrs
		if email := attrs["email"]; email != "" {
			data.Email = email
		}
	}

	h.render(c, http.StatusOK, "dashboard.html", data)
}

// attributes はゲートの検証で取得済みの属性があればそれを使い、無ければ外部サービスに問い合わせます。
func (h *Handler) attributes(c *gin.Context, accessToken string) (map[string]string, error) {
	if attrs, ok := auth.AttributesFromContext(c); ok {
		return attrs, nil
	}
	return h.manager.Provider().UserAttributes(c.Request.Context(), accessToken)
}

// Logout は POST /logout のハンドラーです。
func (h *Handler) Logout(c *gin.Context) {
	state := h.manager.SignOut(c)
	if !state.Success {
		h.render(c, http.StatusInternalServerError, "error.html", pageData{
			Title: "Error",
			State: state,
		})
		return
	}
	c.Redirect(http.StatusSeeOther, state.Redirect)
}

func (h *Handler) render(c *gin.Context, status int, name string, data pageData) {
	token, err := h.manager.CSRFToken(c)
	if err != nil {
		h.logger.Printf("failed to issue csrf token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "画面の表示に失敗しました",
		})
		return
	}
	data.CSRFToken = token
	c.Header("Cache-Control", "no-store")
	c.HTML(status, name, data)
}
