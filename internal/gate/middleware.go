package gate

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextAuthenticatedKey は判定済みの認証状態を後続ハンドラーへ渡すキーです。
const ContextAuthenticatedKey = "gate.authenticated"

// Verifier はリクエストが有効なセッションを持つかを確認します。
// 実行コンテキスト（サーバー描画／クライアント）ごとに実装を分け、呼び出し側が明示的に選びます。
type Verifier interface {
	Verify(c *gin.Context) (bool, error)
}

// VerifierFunc は関数を Verifier として扱うためのアダプターです。
type VerifierFunc func(c *gin.Context) (bool, error)

// Verify は f(c) を呼び出します。
func (f VerifierFunc) Verify(c *gin.Context) (bool, error) {
	return f(c)
}

// Exemptions はゲートを通さないパスの集合です。静的ファイルやAPIはここで除外します。
type Exemptions struct {
	Prefixes []string
	Exact    []string
	Suffixes []string
}

// DefaultExemptions は標準の除外設定を返します。
func DefaultExemptions() Exemptions {
	return Exemptions{
		Prefixes: []string{"/api", "/static", "/health"},
		Exact:    []string{"/favicon.ico"},
		Suffixes: []string{".svg", ".png"},
	}
}

// Match は path が除外対象かを返します。
func (e Exemptions) Match(path string) bool {
	for _, p := range e.Exact {
		if path == p {
			return true
		}
	}
	for _, p := range e.Prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	for _, s := range e.Suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// Options はミドルウェアの設定です。
type Options struct {
	Exemptions Exemptions
	Logger     *log.Logger
}

// Resolve は Verifier を呼び出し、失敗はすべて未認証として扱います（fail closed）。
// Verifier の panic もここで止め、ログを残して未認証にします。
func Resolve(c *gin.Context, v Verifier, logger *log.Logger) (ok bool) {
	if v == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			logf(logger, "session verification panicked path=%s: %v", c.Request.URL.Path, r)
			ok = false
		}
	}()

	ok, err := v.Verify(c)
	if err != nil {
		logf(logger, "session verification failed path=%s: %v", c.Request.URL.Path, err)
		return false
	}
	return ok
}

// Middleware はページ遷移用のゲートを返します。
func Middleware(v Verifier, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if opts.Exemptions.Match(path) {
			c.Next()
			return
		}

		authenticated := Resolve(c, v, opts.Logger)
		c.Set(ContextAuthenticatedKey, authenticated)

		decision := Decide(path, authenticated)
		if decision.IsAllow() {
			c.Next()
			return
		}

		c.Redirect(redirectStatus(c.Request.Method), decision.Redirect)
		c.Abort()
	}
}

// RequireSession はAPI用のゲートです。未認証なら 401 を返します。
func RequireSession(v Verifier, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Resolve(c, v, logger) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}
		c.Set(ContextAuthenticatedKey, true)
		c.Next()
	}
}

// Authenticated は Middleware が判定した認証状態を返します。
func Authenticated(c *gin.Context) bool {
	return c.GetBool(ContextAuthenticatedKey)
}

// POST などは 303 で GET に切り替える
func redirectStatus(method string) int {
	switch method {
	case http.MethodGet, http.MethodHead:
		return http.StatusTemporaryRedirect
	default:
		return http.StatusSeeOther
	}
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
