// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/auth-gate/internal/auth"
	"github.com/yourusername/auth-gate/internal/config"
	"github.com/yourusername/auth-gate/internal/gate"
	"github.com/yourusername/auth-gate/internal/web"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	app, err := newApp(ctx, cfg, log.Default())
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	if err := setupRouter(router, cfg, app); err != nil {
		log.Fatalf("Failed to set up router: %v", err)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting API server on %s (mode: %s)", server.Addr, cfg.GinMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := app.Close(shutdownCtx); err != nil {
		log.Printf("failed to release resources: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "auth-gate",
		"version": "0.1.0",
	})
}

// setupRouter はセッション、CORS、ゲート、ルーティングを組み立てます。
func setupRouter(router *gin.Engine, cfg *config.Config, app *app) error {
	tmpl, err := web.Templates()
	if err != nil {
		return err
	}
	router.SetHTMLTemplate(tmpl)

	// サインインの試行回数制限は ClientIP 単位なので、X-Forwarded-For は設定したプロキシからのものだけ信頼する
	if err := router.SetTrustedProxies(cfg.TrustedProxies()); err != nil {
		return err
	}

	// セッションストアの設定（クッキーにはセッションIDと CSRF トークンだけを載せる）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(cfg),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		// フォーム送信後のリダイレクトでもクッキーを送れるよう Lax にする
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// 画面はすべてゲートを通す。/api などは除外パターンで素通りさせる
	router.Use(gate.Middleware(app.cookieVerifier, gate.Options{
		Exemptions: gate.DefaultExemptions(),
		Logger:     app.logger,
	}))

	setupRoutes(router, app)
	return nil
}

// setupRoutes は API グループと画面の配線を行います。
func setupRoutes(router *gin.Engine, app *app) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	m := app.authManager
	api := router.Group("/api")
	{
		api.GET("/config", m.ConfigHandler)

		authRoutes := api.Group("/auth")
		{
			// サインイン前はセッションが無いので CSRF 検証は不要
			authRoutes.POST("/signup", m.SignUpHandler)
			authRoutes.POST("/confirm", m.ConfirmSignUpHandler)
			authRoutes.POST("/resend", m.ResendCodeHandler)
			authRoutes.POST("/signin", m.SignInHandler)
			authRoutes.POST("/signout", m.VerifyCSRF(), m.SignOutHandler)
			authRoutes.GET("/session", m.SessionHandler(app.cookieVerifier))
		}

		// クライアント側からの呼び出しは Authorization ヘッダーで検証する
		protected := api.Group("")
		protected.Use(gate.RequireSession(app.bearerVerifier, app.logger))
		{
			protected.GET("/me", m.MeHandler)
		}
	}

	app.pages.Register(router)
}
