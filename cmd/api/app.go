package main

import (
	"context"
	"errors"
	"log"

	"github.com/yourusername/auth-gate/internal/auth"
	"github.com/yourusername/auth-gate/internal/config"
	"github.com/yourusername/auth-gate/internal/gate"
	"github.com/yourusername/auth-gate/internal/web"
)

// app はリクエスト処理に必要な部品をまとめたものです。
type app struct {
	authManager    *auth.Manager
	cookieVerifier gate.Verifier
	bearerVerifier gate.Verifier
	pages          *web.Handler
	revoker        revoker
	closeStore     func() error
	logger         *log.Logger
}

// newApp は設定から各部品を組み立てます。
func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	provider, err := auth.NewCognito(cfg)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := setupSessionStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rev, err := setupRevoker(cfg, provider, logger)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	manager, err := auth.NewManager(cfg, provider, store, rev, logger)
	if err != nil {
		_ = rev.Shutdown(ctx)
		_ = closeStore()
		return nil, err
	}

	var validator auth.TokenValidator
	switch cfg.VerifyMode {
	case config.VerifyModeJWKS:
		validator = auth.NewJWKSValidator(ctx, cfg.Issuer(), cfg.CognitoClientID)
	default:
		validator = auth.NewRemoteValidator(provider)
	}

	pages, err := web.NewHandler(manager, logger)
	if err != nil {
		_ = rev.Shutdown(ctx)
		_ = closeStore()
		return nil, err
	}

	return &app{
		authManager:    manager,
		cookieVerifier: auth.NewCookieVerifier(manager, validator),
		bearerVerifier: auth.NewBearerVerifier(validator, cfg.VerifyTimeout()),
		pages:          pages,
		revoker:        rev,
		closeStore:     closeStore,
		logger:         logger,
	}, nil
}

// Close はキューとセッションストアの接続を閉じます。
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.revoker.Shutdown(ctx), a.closeStore())
}
