package main

import (
	"context"
	"fmt"
	"log"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/auth-gate/internal/auth"
	"github.com/yourusername/auth-gate/internal/config"
	"github.com/yourusername/auth-gate/internal/jobs"
	"github.com/yourusername/auth-gate/internal/session"
)

// revoker はサインアウト時の失効処理と、その後片付けをまとめたものです。
type revoker interface {
	auth.Revoker
	Shutdown(ctx context.Context) error
}

type inlineRevoker struct {
	*jobs.InlineRevoker
}

func (inlineRevoker) Shutdown(context.Context) error { return nil }

// setupRevoker は QUEUE_REDIS_URL があれば Asynq のキューを、無ければその場で失効させる実装を返します。
func setupRevoker(cfg *config.Config, provider auth.IdentityProvider, logger *log.Logger) (revoker, error) {
	if cfg.QueueRedisURL == "" {
		logger.Printf("QUEUE_REDIS_URL is empty, revoking tokens inline")
		return inlineRevoker{jobs.NewInlineRevoker(provider, logger)}, nil
	}

	manager, err := jobs.NewManager(cfg, provider, logger)
	if err != nil {
		return nil, err
	}
	manager.StartWorkers()
	return manager, nil
}

// setupSessionStore は SESSION_REDIS_URL があれば Redis を、無ければメモリを使います。
func setupSessionStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (session.Store, func() error, error) {
	if cfg.SessionRedisURL == "" {
		logger.Printf("SESSION_REDIS_URL is empty, sessions are kept in memory")
		return session.NewMemoryStore(cfg.SessionTTL()), func() error { return nil }, nil
	}

	opt, err := redis.ParseURL(cfg.SessionRedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse session redis url: %w", err)
	}
	redisClient := redis.NewClient(opt)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("failed to connect to session redis: %w", err)
	}
	return session.NewRedisStore(redisClient, cfg.SessionTTL()), redisClient.Close, nil
}
