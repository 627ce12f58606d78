// Package jobs はサインアウト後のトークン失効をバックグラウンドで処理します。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/yourusername/auth-gate/internal/auth"
)

const (
	taskTypeRevoke = "auth:revoke"
	queueName      = "auth"
	maxRetry       = 5
)

// RevokePayload はトークン失効ジョブのペイロードです。
type RevokePayload struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenRevoker はリフレッシュトークンを失効させる外部サービスです。
type TokenRevoker interface {
	RevokeToken(ctx context.Context, refreshToken string) error
}

// revoke は失効を実行します。失効済み・不正なトークンは再試行しても結果が変わらないので成功扱いにします。
func revoke(ctx context.Context, revoker TokenRevoker, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("refresh token is empty")
	}
	err := revoker.RevokeToken(ctx, refreshToken)
	if errors.Is(err, auth.ErrNotAuthorized) {
		return nil
	}
	return err
}

// InlineRevoker はキューを使わずその場で失効させます。QUEUE_REDIS_URL が未設定の場合に使います。
type InlineRevoker struct {
	revoker TokenRevoker
	logger  *log.Logger
}

// NewInlineRevoker は InlineRevoker を作成します。
func NewInlineRevoker(revoker TokenRevoker, logger *log.Logger) *InlineRevoker {
	return &InlineRevoker{revoker: revoker, logger: logger}
}

// ScheduleRevocation は同期的に失効させます。
func (r *InlineRevoker) ScheduleRevocation(ctx context.Context, refreshToken string) error {
	if err := revoke(ctx, r.revoker, refreshToken); err != nil {
		if r.logger != nil {
			r.logger.Printf("token revocation failed: %v", err)
		}
		return err
	}
	return nil
}
