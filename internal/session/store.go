// Package session はサインイン後のトークン一式（Session Token Bundle）をサーバー側に保存します。
// Cookie にはセッションIDだけを載せ、トークン本体はここで管理します。
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound は更新対象のセッションが存在しない場合に返します。
var ErrNotFound = errors.New("session not found")

// Bundle は外部認証サービスが発行したトークン一式です。
// 中身の解釈は行わず、保存と取り出しのみを担います。
type Bundle struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	AccessToken    string    `json:"accessToken"`
	IDToken        string    `json:"idToken,omitempty"`
	RefreshToken   string    `json:"refreshToken,omitempty"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"` // アクセストークンの有効期限
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	ExpiresAt      time.Time `json:"expiresAt"` // セッション自体の有効期限
}

// Store はセッションの保存先です。
type Store interface {
	// Save はセッションを保存します（存在しない場合は作成）。
	Save(ctx context.Context, bundle *Bundle) error
	// Get はセッションを取得します。存在しない場合は nil, nil を返します。
	Get(ctx context.Context, id string) (*Bundle, error)
	// Delete はセッションを削除します。存在しなくてもエラーにしません。
	Delete(ctx context.Context, id string) error
	// Update は既存セッションを書き換えます。
	Update(ctx context.Context, id string, mutate func(*Bundle)) error
}

// NewID は新しいセッションIDを発行します。
func NewID() string {
	return uuid.NewString()
}

// ValidID はセッションIDの形式を確認します。Cookie改ざん時に余計なストア参照をしないためです。
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// stamp は保存前に時刻系の項目を埋めます。
func stamp(bundle *Bundle, ttl time.Duration) {
	now := time.Now().UTC()
	if bundle.CreatedAt.IsZero() {
		bundle.CreatedAt = now
	}
	bundle.UpdatedAt = now
	if bundle.ExpiresAt.IsZero() && ttl > 0 {
		bundle.ExpiresAt = bundle.CreatedAt.Add(ttl)
	}
}

func remaining(bundle *Bundle) time.Duration {
	if bundle.ExpiresAt.IsZero() {
		return 0
	}
	return time.Until(bundle.ExpiresAt)
}
