// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 検証方式
const (
	VerifyModeRemote = "remote" // Cognito GetUser で毎回問い合わせる
	VerifyModeJWKS   = "jwks"   // JWKS で署名を検証する
)

// Config はアプリケーションの設定を保持する構造体です。
// main で一度だけ生成し、必要なコンポーネントへ明示的に渡します。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// セッション設定
	SessionSecret   string // セッションCookie署名用の秘密鍵
	SessionTTLHours int    // セッション（リフレッシュトークン）の保持時間
	SessionRedisURL string // トークン保存用Redis接続URL（空ならメモリ）

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// X-Forwarded-For を信頼するプロキシ（カンマ区切り、空なら信頼しない）
	TrustedProxiesRaw string

	// Cognito設定
	AWSRegion           string // ユーザープールのリージョン
	CognitoUserPoolID   string // ユーザープールID
	CognitoClientID     string // アプリクライアントID
	CognitoClientSecret string // アプリクライアントシークレット（任意）
	CognitoEndpoint     string // エンドポイント上書き（ローカルエミュレーター用）

	// セッション検証設定
	VerifyMode           string // remote または jwks
	VerifyTimeoutSeconds int    // 検証1回あたりのタイムアウト（秒）

	// ジョブ/キュー設定
	QueueRedisURL string // Asynq用Redis接続URL（空なら同期でトークン失効）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// セッション設定
		SessionSecret:   getEnv("SESSION_SECRET", ""),
		SessionTTLHours: getEnvAsInt("SESSION_TTL_HOURS", 24*30),
		SessionRedisURL: getEnv("SESSION_REDIS_URL", ""),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		TrustedProxiesRaw:  getEnv("TRUSTED_PROXIES", ""),

		// Cognito設定
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		CognitoUserPoolID:   getEnv("COGNITO_USER_POOL_ID", ""),
		CognitoClientID:     getEnv("COGNITO_CLIENT_ID", ""),
		CognitoClientSecret: getEnv("COGNITO_CLIENT_SECRET", ""),
		CognitoEndpoint:     getEnv("COGNITO_ENDPOINT", ""),

		// セッション検証設定
		VerifyMode:           strings.ToLower(getEnv("VERIFY_MODE", VerifyModeRemote)),
		VerifyTimeoutSeconds: getEnvAsInt("VERIFY_TIMEOUT_SECONDS", 5),

		// ジョブ/キュー設定
		QueueRedisURL: getEnv("QUEUE_REDIS_URL", ""),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.VerifyMode != VerifyModeRemote && c.VerifyMode != VerifyModeJWKS {
		return fmt.Errorf("VERIFY_MODE must be %q or %q, got %q", VerifyModeRemote, VerifyModeJWKS, c.VerifyMode)
	}
	if c.VerifyTimeoutSeconds <= 0 {
		return fmt.Errorf("VERIFY_TIMEOUT_SECONDS must be positive")
	}
	if c.SessionTTLHours <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}

	// ローカル開発ではCognito設定が未入力でも起動できる
	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required in release mode")
		}
		if c.CognitoUserPoolID == "" {
			return fmt.Errorf("COGNITO_USER_POOL_ID is required in release mode")
		}
		if c.CognitoClientID == "" {
			return fmt.Errorf("COGNITO_CLIENT_ID is required in release mode")
		}
	}

	return nil
}

// Issuer はユーザープールのトークン発行者URLを返します。
func (c *Config) Issuer() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.AWSRegion, c.CognitoUserPoolID)
}

// SessionTTL はセッションの保持時間を返します。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// VerifyTimeout はセッション検証のタイムアウトを返します。
func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSeconds) * time.Second
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// TrustedProxies は信頼するプロキシのIP/CIDRを返します。未設定なら nil で、クライアントIPは接続元になります。
func (c *Config) TrustedProxies() []string {
	return splitList(c.TrustedProxiesRaw)
}

func splitList(raw string) []string {
	var items []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			items = append(items, v)
		}
	}
	return items
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
