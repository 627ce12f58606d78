package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/auth-gate/internal/config"
)

// Manager はトークン失効ジョブの投入と実行を担います。
type Manager struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	revoker TokenRevoker
	logger  *log.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, revoker TokenRevoker, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if revoker == nil {
		return nil, errors.New("revoker is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client:  client,
		server:  server,
		mux:     mux,
		revoker: revoker,
		logger:  logger,
	}
	mux.HandleFunc(taskTypeRevoke, manager.handleRevokeTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// ScheduleRevocation はリフレッシュトークンの失効ジョブをキューに投入します。
func (m *Manager) ScheduleRevocation(ctx context.Context, refreshToken string) error {
	task, err := newRevokeTask(refreshToken)
	if err != nil {
		return err
	}
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(maxRetry)); err != nil {
		return fmt.Errorf("failed to enqueue revocation: %w", err)
	}
	return nil
}

func newRevokeTask(refreshToken string) (*asynq.Task, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}
	body, err := json.Marshal(&RevokePayload{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskTypeRevoke, body, asynq.Queue(queueName)), nil
}

func (m *Manager) handleRevokeTask(ctx context.Context, task *asynq.Task) error {
	var payload RevokePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// 壊れたペイロードは再試行しても直らない
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RefreshToken == "" {
		return fmt.Errorf("missing refreshToken in payload: %w", asynq.SkipRetry)
	}

	if err := revoke(ctx, m.revoker, payload.RefreshToken); err != nil {
		m.logf("token revocation failed, will retry: %v", err)
		return err
	}
	return nil
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
