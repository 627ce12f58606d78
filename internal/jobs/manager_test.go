package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"

	"github.com/yourusername/auth-gate/internal/auth"
	"github.com/yourusername/auth-gate/internal/config"
)

type stubRevoker struct {
	tokens []string
	err    error
}

func (s *stubRevoker) RevokeToken(ctx context.Context, refreshToken string) error {
	s.tokens = append(s.tokens, refreshToken)
	return s.err
}

func newTestJobManager(t *testing.T, revoker TokenRevoker) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.Config{QueueRedisURL: "redis://" + mr.Addr() + "/0"}
	m, err := NewManager(cfg, revoker, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	t.Cleanup(func() { _ = m.client.Close() })
	return m
}

func TestHandleRevokeTask(t *testing.T) {
	revoker := &stubRevoker{}
	m := newTestJobManager(t, revoker)

	task, err := newRevokeTask("refresh-1")
	if err != nil {
		t.Fatalf("newRevokeTask returned error: %v", err)
	}
	if err := m.handleRevokeTask(context.Background(), task); err != nil {
		t.Fatalf("handleRevokeTask returned error: %v", err)
	}
	if len(revoker.tokens) != 1 || revoker.tokens[0] != "refresh-1" {
		t.Fatalf("unexpected revocations: %#v", revoker.tokens)
	}
}

func TestHandleRevokeTaskRetriesOnOutage(t *testing.T) {
	revoker := &stubRevoker{err: errors.New("connection reset")}
	m := newTestJobManager(t, revoker)

	task, _ := newRevokeTask("refresh-1")
	err := m.handleRevokeTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected error so asynq retries")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatal("transient errors must be retried")
	}
}

func TestHandleRevokeTaskAlreadyRevoked(t *testing.T) {
	revoker := &stubRevoker{err: &auth.ProviderError{
		Code:    "NotAuthorizedException",
		Message: "Refresh Token has been revoked",
	}}
	m := newTestJobManager(t, revoker)

	task, _ := newRevokeTask("refresh-1")
	if err := m.handleRevokeTask(context.Background(), task); err != nil {
		t.Fatalf("already revoked token should succeed, got %v", err)
	}
}

func TestHandleRevokeTaskInvalidPayload(t *testing.T) {
	m := newTestJobManager(t, &stubRevoker{})

	body, _ := json.Marshal(map[string]string{"other": "x"})
	err := m.handleRevokeTask(context.Background(), asynq.NewTask(taskTypeRevoke, body))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	err = m.handleRevokeTask(context.Background(), asynq.NewTask(taskTypeRevoke, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestScheduleRevocationEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{QueueRedisURL: "redis://" + mr.Addr() + "/0"}
	m, err := NewManager(cfg, &stubRevoker{}, nil)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	defer m.client.Close()

	if err := m.ScheduleRevocation(context.Background(), "refresh-1"); err != nil {
		t.Fatalf("ScheduleRevocation returned error: %v", err)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()
	pending, err := inspector.ListPendingTasks(queueName)
	if err != nil {
		t.Fatalf("ListPendingTasks returned error: %v", err)
	}
	if len(pending) != 1 || pending[0].Type != taskTypeRevoke {
		t.Fatalf("unexpected pending tasks: %#v", pending)
	}
	var payload RevokePayload
	if err := json.Unmarshal(pending[0].Payload, &payload); err != nil || payload.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected payload: %s", pending[0].Payload)
	}
}

func TestScheduleRevocationRejectsEmptyToken(t *testing.T) {
	m := newTestJobManager(t, &stubRevoker{})
	if err := m.ScheduleRevocation(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestInlineRevoker(t *testing.T) {
	revoker := &stubRevoker{}
	r := NewInlineRevoker(revoker, log.New(&bytes.Buffer{}, "", 0))
	if err := r.ScheduleRevocation(context.Background(), "refresh-1"); err != nil {
		t.Fatalf("ScheduleRevocation returned error: %v", err)
	}
	if len(revoker.tokens) != 1 {
		t.Fatalf("unexpected revocations: %#v", revoker.tokens)
	}

	revoker.err = errors.New("timeout")
	if err := r.ScheduleRevocation(context.Background(), "refresh-2"); err == nil {
		t.Fatal("expected error to be returned")
	}
}
