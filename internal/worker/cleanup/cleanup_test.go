package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// mockDeleter はExpiredSessionDeleterのモック。
type mockDeleter struct {
	called  int
	deleted int64
	err     error
}

func (m *mockDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	m.called++
	return m.deleted, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestSessionCleanupJob_Name(t *testing.T) {
	job := NewSessionCleanupJob(&mockDeleter{}, nil)
	if job.Name() != "session_cleanup" {
		t.Errorf("Name() = %q", job.Name())
	}
}

func TestSessionCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockDeleter{deleted: 7}
	job := NewSessionCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if mock.called != 1 {
		t.Errorf("DeleteExpired called %d times, want 1", mock.called)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v (%s)", err, buf.String())
	}
	if entry["deleted_count"] != float64(7) {
		t.Errorf("deleted_count = %v, want 7", entry["deleted_count"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms should be logged")
	}
}

// 削除対象がなくても成功する（冪等）。
func TestSessionCleanupJob_Run_NothingToDelete(t *testing.T) {
	var buf bytes.Buffer
	job := NewSessionCleanupJob(&mockDeleter{}, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
}

func TestSessionCleanupJob_Run_ErrorIsWrappedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	cause := errors.New("connection reset")
	job := NewSessionCleanupJob(&mockDeleter{err: cause}, newTestLogger(&buf))

	err := job.Run(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("error = %v, want wrapped %v", err, cause)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("error should be logged at ERROR level: %s", buf.String())
	}
}
