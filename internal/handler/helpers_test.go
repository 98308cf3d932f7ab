package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/entryboard/internal/metrics"
	"github.com/hitoshi/entryboard/internal/middleware"
	"github.com/hitoshi/entryboard/internal/model"
	"github.com/hitoshi/entryboard/internal/store"
	"github.com/hitoshi/entryboard/internal/workspace"
)

// --- モック定義 ---

type mockAuthService struct {
	signUpFn         func(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	signInFn         func(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	signOutFn        func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return nil, nil, model.NewAuthFailedError("not configured")
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, nil, model.NewAuthFailedError("not configured")
}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, model.NewUnauthorizedError()
}

// fakeSessions はs1→u1、s2→u2のセッションだけを有効とする。
type fakeSessions struct{}

func (fakeSessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	users := map[string]string{"s1": "u1", "s2": "u2"}
	userID, ok := users[id]
	if !ok {
		return nil, nil
	}
	return &model.Session{ID: id, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeUsers struct{}

func (fakeUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Email: id + "@example.com"}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) PingContext(context.Context) error { return f.err }

// --- テスト環境 ---

const testCSRFToken = "test-csrf-token"

type testEnv struct {
	router   http.Handler
	store    *store.MemoryStore
	manager  *workspace.Manager
	auth     *mockAuthService
	registry *prometheus.Registry
}

// newTestEnv はMemoryStoreを使ったワークスペースと全ミドルウェアを組み込んだルーターを構築する。
func newTestEnv(t *testing.T, seed ...model.Entry) *testEnv {
	t.Helper()
	return newTestEnvWith(t, EntryHandlerConfig{}, seed...)
}

func newTestEnvWith(t *testing.T, entryConfig EntryHandlerConfig, seed ...model.Entry) *testEnv {
	t.Helper()

	s := store.NewMemoryStore()
	t.Cleanup(s.Close)
	s.Seed(seed...)

	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)

	manager := workspace.NewManager(s, nil, mc)
	t.Cleanup(manager.Close)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	auth := &mockAuthService{}
	adapter := NewWorkspaceAdapter(manager, fakeUsers{})

	router := NewRouter(&RouterDeps{
		SessionFinder:     fakeSessions{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     fakeHealth{},
		Metrics:           mc,
		Gatherer:          reg,
		AuthService:       auth,
		SessionLifecycle:  adapter,
		AuthConfig:        AuthHandlerConfig{SessionMaxAge: 3600},
		Collections:       adapter,
		EntryConfig:       entryConfig,
	})

	return &testEnv{router: router, store: s, manager: manager, auth: auth, registry: reg}
}

// do はセッションs1とCSRFトークン付きでリクエストを送る。
func (e *testEnv) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	return e.doAs("s1", method, path, body, contentType)
}

func (e *testEnv) doAs(sessionID, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	}
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func seedEntry(id, title string, minute int) model.Entry {
	return model.Entry{
		ID:               id,
		ReflectionStatus: model.StatusNotReflected,
		Title:            title,
		Platforms:        []string{model.PlatformWeb},
		Owner:            "kim",
		CreatedAt:        time.Date(2024, 5, 1, 9, minute, 0, 0, time.UTC),
	}
}
