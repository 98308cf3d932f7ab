package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/entryboard/internal/metrics"
	"github.com/hitoshi/entryboard/internal/middleware"
	"github.com/hitoshi/entryboard/internal/security"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string // カンマ区切りで複数指定可
	StrictTransport   bool
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker HealthChecker
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer

	// 認証
	AuthService      AuthServiceInterface
	SessionLifecycle SessionLifecycle
	AuthConfig       AuthHandlerConfig

	// エントリ
	Collections CollectionResolver
	Sanitizer   security.TextSanitizer
	EntryConfig EntryHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → CSRF → Session → RateLimit(General)
//
// 認証ルート（/auth/*）とヘルスチェックはSessionより外側に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.StrictTransport))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(middleware.ParseOrigins(deps.CORSAllowedOrigin)...))

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionLifecycle, deps.AuthConfig)
	entryHandler := NewEntryHandler(deps.Collections, sanitizer, deps.Metrics, deps.EntryConfig)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証不要のルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signin", authHandler.SignIn)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: CSRF → Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/entries", func(r chi.Router) {
			r.Get("/", entryHandler.ListEntries)
			r.Post("/", entryHandler.CreateEntry)
			r.Get("/export", entryHandler.ExportEntries)
			r.Get("/events", entryHandler.Events)

			// POST /api/entries/import - 取り込み専用レート制限を追加
			r.With(deps.RateLimiter.ImportMiddleware()).Post("/import", entryHandler.ImportEntries)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", entryHandler.UpdateEntry)
				r.Delete("/", entryHandler.DeleteEntry)
				r.Post("/edit", entryHandler.BeginEdit)
				r.Post("/cancel", entryHandler.CancelEdit)
				r.Post("/save", entryHandler.SaveEntry)
				r.Post("/complete", entryHandler.CompleteEntry)
			})
		})
	})

	return r
}

// healthHandler はDB疎通を確認するハンドラーを返す。checkerがnilの場合は常に200を返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
