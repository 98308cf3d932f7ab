package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/entryboard/internal/auth"
	"github.com/hitoshi/entryboard/internal/config"
	"github.com/hitoshi/entryboard/internal/database"
	"github.com/hitoshi/entryboard/internal/handler"
	"github.com/hitoshi/entryboard/internal/logger"
	"github.com/hitoshi/entryboard/internal/metrics"
	"github.com/hitoshi/entryboard/internal/middleware"
	"github.com/hitoshi/entryboard/internal/repository"
	"github.com/hitoshi/entryboard/internal/security"
	"github.com/hitoshi/entryboard/internal/store"
	"github.com/hitoshi/entryboard/internal/worker"
	"github.com/hitoshi/entryboard/internal/worker/cleanup"
	"github.com/hitoshi/entryboard/internal/workspace"
)

// dbPingTimeout は起動時のDB接続確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから設定を読み込み、設定されたログレベルで再設定する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続と変更通知のLISTEN接続を開き、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(reg)

	// 3. リポジトリとストア
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	entryStore := store.NewPostgresStore(db, mc, slog.Default())

	// 4. セッションごとのワークスペース
	manager := workspace.NewManager(entryStore, slog.Default(), mc)
	defer manager.Close()

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	// 5. 変更通知の受信。再接続後は取りこぼしを埋めるため全ワークスペースを読み込み直す
	pqListener, err := store.OpenPQListener(cfg.DatabaseURL, cfg.NotifyChannel,
		cfg.ListenerMinReconnect, cfg.ListenerMaxReconnect, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.NotifyChannel, err)
	}
	listener := store.NewListener(pqListener, entryStore, slog.Default(), func() {
		manager.ReloadAll(bgCtx)
	})
	go listener.Run(bgCtx)

	// 6. 失効セッションのワークスペースを定期的に破棄する
	sweeper := worker.NewScheduler(slog.Default(), worker.JobFunc{
		JobName: "workspace_sweep",
		Fn: func(ctx context.Context) error {
			if n := manager.Sweep(ctx, sessionRepo); n > 0 {
				slog.Info("失効したワークスペースを破棄しました", slog.Int("count", n))
			}
			return nil
		},
	})
	go sweeper.Start(bgCtx, cfg.WorkspaceSweepInterval)

	// 7. 認証とハンドラー
	authService := auth.NewService(userRepo, sessionRepo, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})
	adapter := handler.NewWorkspaceAdapter(manager, userRepo)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitImport))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		StrictTransport:   cfg.CookieSecure,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		HealthChecker: db,
		Metrics:       mc,
		Gatherer:      reg,

		AuthService:      authService,
		SessionLifecycle: adapter,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Collections: adapter,
		Sanitizer:   security.NewTextSanitizer(),
		EntryConfig: handler.EntryHandlerConfig{ImportMaxSize: cfg.ImportMaxSize},
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	// SSE接続を先に閉じさせるため、ワークスペースを破棄してからShutdownする
	cancelBackground()
	manager.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの定期削除を、ctxがキャンセルされるまで実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessionRepo := repository.NewPostgresSessionRepo(db)
	scheduler := worker.NewScheduler(slog.Default(),
		cleanup.NewSessionCleanupJob(sessionRepo, slog.Default()),
	)

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	// ctxがキャンセルされるまでブロックする
	scheduler.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なし（または up）で未適用のマイグレーションをすべて適用し、
// "down [N]" で直近N件（既定1件）を戻す。
func runMigrate(cfg *config.Config, args []string) error {
	direction, steps, err := parseMigrateArgs(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("direction", direction),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var version uint
	if direction == "down" {
		version, err = database.RollbackMigrations(cfg.DatabaseURL, steps)
	} else {
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// parseMigrateArgs はmigrateサブコマンドの引数を解釈する。
func parseMigrateArgs(args []string) (string, int, error) {
	if len(args) == 0 || args[0] == "up" {
		return "up", 0, nil
	}
	if args[0] != "down" {
		return "", 0, fmt.Errorf("unknown migrate direction %q", args[0])
	}
	if len(args) < 2 {
		return "down", 1, nil
	}
	steps, err := strconv.Atoi(args[1])
	if err != nil || steps <= 0 {
		return "", 0, fmt.Errorf("invalid migrate steps %q", args[1])
	}
	return "down", steps, nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	u.RawQuery = ""
	return u.String()
}
