package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitImport  int

	// Import
	ImportMaxSize int64

	// Change notifications
	NotifyChannel        string
	ListenerMinReconnect time.Duration
	ListenerMaxReconnect time.Duration

	// Workspace
	WorkspaceSweepInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// source は設定値の取得元。環境変数を優先し、なければ設定ファイルの値を使う。
type source map[string]string

func (s source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s[key]
}

// Load は環境変数（とCONFIG_FILEで指定されたYAMLファイル）からConfigを読み込む。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := loadFromFile(path)
		if err != nil {
			return nil, err
		}
		src = values
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = src.get("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = src.get("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt(src, "SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration(src, "SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt(src, "RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitImport = getEnvInt(src, "RATE_LIMIT_IMPORT", 10)
	cfg.ImportMaxSize = getEnvInt64(src, "IMPORT_MAX_SIZE", 10485760)
	cfg.NotifyChannel = getEnvString(src, "NOTIFY_CHANNEL", "entries_changes")
	cfg.ListenerMinReconnect = getEnvDuration(src, "LISTENER_MIN_RECONNECT", 10*time.Second)
	cfg.ListenerMaxReconnect = getEnvDuration(src, "LISTENER_MAX_RECONNECT", time.Minute)
	cfg.WorkspaceSweepInterval = getEnvDuration(src, "WORKSPACE_SWEEP_INTERVAL", 5*time.Minute)
	cfg.LogLevel = strings.ToLower(getEnvString(src, "LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString(src, "SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString(src, "COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString(src, "CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// loadFromFile は環境変数名をキーとするYAMLファイルを読み込む。
func loadFromFile(path string) (source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	src := make(source, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		src[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return src, nil
}

func getEnvString(src source, key, defaultVal string) string {
	if v := src.get(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(src source, key string, defaultVal int) int {
	v := src.get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(src source, key string, defaultVal int64) int64 {
	v := src.get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(src source, key string, defaultVal time.Duration) time.Duration {
	v := src.get(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
