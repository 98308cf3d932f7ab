// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/entryboard/internal/middleware"
	"github.com/hitoshi/entryboard/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	SignOut(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// SessionLifecycle はログインセッションとワークスペースの対応を管理する。
// サインインで開始し、サインアウトで終了する。
type SessionLifecycle interface {
	Start(ctx context.Context, sessionID string, user *model.User) error
	End(sessionID string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はメールアドレスとパスワードによる認証のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	lifecycle SessionLifecycle
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。lifecycleがnilの場合はワークスペースを管理しない。
func NewAuthHandler(service AuthServiceInterface, lifecycle SessionLifecycle, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		lifecycle: lifecycle,
		config:    config,
	}
}

// credentialsRequest はサインアップ・サインインのリクエストボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はログインユーザーのレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignUp はユーザーを登録してログイン状態にする。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, h.service.SignUp, http.StatusCreated)
}

// SignIn はメールアドレスとパスワードでログインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, h.service.SignIn, http.StatusOK)
}

type authenticateFunc func(ctx context.Context, email, password string) (*model.Session, *model.User, error)

func (h *AuthHandler) authenticate(w http.ResponseWriter, r *http.Request, fn authenticateFunc, status int) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, user, err := fn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID, h.config.SessionMaxAge)

	// 初期読み込みの失敗はログのみ。次のAPI呼び出しで再試行される
	if h.lifecycle != nil {
		if err := h.lifecycle.Start(r.Context(), session.ID, user); err != nil {
			slog.Warn("failed to start workspace",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, status, map[string]any{
		"user": userResponse{ID: user.ID, Email: user.Email},
	})
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if h.lifecycle != nil {
			h.lifecycle.End(cookie.Value)
		}
		if err := h.service.SignOut(r.Context(), cookie.Value); err != nil {
			slog.Error("failed to sign out", slog.String("error", err.Error()))
			// 失敗してもCookieはクリアする
		}
	}

	h.setSessionCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Email: user.Email})
}

// setSessionCookie はHTTP OnlyのセッションCookieを設定する。maxAgeが負の場合は削除する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
