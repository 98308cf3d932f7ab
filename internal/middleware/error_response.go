package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/entryboard/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// Retryableはリモートストア障害やレート制限など、同じ操作を再試行できる場合にtrueになる。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	Retryable bool   `json:"retryable"`
}

// StatusFor はエラーコードに対応するHTTPステータスを返す。
func StatusFor(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidRequest,
		model.ErrCodeNothingToExport, model.ErrCodeNothingToImport:
		return http.StatusBadRequest
	case model.ErrCodeAuthFailed, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeEntryNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyCompleted, model.ErrCodeWorkspaceInactive:
		return http.StatusConflict
	case model.ErrCodeImportTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeRemoteWrite:
		return http.StatusBadGateway
	case model.ErrCodeRemoteRead:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func retryable(code string) bool {
	switch code {
	case model.ErrCodeRemoteWrite, model.ErrCodeRemoteRead, model.ErrCodeRateLimited:
		return true
	}
	return false
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// Causeはレスポンスに含めない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		Retryable: retryable(apiErr.Code),
	})
}

// WriteError はerrをレスポンスに変換する。
// APIErrorはコードからステータスを決め、それ以外はログに記録して500を返す。
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusFor(apiErr), apiErr)
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("internal server error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
