package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/entryboard/internal/middleware"
	"github.com/hitoshi/entryboard/internal/model"
)

// handleServiceError はサービス層から返されたエラーをレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, slog.Default(), err)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをデコードする。失敗時はエラーレスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("요청 본문을 해석할 수 없습니다."))
		return false
	}
	return true
}
