package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（ユーザー向け）
	Category string // カテゴリ: auth, validation, entry, import, system
	Action   string // ユーザー向け対処方法
	Cause    error  // 下位層のエラー。レスポンスには含めない
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は下位層のエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeEntryNotFound     = "ENTRY_NOT_FOUND"
	ErrCodeAlreadyCompleted  = "ALREADY_COMPLETED"
	ErrCodeRemoteWrite       = "REMOTE_WRITE_FAILED"
	ErrCodeRemoteRead        = "REMOTE_READ_FAILED"
	ErrCodeNothingToExport   = "NOTHING_TO_EXPORT"
	ErrCodeNothingToImport   = "NOTHING_TO_IMPORT"
	ErrCodeImportTooLarge    = "IMPORT_TOO_LARGE"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeWorkspaceInactive = "WORKSPACE_INACTIVE"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// 書き込み操作の種別。RemoteWriteErrorのメッセージ切り替えに使う。
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpComplete = "complete"
	OpDelete   = "delete"
)

// NewValidationError は必須項目が空の場合のエラーを生成する。
// ネットワーク呼び出し前に返され、状態は変更されない。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "입력값을 확인하세요.",
	}
}

// NewEmptyTitleError は項目（タイトル）未入力エラーを生成する。
func NewEmptyTitleError() *APIError {
	return NewValidationError("항목을 입력하세요")
}

// NewEntryNotFoundError はエントリ未検出エラーを生成する。
func NewEntryNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("항목을 찾을 수 없습니다: %s", id),
		Category: "entry",
		Action:   "목록을 새로고침하세요.",
	}
}

// NewAlreadyCompletedError は完了済みエントリを再度完了しようとした場合のエラーを生成する。
func NewAlreadyCompletedError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyCompleted,
		Message:  fmt.Sprintf("이미 완료된 항목입니다: %s", id),
		Category: "entry",
		Action:   "완료되지 않은 항목에만 사용할 수 있습니다.",
	}
}

// NewRemoteWriteError はストアが書き込みを拒否した場合のエラーを生成する。
// opには OpCreate / OpUpdate / OpComplete / OpDelete を指定する。
func NewRemoteWriteError(op string, cause error) *APIError {
	msg := "저장 실패"
	switch op {
	case OpCreate:
		msg = "추가 실패"
	case OpDelete:
		msg = "삭제 실패"
	case OpComplete:
		msg = "완료 처리 실패"
	}
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}
	return &APIError{
		Code:     ErrCodeRemoteWrite,
		Message:  msg,
		Category: "entry",
		Action:   "잠시 후 다시 시도하세요.",
		Cause:    cause,
	}
}

// NewRemoteReadError は初期一覧の取得に失敗した場合のエラーを生成する。
func NewRemoteReadError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteRead,
		Message:  "목록을 불러오지 못했습니다.",
		Category: "system",
		Action:   "다시 로그인하거나 페이지를 새로고침하세요.",
		Cause:    cause,
	}
}

// NewNothingToExportError はエクスポート対象が0件の場合のエラーを生成する。
func NewNothingToExportError() *APIError {
	return &APIError{
		Code:     ErrCodeNothingToExport,
		Message:  "내보낼 데이터가 없습니다.",
		Category: "import",
		Action:   "항목을 추가한 뒤 다시 시도하세요.",
	}
}

// NewNothingToImportError はインポート可能な行が0件の場合のエラーを生成する。
func NewNothingToImportError() *APIError {
	return &APIError{
		Code:     ErrCodeNothingToImport,
		Message:  "가져올 데이터가 없습니다.",
		Category: "import",
		Action:   "첫 번째 시트의 머리글(반영 여부, 항목, 플랫폼, 내용, 담당자)을 확인하세요.",
	}
}

// NewImportTooLargeError はアップロードファイルが上限を超えた場合のエラーを生成する。
func NewImportTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodeImportTooLarge,
		Message:  fmt.Sprintf("파일이 너무 큽니다 (최대 %d바이트).", limit),
		Category: "import",
		Action:   "파일을 나누어 가져오세요.",
	}
}

// NewAuthFailedError は認証エラーを生成する。メッセージはそのままユーザーに表示する。
func NewAuthFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  message,
		Category: "auth",
		Action:   "이메일과 비밀번호를 확인하세요.",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "로그인이 필요합니다.",
		Category: "auth",
		Action:   "로그인하세요.",
	}
}

// NewWorkspaceInactiveError はセッションが有効化されていない状態での操作エラーを生成する。
func NewWorkspaceInactiveError() *APIError {
	return &APIError{
		Code:     ErrCodeWorkspaceInactive,
		Message:  "세션이 활성화되지 않았습니다.",
		Category: "auth",
		Action:   "다시 로그인하세요.",
	}
}

// NewInvalidRequestError はリクエスト形式の誤りを表すエラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "요청 형식을 확인하세요.",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "요청이 너무 많습니다.",
		Category: "system",
		Action:   "잠시 후 다시 시도하세요.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "내부 오류가 발생했습니다.",
		Category: "system",
		Action:   "잠시 후 다시 시도하세요.",
	}
}

// HasCode はエラーチェーン中のAPIErrorが指定コードを持つかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
