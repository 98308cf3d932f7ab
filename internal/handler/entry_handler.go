package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/entryboard/internal/collection"
	"github.com/hitoshi/entryboard/internal/metrics"
	"github.com/hitoshi/entryboard/internal/middleware"
	"github.com/hitoshi/entryboard/internal/model"
	"github.com/hitoshi/entryboard/internal/security"
	"github.com/hitoshi/entryboard/internal/sheet"
	"github.com/hitoshi/entryboard/internal/view"
)

const (
	// importFormField は取り込みファイルのmultipartフィールド名。
	importFormField = "file"
	// eventsHeartbeat はSSE接続を維持するためのコメント送信間隔。
	eventsHeartbeat = 25 * time.Second
)

// CollectionResolver はリクエストのセッションに対応するCollectionを返す。
type CollectionResolver interface {
	Resolve(ctx context.Context, sessionID, userID string) (*collection.Collection, error)
}

// EntryHandlerConfig はエントリハンドラーの設定。
type EntryHandlerConfig struct {
	ImportMaxSize int64 // 取り込みファイルの最大サイズ（バイト）
}

// EntryHandler はエントリ管理のHTTPハンドラー。
type EntryHandler struct {
	resolver  CollectionResolver
	sanitizer security.TextSanitizer
	importer  *sheet.Importer
	metrics   metrics.MetricsCollector
	config    EntryHandlerConfig
	now       func() time.Time
}

// NewEntryHandler はEntryHandlerを生成する。
func NewEntryHandler(
	resolver CollectionResolver,
	sanitizer security.TextSanitizer,
	mc metrics.MetricsCollector,
	config EntryHandlerConfig,
) *EntryHandler {
	if config.ImportMaxSize <= 0 {
		config.ImportMaxSize = 10 << 20
	}
	return &EntryHandler{
		resolver:  resolver,
		sanitizer: sanitizer,
		importer:  sheet.NewImporter(),
		metrics:   metrics.OrNop(mc),
		config:    config,
		now:       time.Now,
	}
}

// --- リクエスト・レスポンス型 ---

// entryResponse はエントリ1件のレスポンス。editingは表示時にのみ結合する。
type entryResponse struct {
	ID               string     `json:"id"`
	Reflect          string     `json:"reflect"`
	Item             string     `json:"item"`
	Platform         []string   `json:"platform"`
	Content          string     `json:"content"`
	Owner            string     `json:"owner"`
	CreatedAt        time.Time  `json:"created_at"`
	CreatedAtDisplay string     `json:"created_at_display"`
	CompletedAt      *time.Time `json:"completed_at"`
	Editing          bool       `json:"editing"`
}

// entryListResponse はフィルタ適用後の一覧レスポンス。
type entryListResponse struct {
	Entries []entryResponse `json:"entries"`
	Count   int             `json:"count"`
	Total   int             `json:"total"`
}

// createEntryRequest はエントリ作成リクエストのボディ。
type createEntryRequest struct {
	Reflect  string   `json:"reflect"`
	Item     string   `json:"item"`
	Platform []string `json:"platform"`
	Content  string   `json:"content"`
	Owner    string   `json:"owner"`
}

func toEntryResponse(e model.Entry, editing bool) entryResponse {
	platforms := e.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	return entryResponse{
		ID:               e.ID,
		Reflect:          e.ReflectionStatus,
		Item:             e.Title,
		Platform:         platforms,
		Content:          e.Description,
		Owner:            e.Owner,
		CreatedAt:        e.CreatedAt,
		CreatedAtDisplay: model.FormatDisplayTime(e.CreatedAt),
		CompletedAt:      e.CompletedAt,
		Editing:          editing,
	}
}

// collectionFor はリクエストのセッションに対応するCollectionを返す。
// 失敗時はエラーレスポンスを書き込みnilを返す。
func (h *EntryHandler) collectionFor(w http.ResponseWriter, r *http.Request) *collection.Collection {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil
	}
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil
	}

	col, err := h.resolver.Resolve(r.Context(), sessionID, userID)
	if err != nil {
		handleServiceError(w, err)
		return nil
	}
	return col
}

// writeEntry は1件のエントリを編集中フラグ付きで返す。
func writeEntry(w http.ResponseWriter, col *collection.Collection, status int, e model.Entry) {
	editing := false
	for _, row := range col.Rows() {
		if row.Entry.ID == e.ID {
			editing = row.Editing
			break
		}
	}
	writeJSON(w, status, toEntryResponse(e, editing))
}

// ListEntries はフィルタ適用後のエントリ一覧を返す。
// GET /api/entries?q=&status=&platform=APP&platform=Web
func (h *EntryHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	filter := view.FromQuery(r.URL.Query())
	rows := col.Rows()

	resp := entryListResponse{Entries: make([]entryResponse, 0, len(rows)), Total: len(rows)}
	for _, row := range rows {
		if filter.Match(row.Entry) {
			resp.Entries = append(resp.Entries, toEntryResponse(row.Entry, row.Editing))
		}
	}
	resp.Count = len(resp.Entries)

	writeJSON(w, http.StatusOK, resp)
}

// CreateEntry はエントリを作成する。
// POST /api/entries
func (h *EntryHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	var req createEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sanitized := h.sanitizer.SanitizeEntry(model.Entry{
		ReflectionStatus: req.Reflect,
		Title:            req.Item,
		Platforms:        req.Platform,
		Description:      req.Content,
		Owner:            req.Owner,
	})

	created, err := col.LocalCreate(r.Context(), model.ToWritePayload(sanitized))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryResponse(created, false))
}

// UpdateEntry はローカルの値だけを部分更新し、行を編集中にする。
// PATCH /api/entries/{id}
func (h *EntryHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	var patch model.Patch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if patch.IsEmpty() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("변경할 항목이 없습니다."))
		return
	}

	updated, err := col.LocalUpdate(chi.URLParam(r, "id"), h.sanitizer.SanitizePatch(patch))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryResponse(updated, true))
}

// BeginEdit は行を編集中にする。
// POST /api/entries/{id}/edit
func (h *EntryHandler) BeginEdit(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	id := chi.URLParam(r, "id")
	if err := col.BeginEdit(id); err != nil {
		handleServiceError(w, err)
		return
	}
	e, _ := col.Get(id)
	writeJSON(w, http.StatusOK, toEntryResponse(e, true))
}

// CancelEdit は未保存の編集を破棄する。
// POST /api/entries/{id}/cancel
func (h *EntryHandler) CancelEdit(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	restored, err := col.CancelEdit(chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(restored, false))
}

// SaveEntry はローカルの値をストアに書き込む。
// POST /api/entries/{id}/save
func (h *EntryHandler) SaveEntry(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	saved, err := col.Save(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeEntry(w, col, http.StatusOK, saved)
}

// CompleteEntry は完了日時を設定する。
// POST /api/entries/{id}/complete
func (h *EntryHandler) CompleteEntry(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	completed, err := col.LocalComplete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if current, ok := col.Get(completed.ID); ok {
		completed = current
	}
	writeEntry(w, col, http.StatusOK, completed)
}

// DeleteEntry はエントリを削除する。確認はクライアント側で行う。
// DELETE /api/entries/{id}
func (h *EntryHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	if err := col.LocalDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportEntries は現在の集合をxlsxとしてダウンロードさせる。フィルタは適用しない。
// GET /api/entries/export
func (h *EntryHandler) ExportEntries(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	entries := col.Entries()
	body, err := sheet.Export(entries)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordExport(len(entries))

	w.Header().Set("Content-Type", sheet.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sheet.FileName(h.now())))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// ImportEntries はアップロードされたxlsxを取り込む。
// POST /api/entries/import (multipart/form-data, field "file")
func (h *EntryHandler) ImportEntries(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	if r.ContentLength > h.config.ImportMaxSize {
		handleServiceError(w, model.NewImportTooLargeError(h.config.ImportMaxSize))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.config.ImportMaxSize)
	file, _, err := r.FormFile(importFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handleServiceError(w, model.NewImportTooLargeError(h.config.ImportMaxSize))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("업로드할 파일을 선택하세요."))
		return
	}
	defer file.Close()

	entries, err := h.importer.Decode(file)
	if err != nil {
		// 開けないファイルは空として扱う
		slog.Warn("failed to decode spreadsheet", slog.String("error", err.Error()))
	}
	for i := range entries {
		entries[i] = h.sanitizer.SanitizeEntry(entries[i])
	}

	res, err := col.Import(r.Context(), entries)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Events は集合の変更をServer-Sent Eventsで通知する。
// GET /api/entries/events
func (h *EntryHandler) Events(w http.ResponseWriter, r *http.Request) {
	col := h.collectionFor(w, r)
	if col == nil {
		return
	}

	rc := http.NewResponseController(w)
	// サーバーのWriteTimeoutを無効化する。未対応のWriterでは無視する
	_ = rc.SetWriteDeadline(time.Time{})

	changes, cancel := col.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: ready\ndata: {\"count\":%d}\n\n", col.Len())
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(eventsHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
		case ch, ok := <-changes:
			if !ok {
				// Teardownされた。クライアントは再接続時に401かデータを受け取る
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				rc.Flush()
				return
			}
			data, err := json.Marshal(ch)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
