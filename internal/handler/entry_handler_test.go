package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/entryboard/internal/middleware"
	"github.com/hitoshi/entryboard/internal/model"
	"github.com/hitoshi/entryboard/internal/sheet"
)

var errFake = errors.New("store unavailable")

func decodeEntry(t *testing.T, w *httptest.ResponseRecorder) entryResponse {
	t.Helper()
	var e entryResponse
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("failed to decode entry: %v (%s)", err, w.Body.String())
	}
	return e
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) entryListResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", w.Code, w.Body.String())
	}
	var l entryListResponse
	if err := json.NewDecoder(w.Body).Decode(&l); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	return l
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error: %v (%s)", err, w.Body.String())
	}
	return body
}

func listIDs(l entryListResponse) []string {
	ids := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		ids[i] = e.ID
	}
	return ids
}

func TestEntryHandler_ListNewestFirstWithEditingFlag(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1), seedEntry("b", "B", 2))

	l := decodeList(t, env.do(http.MethodGet, "/api/entries", nil, ""))

	if got := strings.Join(listIDs(l), ","); got != "b,a" {
		t.Errorf("ids = %s, want b,a", got)
	}
	if l.Count != 2 || l.Total != 2 {
		t.Errorf("count/total = %d/%d", l.Count, l.Total)
	}
	if l.Entries[0].Editing {
		t.Error("rows should not be editing initially")
	}
	if l.Entries[0].CreatedAtDisplay != "2024-05-01 09:02" {
		t.Errorf("created_at_display = %q", l.Entries[0].CreatedAtDisplay)
	}
}

func TestEntryHandler_ListAppliesFilter(t *testing.T) {
	app := seedEntry("a", "검색 개선", 1)
	app.Platforms = []string{model.PlatformApp, model.PlatformWeb}
	web := seedEntry("b", "로그인 오류", 2)
	done := seedEntry("c", "검색 속도", 3)
	done.ReflectionStatus = model.StatusReflected
	env := newTestEnv(t, app, web, done)

	tests := []struct {
		query string
		want  string
	}{
		{"", "c,b,a"},
		{"?q=" + url.QueryEscape("검색"), "c,a"},
		{"?q=KIM", "c,b,a"},
		{"?status=" + url.QueryEscape(model.StatusReflected), "c"},
		{"?platform=APP&platform=Web", "a"},
		{"?platform=APP,Tablet", ""},
		{"?" + url.Values{"q": {"검색"}, "status": {model.StatusNotReflected}}.Encode(), "a"},
	}
	for _, tt := range tests {
		l := decodeList(t, env.do(http.MethodGet, "/api/entries"+tt.query, nil, ""))
		if got := strings.Join(listIDs(l), ","); got != tt.want {
			t.Errorf("query %q: ids = %q, want %q", tt.query, got, tt.want)
		}
		if l.Total != 3 {
			t.Errorf("query %q: total = %d, want 3", tt.query, l.Total)
		}
	}
}

func TestEntryHandler_CreatePrependsWithDefaults(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))

	w := env.do(http.MethodPost, "/api/entries",
		strings.NewReader(`{"item":"  새 항목 ","platform":["APP"," APP",""],"content":"<b>본문</b>"}`), "application/json")

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decodeEntry(t, w)
	if created.Item != "새 항목" {
		t.Errorf("item = %q", created.Item)
	}
	if created.Reflect != model.StatusNotReflected {
		t.Errorf("reflect = %q, want default", created.Reflect)
	}
	if len(created.Platform) != 1 || created.Platform[0] != "APP" {
		t.Errorf("platform = %v", created.Platform)
	}
	if created.Content != "본문" {
		t.Errorf("content = %q, markup should be stripped", created.Content)
	}

	l := decodeList(t, env.do(http.MethodGet, "/api/entries", nil, ""))
	if l.Entries[0].ID != created.ID || l.Count != 2 {
		t.Errorf("created entry should be first: %v", listIDs(l))
	}

	// 自分の書き込みに対する通知が届いても重複しない
	env.store.Sync()
	l = decodeList(t, env.do(http.MethodGet, "/api/entries", nil, ""))
	if l.Count != 2 {
		t.Errorf("count after echo = %d, want 2", l.Count)
	}
}

func TestEntryHandler_CreateEmptyTitle_Returns400WithoutStoreCall(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/entries", strings.NewReader(`{"item":"   "}`), "application/json")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Message != "항목을 입력하세요" {
		t.Errorf("message = %q", body.Message)
	}
	if l := decodeList(t, env.do(http.MethodGet, "/api/entries", nil, "")); l.Total != 0 {
		t.Errorf("total = %d, want 0", l.Total)
	}
}

func TestEntryHandler_CreateStoreFailure_Returns502(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/api/entries", nil, "")
	env.store.FailNext("create", errFake)

	w := env.do(http.MethodPost, "/api/entries", strings.NewReader(`{"item":"x"}`), "application/json")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if body := decodeError(t, w); !strings.HasPrefix(body.Message, "추가 실패") {
		t.Errorf("message = %q", body.Message)
	}
	if l := decodeList(t, env.do(http.MethodGet, "/api/entries", nil, "")); l.Total != 0 {
		t.Errorf("no row should remain after failure, total = %d", l.Total)
	}
}

func TestEntryHandler_EditThenSave(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))

	w := env.do(http.MethodPatch, "/api/entries/a", strings.NewReader(`{"item":"A2","owner":"lee"}`), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", w.Code, w.Body.String())
	}
	if e := decodeEntry(t, w); !e.Editing || e.Item != "A2" {
		t.Errorf("patched = %+v", e)
	}
	if stored, _ := env.store.Get("a"); stored.Title != "A" {
		t.Errorf("store should be untouched before save, got %q", stored.Title)
	}

	w = env.do(http.MethodPost, "/api/entries/a/save", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	saved := decodeEntry(t, w)
	if saved.Editing || saved.Item != "A2" || saved.Owner != "lee" {
		t.Errorf("saved = %+v", saved)
	}
	if stored, _ := env.store.Get("a"); stored.Title != "A2" {
		t.Errorf("store title = %q, want A2", stored.Title)
	}
}

func TestEntryHandler_PatchEmpty_Returns400(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))

	w := env.do(http.MethodPatch, "/api/entries/a", strings.NewReader(`{}`), "application/json")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestEntryHandler_SaveFailureKeepsLocalEdit(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))
	env.do(http.MethodPatch, "/api/entries/a", strings.NewReader(`{"item":"A2"}`), "application/json")
	env.store.FailNext("update", errFake)

	w := env.do(http.MethodPost, "/api/entries/a/save", nil, "")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if body := decodeError(t, w); !strings.HasPrefix(body.Message, "저장 실패") {
		t.Errorf("message = %q", body.Message)
	}
	l := decodeList(t, env.do(http.MethodGet, "/api/entries", nil, ""))
	if l.Entries[0].Item != "A2" || !l.Entries[0].Editing {
		t.Errorf("local edit should remain: %+v", l.Entries[0])
	}
}

func TestEntryHandler_BeginAndCancelEdit(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))

	w := env.do(http.MethodPost, "/api/entries/a/edit", nil, "")
	if w.Code != http.StatusOK || !decodeEntry(t, w).Editing {
		t.Fatalf("edit status = %d", w.Code)
	}
	env.do(http.MethodPatch, "/api/entries/a", strings.NewReader(`{"item":"changed"}`), "application/json")

	w = env.do(http.MethodPost, "/api/entries/a/cancel", nil, "")

	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	restored := decodeEntry(t, w)
	if restored.Item != "A" || restored.Editing {
		t.Errorf("restored = %+v", restored)
	}
}

func TestEntryHandler_Complete(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))

	w := env.do(http.MethodPost, "/api/entries/a/complete", nil, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if e := decodeEntry(t, w); e.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	if stored, _ := env.store.Get("a"); stored.CompletedAt == nil {
		t.Error("store should have completed_at")
	}

	w = env.do(http.MethodPost, "/api/entries/a/complete", nil, "")
	if w.Code != http.StatusConflict {
		t.Errorf("second complete status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestEntryHandler_CompleteFailureReverts(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))
	env.do(http.MethodGet, "/api/entries", nil, "")
	env.store.FailNext("update", errFake)

	w := env.do(http.MethodPost, "/api/entries/a/complete", nil, "")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	l := decodeList(t, env.do(http.MethodGet, "/api/entries", nil, ""))
	if l.Entries[0].CompletedAt != nil {
		t.Error("completed_at should be reverted")
	}
}

func TestEntryHandler_Delete(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1), seedEntry("b", "B", 2))

	w := env.do(http.MethodDelete, "/api/entries/a", nil, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.Join(listIDs(decodeList(t, env.do(http.MethodGet, "/api/entries", nil, ""))), ","); got != "b" {
		t.Errorf("ids = %s, want b", got)
	}

	if w := env.do(http.MethodDelete, "/api/entries/a", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("delete missing status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestEntryHandler_DeleteFailureKeepsRow(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))
	env.do(http.MethodGet, "/api/entries", nil, "")
	env.store.FailNext("delete", errFake)

	w := env.do(http.MethodDelete, "/api/entries/a", nil, "")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if l := decodeList(t, env.do(http.MethodGet, "/api/entries", nil, "")); l.Count != 1 {
		t.Errorf("row should remain, count = %d", l.Count)
	}
}

func TestEntryHandler_SessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))
	env.do(http.MethodPatch, "/api/entries/a", strings.NewReader(`{"item":"local"}`), "application/json")

	l := decodeList(t, env.doAs("s2", http.MethodGet, "/api/entries", nil, ""))

	if l.Entries[0].Item != "A" || l.Entries[0].Editing {
		t.Errorf("unsaved edits must not leak to other sessions: %+v", l.Entries[0])
	}
	if env.manager.Count() != 2 {
		t.Errorf("workspaces = %d, want 2", env.manager.Count())
	}
}

func TestEntryHandler_Export(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1), seedEntry("b", "B", 2))

	w := env.do(http.MethodGet, "/api/entries/export?q=A", nil, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != sheet.ContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "entries_") || !strings.Contains(cd, ".xlsx") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	parsed := sheet.NewImporter().ParseBytes(w.Body.Bytes())
	if len(parsed) != 2 {
		t.Errorf("exported rows = %d, want 2 (filter is not applied)", len(parsed))
	}
}

func TestEntryHandler_ExportEmpty_Returns400(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/entries/export", nil, "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeNothingToExport {
		t.Errorf("code = %q", body.Code)
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestEntryHandler_ImportKeepsFileOrderAtFront(t *testing.T) {
	env := newTestEnv(t, seedEntry("old", "기존", 1))
	file, err := sheet.Export([]model.Entry{
		{Title: "첫째", Platforms: []string{"APP"}, Owner: "kim"},
		{Title: "둘째", Description: "내용"},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	body, ct := multipartBody(t, "file", "entries.xlsx", file)

	w := env.do(http.MethodPost, "/api/entries/import", body, ct)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res struct {
		Imported int `json:"imported"`
		Failed   int `json:"failed"`
	}
	json.NewDecoder(w.Body).Decode(&res)
	if res.Imported != 2 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}

	l := decodeList(t, env.do(http.MethodGet, "/api/entries", nil, ""))
	titles := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		titles[i] = e.Item
	}
	if got := strings.Join(titles, ","); got != "첫째,둘째,기존" {
		t.Errorf("titles = %s", got)
	}
	for _, e := range l.Entries[:2] {
		if strings.HasPrefix(e.ID, sheet.LocalIDPrefix) {
			t.Errorf("imported entry should carry store id, got %q", e.ID)
		}
	}
}

func TestEntryHandler_ImportUnreadableFile_Returns400(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, "file", "broken.xlsx", []byte("not a spreadsheet"))

	w := env.do(http.MethodPost, "/api/entries/import", body, ct)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if e := decodeError(t, w); e.Code != model.ErrCodeNothingToImport {
		t.Errorf("code = %q", e.Code)
	}
}

func TestEntryHandler_ImportMissingFile_Returns400(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, "other", "x.xlsx", []byte("x"))

	w := env.do(http.MethodPost, "/api/entries/import", body, ct)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if e := decodeError(t, w); e.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q", e.Code)
	}
}

func TestEntryHandler_ImportTooLarge_Returns413(t *testing.T) {
	env := newTestEnvWith(t, EntryHandlerConfig{ImportMaxSize: 256})
	body, ct := multipartBody(t, "file", "big.xlsx", bytes.Repeat([]byte("x"), 1024))

	w := env.do(http.MethodPost, "/api/entries/import", body, ct)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEntryHandler_EventsStreamsChanges(t *testing.T) {
	env := newTestEnv(t, seedEntry("a", "A", 1))
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/entries/events", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "s1"})

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	if event, data := readEvent(t, r); event != "ready" || data != `{"count":1}` {
		t.Fatalf("first event = %s %s", event, data)
	}

	ws, ok := env.manager.Get("s1")
	if !ok {
		t.Fatal("workspace should exist")
	}
	ws.Collection.OnDeleteNotification("a")

	event, data := readEvent(t, r)
	if event != "change" {
		t.Fatalf("event = %q", event)
	}
	if !strings.Contains(data, `"outcome":"removed"`) || !strings.Contains(data, `"id":"a"`) {
		t.Errorf("data = %s", data)
	}

	env.manager.Deactivate("s1")
	if event, _ := readEvent(t, r); event != "closed" {
		t.Errorf("event after teardown = %q, want closed", event)
	}
}
