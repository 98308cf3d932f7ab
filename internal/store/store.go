// Package store はエントリの永続化と変更通知（Remote Entry Store）を提供する。
//
// 通知コールバックは書き込み呼び出しとは非同期に、順序保証なしで発火する。
// 自分自身の書き込みがレスポンスより先に通知として届くこともある。
package store

import (
	"context"
	"errors"

	"github.com/hitoshi/entryboard/internal/model"
)

// ErrNotFound は指定IDのエントリが存在しないことを表す。
var ErrNotFound = errors.New("entry not found")

// Handlers は変更通知のコールバック群。nilのコールバックは無視される。
type Handlers struct {
	OnInsert func(model.Entry)
	OnUpdate func(model.Entry)
	OnDelete func(id string)
}

// Unsubscribe は購読を解除する。複数回呼んでも解除は1回だけ行われる。
type Unsubscribe func()

// EntryStore はエントリストアのインターフェース。
type EntryStore interface {
	// List は全エントリをcreated_at降順で返す。
	List(ctx context.Context) ([]model.Entry, error)
	// Create はエントリを作成する。idとcreated_atはストアが採番する。
	Create(ctx context.Context, fields model.Fields) (model.Entry, error)
	// Update は指定IDのエントリを上書きし、更新後の値を返す。
	// 存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, id string, fields model.Fields) (model.Entry, error)
	// Delete は指定IDのエントリを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error
	// Subscribe は変更通知の購読を開始する。
	Subscribe(h Handlers) (Unsubscribe, error)
}

// ChangeType は変更通知の種別。
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change は1件の変更通知を表す。DELETEの場合はIDのみ有効。
type Change struct {
	Type  ChangeType
	Entry model.Entry
	ID    string
}
