// Package collection はエントリのインメモリ集合（Reconciling Collection）を提供する。
//
// ローカル操作の結果、ストアからのレスポンス、非同期の変更通知は
// すべてReconcileを通してIDをキーに冪等にマージされる。
package collection

import (
	"github.com/hitoshi/entryboard/internal/model"
)

// EventKind はReconcileに渡すイベントの種別。
type EventKind int

const (
	// EventSnapshot は集合全体をストアの並び順で置き換える。
	EventSnapshot EventKind = iota
	// EventUpsert は同一IDがあれば位置を保ったまま上書きし、なければ先頭に挿入する。
	EventUpsert
	// EventReplace は同一IDがある場合のみ上書きする。
	EventReplace
	// EventRemove は同一IDを取り除く。
	EventRemove
)

// Event はReconcileの入力。
type Event struct {
	Kind    EventKind
	Entry   model.Entry   // Upsert, Replace
	Entries []model.Entry // Snapshot
	ID      string        // Remove
}

// Snapshot はSnapshotイベントを生成する。
func Snapshot(entries []model.Entry) Event {
	return Event{Kind: EventSnapshot, Entries: entries}
}

// Upsert はUpsertイベントを生成する。
func Upsert(e model.Entry) Event {
	return Event{Kind: EventUpsert, Entry: e}
}

// Replace はReplaceイベントを生成する。
func Replace(e model.Entry) Event {
	return Event{Kind: EventReplace, Entry: e}
}

// Remove はRemoveイベントを生成する。
func Remove(id string) Event {
	return Event{Kind: EventRemove, ID: id}
}

// Outcome はReconcileが集合に与えた影響。
type Outcome string

const (
	OutcomeSnapshot Outcome = "snapshot"
	OutcomeInserted Outcome = "inserted"
	OutcomeMerged   Outcome = "merged"
	OutcomeReplaced Outcome = "replaced"
	OutcomeRemoved  Outcome = "removed"
	OutcomeIgnored  Outcome = "ignored"
)

// Reconcile はeventを適用した新しいスライスを返す。入力スライスは変更しない。
// 同じイベントを2回適用しても結果は1回適用した場合と同じになる。
func Reconcile(entries []model.Entry, ev Event) ([]model.Entry, Outcome) {
	switch ev.Kind {
	case EventSnapshot:
		return dedupe(ev.Entries), OutcomeSnapshot

	case EventUpsert:
		if i := indexOf(entries, ev.Entry.ID); i >= 0 {
			out := clone(entries)
			out[i] = ev.Entry.Clone()
			return out, OutcomeMerged
		}
		out := make([]model.Entry, 0, len(entries)+1)
		out = append(out, ev.Entry.Clone())
		out = append(out, entries...)
		return out, OutcomeInserted

	case EventReplace:
		i := indexOf(entries, ev.Entry.ID)
		if i < 0 {
			return entries, OutcomeIgnored
		}
		out := clone(entries)
		out[i] = ev.Entry.Clone()
		return out, OutcomeReplaced

	case EventRemove:
		i := indexOf(entries, ev.ID)
		if i < 0 {
			return entries, OutcomeIgnored
		}
		out := make([]model.Entry, 0, len(entries)-1)
		out = append(out, entries[:i]...)
		out = append(out, entries[i+1:]...)
		return out, OutcomeRemoved
	}
	return entries, OutcomeIgnored
}

// EventID はイベントが対象とするエントリIDを返す。Snapshotは空文字列。
func (ev Event) EventID() string {
	switch ev.Kind {
	case EventUpsert, EventReplace:
		return ev.Entry.ID
	case EventRemove:
		return ev.ID
	}
	return ""
}

func indexOf(entries []model.Entry, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(entries []model.Entry) []model.Entry {
	out := make([]model.Entry, len(entries))
	copy(out, entries)
	return out
}

// dedupe は並び順を保ったまま重複IDを最初の出現だけ残す。
func dedupe(entries []model.Entry) []model.Entry {
	out := make([]model.Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e.Clone())
	}
	return out
}
