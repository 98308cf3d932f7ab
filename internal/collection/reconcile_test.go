package collection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/entryboard/internal/model"
)

func entry(id, title string) model.Entry {
	return model.Entry{
		ID:        id,
		Title:     title,
		Platforms: []string{},
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func ids(entries []model.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestReconcile_UpsertInsertsAtFront(t *testing.T) {
	got, outcome := Reconcile([]model.Entry{entry("a", "A"), entry("b", "B")}, Upsert(entry("c", "C")))
	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, []string{"c", "a", "b"}, ids(got))
}

func TestReconcile_UpsertIsIdempotent(t *testing.T) {
	start := []model.Entry{entry("a", "A"), entry("b", "B")}
	e := entry("c", "C")

	once, _ := Reconcile(start, Upsert(e))
	twice, outcome := Reconcile(once, Upsert(e))

	assert.Equal(t, OutcomeMerged, outcome)
	assert.Equal(t, once, twice)
}

func TestReconcile_UpsertExistingKeepsPosition(t *testing.T) {
	start := []model.Entry{entry("a", "A"), entry("b", "B"), entry("c", "C")}
	got, outcome := Reconcile(start, Upsert(entry("b", "B2")))

	assert.Equal(t, OutcomeMerged, outcome)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
	assert.Equal(t, "B2", got[1].Title)
}

func TestReconcile_ReplaceUnknownIsIgnored(t *testing.T) {
	start := []model.Entry{entry("a", "A")}
	got, outcome := Reconcile(start, Replace(entry("zz", "Z")))
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, start, got)
}

func TestReconcile_Remove(t *testing.T) {
	start := []model.Entry{entry("a", "A"), entry("b", "B"), entry("c", "C")}

	got, outcome := Reconcile(start, Remove("b"))
	assert.Equal(t, OutcomeRemoved, outcome)
	assert.Equal(t, []string{"a", "c"}, ids(got))

	again, outcome := Reconcile(got, Remove("b"))
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, got, again)
}

func TestReconcile_SnapshotDedupesKeepingStoreOrder(t *testing.T) {
	got, outcome := Reconcile(
		[]model.Entry{entry("old", "O")},
		Snapshot([]model.Entry{entry("b", "B"), entry("a", "A"), entry("b", "B-dup")}),
	)
	assert.Equal(t, OutcomeSnapshot, outcome)
	assert.Equal(t, []string{"b", "a"}, ids(got))
	assert.Equal(t, "B", got[0].Title)
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	start := []model.Entry{entry("a", "A"), entry("b", "B")}
	_, _ = Reconcile(start, Upsert(entry("a", "changed")))
	_, _ = Reconcile(start, Remove("a"))
	assert.Equal(t, "A", start[0].Title)
	assert.Equal(t, []string{"a", "b"}, ids(start))
}

// 自分の作成レスポンスと通知がどの順で何回届いても、そのIDは先頭に1件だけ残る。
func TestReconcile_CreateRaceInterleavings(t *testing.T) {
	existing := []model.Entry{entry("a", "A"), entry("b", "B")}
	created := entry("new", "authoritative")

	sequences := map[string][]Event{
		"response only":              {Upsert(created)},
		"response then notification": {Upsert(created), Upsert(created)},
		"notification then response": {Upsert(created), Upsert(created)},
		"duplicate notifications":    {Upsert(created), Upsert(created), Upsert(created)},
		"update notification first":  {Replace(created), Upsert(created), Upsert(created)},
		"response then update notif": {Upsert(created), Replace(created)},
	}

	for name, events := range sequences {
		t.Run(name, func(t *testing.T) {
			got := existing
			for _, ev := range events {
				got, _ = Reconcile(got, ev)
			}
			require.Len(t, got, 3)
			assert.Equal(t, "new", got[0].ID)
			assert.Equal(t, "authoritative", got[0].Title)
			assert.Equal(t, []string{"new", "a", "b"}, ids(got))
		})
	}
}

func TestReconcile_ReplacePreservesPosition(t *testing.T) {
	start := []model.Entry{entry("a", "A"), entry("b", "B"), entry("c", "C")}
	for i, id := range []string{"a", "b", "c"} {
		updated := entry(id, "updated")
		updated.Owner = "최승훈"
		got, _ := Reconcile(start, Replace(updated))
		assert.Equal(t, []string{"a", "b", "c"}, ids(got))
		assert.Equal(t, "최승훈", got[i].Owner)
	}
}
