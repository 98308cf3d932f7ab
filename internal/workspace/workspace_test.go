package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/entryboard/internal/model"
	"github.com/hitoshi/entryboard/internal/session"
	"github.com/hitoshi/entryboard/internal/store"
)

// fakeChecker はSessionCheckerのテスト用実装。
type fakeChecker struct {
	valid map[string]bool
	err   error
	calls int
}

func (f *fakeChecker) ActiveIDs(_ context.Context, ids []string) (map[string]struct{}, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	active := make(map[string]struct{})
	for _, id := range ids {
		if f.valid[id] {
			active[id] = struct{}{}
		}
	}
	return active, nil
}

func newManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	m := store.NewMemoryStore()
	t.Cleanup(m.Close)
	m.Seed(model.Entry{ID: "a", Title: "A"})
	return NewManager(m, nil, nil), m
}

func TestManager_ActivateLoadsAndReuses(t *testing.T) {
	mgr, m := newManager(t)
	user := session.User{ID: "u1", Email: "u1@example.com"}

	ws, err := mgr.Activate(context.Background(), "s1", user)
	require.NoError(t, err)
	assert.Equal(t, 1, ws.Collection.Len())
	assert.True(t, ws.Signal.Current().IsAuthenticated())

	again, err := mgr.Activate(context.Background(), "s1", user)
	require.NoError(t, err)
	assert.Same(t, ws, again)
	assert.Equal(t, 1, mgr.Count())
	assert.Equal(t, 1, m.Subscribers())
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	mgr, m := newManager(t)
	ws1, err := mgr.Activate(context.Background(), "s1", session.User{ID: "u1"})
	require.NoError(t, err)
	ws2, err := mgr.Activate(context.Background(), "s2", session.User{ID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Subscribers())

	title := "edited in s1"
	_, err = ws1.Collection.LocalUpdate("a", model.Patch{Title: &title})
	require.NoError(t, err)

	got, _ := ws2.Collection.Get("a")
	assert.Equal(t, "A", got.Title)

	created, err := ws1.Collection.LocalCreate(context.Background(), model.Fields{Item: "shared"})
	require.NoError(t, err)
	m.Sync()
	_, ok := ws2.Collection.Get(created.ID)
	assert.True(t, ok, "other session should receive the insert notification")
}

func TestManager_ActivateFailureIsNotRegistered(t *testing.T) {
	mgr, m := newManager(t)
	m.FailNext("list", errors.New("db down"))

	_, err := mgr.Activate(context.Background(), "s1", session.User{ID: "u1"})

	require.Error(t, err)
	assert.True(t, model.HasCode(err, model.ErrCodeRemoteRead))
	assert.Equal(t, 0, mgr.Count())
	assert.Equal(t, 0, m.Subscribers())

	ws, err := mgr.Activate(context.Background(), "s1", session.User{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, ws.Collection.Len())
}

func TestManager_DeactivateTearsDown(t *testing.T) {
	mgr, m := newManager(t)
	ws, err := mgr.Activate(context.Background(), "s1", session.User{ID: "u1"})
	require.NoError(t, err)

	mgr.Deactivate("s1")
	mgr.Deactivate("s1")

	assert.Equal(t, 0, mgr.Count())
	assert.Equal(t, 0, m.Subscribers())
	assert.False(t, ws.Collection.Active())
	assert.Equal(t, session.PhaseUnauthenticated, ws.Signal.Current().Phase)
}

func TestManager_SweepRemovesExpiredSessions(t *testing.T) {
	mgr, _ := newManager(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := mgr.Activate(context.Background(), id, session.User{ID: "u-" + id})
		require.NoError(t, err)
	}

	checker := &fakeChecker{valid: map[string]bool{"s2": true}}
	removed := mgr.Sweep(context.Background(), checker)

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, checker.calls)
	_, ok := mgr.Get("s2")
	assert.True(t, ok)
	assert.Equal(t, 1, mgr.Count())
}

func TestManager_SweepKeepsSessionsOnLookupError(t *testing.T) {
	mgr, _ := newManager(t)
	_, err := mgr.Activate(context.Background(), "s1", session.User{ID: "u1"})
	require.NoError(t, err)

	removed := mgr.Sweep(context.Background(), &fakeChecker{err: errors.New("db down")})

	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, mgr.Count())
}

func TestManager_SweepWithoutWorkspacesSkipsLookup(t *testing.T) {
	mgr, _ := newManager(t)
	checker := &fakeChecker{}

	assert.Equal(t, 0, mgr.Sweep(context.Background(), checker))
	assert.Equal(t, 0, checker.calls)
}

func TestManager_ReloadAllPicksUpMissedChanges(t *testing.T) {
	mgr, m := newManager(t)
	ws, err := mgr.Activate(context.Background(), "s1", session.User{ID: "u1"})
	require.NoError(t, err)

	m.Mute(true)
	_, err = m.Create(context.Background(), model.Fields{Item: "missed"})
	require.NoError(t, err)
	assert.Equal(t, 1, ws.Collection.Len())

	mgr.ReloadAll(context.Background())

	assert.Equal(t, 2, ws.Collection.Len())
	assert.Equal(t, 1, m.Subscribers())
}

func TestManager_CloseDeactivatesAll(t *testing.T) {
	mgr, m := newManager(t)
	_, err := mgr.Activate(context.Background(), "s1", session.User{ID: "u1"})
	require.NoError(t, err)
	_, err = mgr.Activate(context.Background(), "s2", session.User{ID: "u2"})
	require.NoError(t, err)

	mgr.Close()

	assert.Equal(t, 0, mgr.Count())
	assert.Equal(t, 0, m.Subscribers())
}

func TestManager_ReloadAfterDeactivateDoesNotResubscribe(t *testing.T) {
	mgr, m := newManager(t)
	ws, err := mgr.Activate(context.Background(), "s1", session.User{ID: "u1"})
	require.NoError(t, err)

	mgr.Deactivate("s1")
	mgr.ReloadAll(context.Background())
	require.NoError(t, ws.Collection.Reload(context.Background()))

	assert.False(t, ws.Collection.Active())
	assert.Equal(t, 0, mgr.Count())
	assert.Equal(t, 0, m.Subscribers())
}

func TestManager_ConcurrentActivateBuildsOneWorkspace(t *testing.T) {
	mgr, m := newManager(t)
	user := session.User{ID: "u1"}

	const n = 8
	results := make([]*Workspace, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := mgr.Activate(context.Background(), "s1", user)
			assert.NoError(t, err)
			results[i] = ws
		}(i)
	}
	wg.Wait()

	for _, ws := range results[1:] {
		assert.Same(t, results[0], ws)
	}
	assert.Equal(t, 1, mgr.Count())
	assert.Equal(t, 1, m.Subscribers())
	assert.Empty(t, mgr.activating)
}
